package ebird

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/rion/birdsong-go/internal/errors"
	"github.com/rion/birdsong-go/internal/retry"
)

// scrapeIdentification fetches the species page and pulls the
// identification blurb out of it. The page layout is not an API, so the
// extraction is deliberately forgiving: the first paragraph inside an
// identification-marked element wins, with the meta description as a
// fallback.
func (c *Client) scrapeIdentification(ctx context.Context, pageURL string) (string, error) {
	body, err := retry.Do(ctx, "ebird-species-page", c.retryCfg, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, pageURL, false)
	})
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", errors.Newf("failed to parse species page: %v", err).
			Category(errors.CategoryFileParsing).
			Component("ebird").
			Build()
	}

	if text := findIdentificationText(doc); text != "" {
		return text, nil
	}
	if text := findMetaDescription(doc); text != "" {
		return text, nil
	}
	return "", errors.Newf("no identification text on page").
		Category(errors.CategoryNotFound).
		Component("ebird").
		Build()
}

// findIdentificationText walks the tree looking for an element whose id
// or class mentions identification and returns its first paragraph.
func findIdentificationText(n *html.Node) string {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if (attr.Key == "id" || attr.Key == "class") &&
				strings.Contains(strings.ToLower(attr.Val), "identification") {
				if text := firstParagraphText(n); text != "" {
					return text
				}
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if text := findIdentificationText(child); text != "" {
			return text
		}
	}
	return ""
}

func firstParagraphText(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "p" {
		if text := strings.TrimSpace(nodeText(n)); text != "" {
			return text
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if text := firstParagraphText(child); text != "" {
			return text
		}
	}
	return ""
}

func findMetaDescription(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var name, content string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "name":
				name = attr.Val
			case "content":
				content = attr.Val
			}
		}
		if name == "description" {
			return strings.TrimSpace(content)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if text := findMetaDescription(child); text != "" {
			return text
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(nodeText(child))
	}
	return sb.String()
}
