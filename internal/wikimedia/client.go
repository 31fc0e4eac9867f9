// Package wikimedia fetches species page summaries from Wikipedia and
// license-attributed images from Wikimedia Commons.
package wikimedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"golang.org/x/time/rate"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
	"github.com/rion/birdsong-go/internal/retry"
)

const (
	defaultSummaryBaseURL = "https://en.wikipedia.org/api/rest_v1"
	commonsAPIURL         = "https://commons.wikimedia.org/w/api.php"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetLogger replaces the package logger, called once the logging system
// is initialized.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Summary is a normalized Wikipedia page summary.
type Summary struct {
	Title   string
	Extract string
	PageURL string
}

// Media is a normalized Commons image with attribution.
type Media struct {
	FileName string
	ImageURL string
	ThumbURL string
	License  string
	Author   string
}

// Client talks to the Wikipedia REST API and the Commons action API.
type Client struct {
	summaryBaseURL string
	commonsURL     string
	httpClient     *http.Client
	limiter        *rate.Limiter
	retryCfg       retry.Config
}

// New builds a client from the provider settings.
func New(settings *conf.Settings) *Client {
	ps := settings.Enrichment.Wikimedia
	baseURL := ps.Endpoint
	if baseURL == "" {
		baseURL = defaultSummaryBaseURL
	}
	timeout := time.Duration(ps.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := ps.RateLimit
	if rps <= 0 {
		rps = 2.0
	}
	cfg := retry.DefaultConfig()
	if r := settings.Enrichment.Retry; r.Attempts > 0 {
		cfg.Attempts = r.Attempts
		cfg.BaseDelay = time.Duration(r.BaseDelay * float64(time.Second))
		cfg.MaxDelay = time.Duration(r.MaxDelay * float64(time.Second))
		cfg.Jitter = r.Jitter
	}
	return &Client{
		summaryBaseURL: baseURL,
		commonsURL:     commonsAPIURL,
		httpClient:     &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		retryCfg:       cfg,
	}
}

// SetCommonsURL overrides the Commons API endpoint, used by tests.
func (c *Client) SetCommonsURL(u string) { c.commonsURL = u }

// summaryPayload is the Wikipedia REST summary response.
type summaryPayload struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
	Type string `json:"type"`
}

// Summary fetches the page summary for a title. A missing page is a
// not-found error, never a transport failure. Decoding happens inside
// the retry loop so a truncated or malformed body is retried like a
// transient transport failure.
func (c *Client) Summary(ctx context.Context, title string) (*Summary, error) {
	reqID := uuid.New().String()
	summaryURL := fmt.Sprintf("%s/page/summary/%s",
		c.summaryBaseURL, url.PathEscape(strings.ReplaceAll(title, " ", "_")))

	payload, err := retry.Do(ctx, "wikipedia-summary", c.retryCfg, func(ctx context.Context) (*summaryPayload, error) {
		body, err := c.get(ctx, summaryURL)
		if err != nil {
			return nil, err
		}
		var p summaryPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.Newf("failed to decode summary response: %v", err).
				Category(errors.CategoryNetwork).
				Component("wikimedia").
				Context("title", title).
				Build()
		}
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	if payload.Extract == "" || payload.Type == "disambiguation" {
		return nil, errors.Newf("no usable summary for %q", title).
			Category(errors.CategoryNotFound).
			Component("wikimedia").
			Build()
	}
	logger.Debug("summary fetched", "request_id", reqID, "title", title,
		"extract_len", len(payload.Extract))
	return &Summary{
		Title:   payload.Title,
		Extract: payload.Extract,
		PageURL: payload.ContentURLs.Desktop.Page,
	}, nil
}

// Media searches Commons for an image matching the title and resolves its
// URL, license and author. An empty search result is a not-found error.
func (c *Client) Media(ctx context.Context, title string) (*Media, error) {
	reqID := uuid.New().String()
	fileName, err := c.searchFile(ctx, title)
	if err != nil {
		return nil, err
	}
	media, err := c.fileInfo(ctx, fileName)
	if err != nil {
		return nil, err
	}
	logger.Debug("media resolved", "request_id", reqID, "title", title,
		"file", media.FileName, "license", media.License)
	return media, nil
}

func (c *Client) searchFile(ctx context.Context, title string) (string, error) {
	query := url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"list":        {"search"},
		"srsearch":    {title},
		"srnamespace": {"6"}, // File namespace
		"srlimit":     {"1"},
	}
	root, err := retry.Do(ctx, "commons-search", c.retryCfg, func(ctx context.Context) (*jason.Object, error) {
		body, err := c.get(ctx, c.commonsURL+"?"+query.Encode())
		if err != nil {
			return nil, err
		}
		root, err := jason.NewObjectFromBytes(body)
		if err != nil {
			return nil, errors.Newf("failed to parse commons search response: %v", err).
				Category(errors.CategoryNetwork).
				Component("wikimedia").
				Build()
		}
		return root, nil
	})
	if err != nil {
		return "", err
	}
	results, err := root.GetObjectArray("query", "search")
	if err != nil || len(results) == 0 {
		return "", errors.Newf("no commons image for %q", title).
			Category(errors.CategoryNotFound).
			Component("wikimedia").
			Build()
	}
	fileName, err := results[0].GetString("title")
	if err != nil || fileName == "" {
		return "", errors.Newf("commons search result missing title").
			Category(errors.CategoryNotFound).
			Component("wikimedia").
			Build()
	}
	return fileName, nil
}

func (c *Client) fileInfo(ctx context.Context, fileName string) (*Media, error) {
	query := url.Values{
		"action":     {"query"},
		"format":     {"json"},
		"titles":     {fileName},
		"prop":       {"imageinfo"},
		"iiprop":     {"url|extmetadata"},
		"iiurlwidth": {"512"},
	}
	root, err := retry.Do(ctx, "commons-imageinfo", c.retryCfg, func(ctx context.Context) (*jason.Object, error) {
		body, err := c.get(ctx, c.commonsURL+"?"+query.Encode())
		if err != nil {
			return nil, err
		}
		root, err := jason.NewObjectFromBytes(body)
		if err != nil {
			return nil, errors.Newf("failed to parse imageinfo response: %v", err).
				Category(errors.CategoryNetwork).
				Component("wikimedia").
				Build()
		}
		return root, nil
	})
	if err != nil {
		return nil, err
	}
	pages, err := root.GetObject("query", "pages")
	if err != nil {
		return nil, errors.Newf("imageinfo response missing pages").
			Category(errors.CategoryNotFound).
			Component("wikimedia").
			Build()
	}

	// The page id key is unknown in advance, take the first page.
	for _, value := range pages.Map() {
		page, err := value.Object()
		if err != nil {
			continue
		}
		infos, err := page.GetObjectArray("imageinfo")
		if err != nil || len(infos) == 0 {
			continue
		}
		info := infos[0]
		imageURL, _ := info.GetString("url")
		if imageURL == "" {
			continue
		}
		thumbURL, _ := info.GetString("thumburl")
		license, _ := info.GetString("extmetadata", "LicenseShortName", "value")
		authorHTML, _ := info.GetString("extmetadata", "Artist", "value")
		return &Media{
			FileName: fileName,
			ImageURL: imageURL,
			ThumbURL: thumbURL,
			License:  license,
			Author:   strings.TrimSpace(html2text.HTML2Text(authorHTML)),
		}, nil
	}
	return nil, errors.Newf("no image info for %q", fileName).
		Category(errors.CategoryNotFound).
		Component("wikimedia").
		Build()
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryValidation).
			Component("wikimedia").
			Build()
	}
	req.Header.Set("User-Agent", "BirdSong-Go")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Newf("wikimedia request failed: %v", err).
			Category(errors.CategoryNetwork).
			Component("wikimedia").
			Context("url", requestURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Newf("wikimedia resource not found").
			Category(errors.CategoryNotFound).
			Component("wikimedia").
			Build()
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Newf("wikimedia rate limit exceeded").
			Category(errors.CategoryLimit).
			Component("wikimedia").
			Build()
	case resp.StatusCode >= 500:
		return nil, errors.Newf("wikimedia server error: status %d", resp.StatusCode).
			Category(errors.CategoryNetwork).
			Component("wikimedia").
			Context("status", resp.StatusCode).
			Build()
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf("wikimedia unexpected status %d", resp.StatusCode).
			Category(errors.CategoryHTTP).
			Component("wikimedia").
			Context("status", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read wikimedia response: %v", err).
			Category(errors.CategoryNetwork).
			Component("wikimedia").
			Build()
	}
	return body, nil
}
