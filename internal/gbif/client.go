// Package gbif queries the GBIF backbone taxonomy for species matches.
package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
	"github.com/rion/birdsong-go/internal/retry"
)

const defaultBaseURL = "https://api.gbif.org/v1"

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

// Taxon is the normalized result of a backbone match.
type Taxon struct {
	Key            int64
	ScientificName string
	CanonicalName  string
	Genus          string
	Family         string
	Species        string
	Rank           string
	MatchType      string
	VernacularName string
}

// Client talks to the GBIF backbone API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
}

// New builds a client from the provider settings.
func New(settings *conf.Settings) *Client {
	ps := settings.Enrichment.GBIF
	baseURL := ps.Endpoint
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retryCfg:   cfg,
	}
}

// matchPayload is the backbone match response.
type matchPayload struct {
	UsageKey       int64  `json:"usageKey"`
	ScientificName string `json:"scientificName"`
	CanonicalName  string `json:"canonicalName"`
	Genus          string `json:"genus"`
	Family         string `json:"family"`
	Species        string `json:"species"`
	Rank           string `json:"rank"`
	MatchType      string `json:"matchType"`
}

// Match resolves a name against the backbone. A NONE match or a missing
// record returns a not-found error, never a partial taxon. Decoding
// happens inside the retry loop so a truncated or malformed body is
// retried like any other transient transport failure.
func (c *Client) Match(ctx context.Context, name string) (*Taxon, error) {
	matchURL := fmt.Sprintf("%s/species/match?name=%s", c.baseURL, url.QueryEscape(name))
	payload, err := retry.Do(ctx, "gbif-match", c.retryCfg, func(ctx context.Context) (*matchPayload, error) {
		body, err := c.get(ctx, matchURL)
		if err != nil {
			return nil, err
		}
		var p matchPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.Newf("failed to decode gbif match response: %v", err).
				Category(errors.CategoryNetwork).
				Component("gbif").
				Context("name", name).
				Build()
		}
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	if payload.MatchType == "" || payload.MatchType == "NONE" {
		logger.Debug("no backbone match", "name", name)
		return nil, errors.Newf("no taxonomy match for %q", name).
			Category(errors.CategoryNotFound).
			Component("gbif").
			Build()
	}

	taxon := &Taxon{
		Key:            payload.UsageKey,
		ScientificName: payload.ScientificName,
		CanonicalName:  payload.CanonicalName,
		Genus:          payload.Genus,
		Family:         payload.Family,
		Species:        payload.Species,
		Rank:           payload.Rank,
		MatchType:      payload.MatchType,
	}
	if vernacular, err := c.vernacularName(ctx, payload.UsageKey); err == nil {
		taxon.VernacularName = vernacular
	}
	logger.Debug("backbone match", "name", name, "canonical", taxon.CanonicalName,
		"match_type", taxon.MatchType)
	return taxon, nil
}

type vernacularPayload struct {
	Results []struct {
		VernacularName string `json:"vernacularName"`
		Language       string `json:"language"`
	} `json:"results"`
}

// vernacularName fetches the first English vernacular name for a usage key.
// Absence is normal and returns a not-found error.
func (c *Client) vernacularName(ctx context.Context, key int64) (string, error) {
	listURL := fmt.Sprintf("%s/species/%d/vernacularNames?limit=50", c.baseURL, key)
	payload, err := retry.Do(ctx, "gbif-vernacular", c.retryCfg, func(ctx context.Context) (*vernacularPayload, error) {
		body, err := c.get(ctx, listURL)
		if err != nil {
			return nil, err
		}
		var p vernacularPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.Newf("failed to decode vernacular names: %v", err).
				Category(errors.CategoryNetwork).
				Component("gbif").
				Build()
		}
		return &p, nil
	})
	if err != nil {
		return "", err
	}
	for _, r := range payload.Results {
		if r.Language == "eng" && r.VernacularName != "" {
			return r.VernacularName, nil
		}
	}
	return "", errors.Newf("no english vernacular name for usage key %d", key).
		Category(errors.CategoryNotFound).
		Component("gbif").
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
			Component("gbif").
			Build()
	}
	req.Header.Set("User-Agent", "BirdSong-Go")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Newf("gbif request failed: %v", err).
			Category(errors.CategoryNetwork).
			Component("gbif").
			Context("url", requestURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Newf("gbif resource not found").
			Category(errors.CategoryNotFound).
			Component("gbif").
			Build()
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Newf("gbif rate limit exceeded").
			Category(errors.CategoryLimit).
			Component("gbif").
			Build()
	case resp.StatusCode >= 500:
		return nil, errors.Newf("gbif server error: status %d", resp.StatusCode).
			Category(errors.CategoryNetwork).
			Component("gbif").
			Context("status", resp.StatusCode).
			Build()
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf("gbif unexpected status %d", resp.StatusCode).
			Category(errors.CategoryHTTP).
			Component("gbif").
			Context("status", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read gbif response: %v", err).
			Category(errors.CategoryNetwork).
			Component("gbif").
			Build()
	}
	return body, nil
}
