// Package ebird resolves eBird species codes from the taxonomy dataset
// and scrapes the public species page for identification text.
package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
	"github.com/rion/birdsong-go/internal/retry"
)

const (
	defaultAPIURL = "https://api.ebird.org/v2"
	defaultWebURL = "https://ebird.org"

	taxonomyCacheKey = "taxonomy"
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

// SpeciesInfo is the normalized result of an eBird lookup.
type SpeciesInfo struct {
	Code               string
	CommonName         string
	ScientificName     string
	InfoURL            string
	IdentificationText string
}

// taxonEntry is one row of the eBird taxonomy dataset.
type taxonEntry struct {
	SciName     string `json:"sciName"`
	ComName     string `json:"comName"`
	SpeciesCode string `json:"speciesCode"`
	Category    string `json:"category"`
}

// Client talks to the eBird API and website.
type Client struct {
	apiKey     string
	apiURL     string
	webURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	// The full taxonomy dataset is fetched once per process lifetime.
	taxonomy *cache.Cache
}

// New builds a client from the provider settings.
func New(settings *conf.Settings) *Client {
	ps := settings.Enrichment.EBird
	apiURL := ps.Endpoint
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := time.Duration(ps.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := ps.RateLimit
	if rps <= 0 {
		rps = 1.0
	}
	cfg := retry.DefaultConfig()
	if r := settings.Enrichment.Retry; r.Attempts > 0 {
		cfg.Attempts = r.Attempts
		cfg.BaseDelay = time.Duration(r.BaseDelay * float64(time.Second))
		cfg.MaxDelay = time.Duration(r.MaxDelay * float64(time.Second))
		cfg.Jitter = r.Jitter
	}
	return &Client{
		apiKey:     ps.APIKey,
		apiURL:     apiURL,
		webURL:     defaultWebURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retryCfg:   cfg,
		taxonomy:   cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// SetWebURL overrides the website base used for page scraping, used by tests.
func (c *Client) SetWebURL(u string) { c.webURL = u }

// LookupSpecies resolves a species code by scientific name, falling back
// to the common name, then scrapes the species page for identification
// text. A scrape failure degrades to an empty text, not an error.
func (c *Client) LookupSpecies(ctx context.Context, scientificName, commonName string) (*SpeciesInfo, error) {
	entries, err := c.taxonomyDataset(ctx)
	if err != nil {
		return nil, err
	}

	entry := findEntry(entries, scientificName)
	if entry == nil && commonName != "" {
		entry = findEntry(entries, commonName)
	}
	if entry == nil {
		return nil, errors.Newf("no ebird taxonomy entry for %q", scientificName).
			Category(errors.CategoryNotFound).
			Component("ebird").
			Build()
	}

	info := &SpeciesInfo{
		Code:           entry.SpeciesCode,
		CommonName:     entry.ComName,
		ScientificName: entry.SciName,
		InfoURL:        fmt.Sprintf("%s/species/%s", c.webURL, entry.SpeciesCode),
	}
	if text, err := c.scrapeIdentification(ctx, info.InfoURL); err == nil {
		info.IdentificationText = text
	} else {
		logger.Debug("identification scrape failed", "code", entry.SpeciesCode, "error", err)
	}
	return info, nil
}

func findEntry(entries []taxonEntry, name string) *taxonEntry {
	folded := strings.ToLower(strings.TrimSpace(name))
	for i := range entries {
		if strings.ToLower(entries[i].SciName) == folded ||
			strings.ToLower(entries[i].ComName) == folded {
			return &entries[i]
		}
	}
	return nil
}

// taxonomyDataset returns the cached dataset, fetching it on first use.
func (c *Client) taxonomyDataset(ctx context.Context) ([]taxonEntry, error) {
	if cached, found := c.taxonomy.Get(taxonomyCacheKey); found {
		return cached.([]taxonEntry), nil
	}

	datasetURL := fmt.Sprintf("%s/ref/taxonomy/ebird?fmt=json", c.apiURL)
	// Decoding happens inside the retry loop so a truncated or malformed
	// body is retried like a transient transport failure.
	entries, err := retry.Do(ctx, "ebird-taxonomy", c.retryCfg, func(ctx context.Context) ([]taxonEntry, error) {
		body, err := c.get(ctx, datasetURL, true)
		if err != nil {
			return nil, err
		}
		var entries []taxonEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, errors.Newf("failed to decode ebird taxonomy: %v", err).
				Category(errors.CategoryNetwork).
				Component("ebird").
				Build()
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	c.taxonomy.Set(taxonomyCacheKey, entries, cache.NoExpiration)
	logger.Info("ebird taxonomy dataset cached", "entries", len(entries))
	return entries, nil
}

func (c *Client) get(ctx context.Context, requestURL string, withKey bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}
	req.Header.Set("User-Agent", "BirdSong-Go")
	if withKey {
		req.Header.Set("X-eBirdApiToken", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Newf("ebird request failed: %v", err).
			Category(errors.CategoryNetwork).
			Component("ebird").
			Context("url", requestURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Newf("ebird resource not found").
			Category(errors.CategoryNotFound).
			Component("ebird").
			Build()
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Newf("ebird authentication failed: status %d", resp.StatusCode).
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Newf("ebird rate limit exceeded").
			Category(errors.CategoryLimit).
			Component("ebird").
			Build()
	case resp.StatusCode >= 500:
		return nil, errors.Newf("ebird server error: status %d", resp.StatusCode).
			Category(errors.CategoryNetwork).
			Component("ebird").
			Context("status", resp.StatusCode).
			Build()
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf("ebird unexpected status %d", resp.StatusCode).
			Category(errors.CategoryHTTP).
			Component("ebird").
			Context("status", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read ebird response: %v", err).
			Category(errors.CategoryNetwork).
			Component("ebird").
			Build()
	}
	return body, nil
}
