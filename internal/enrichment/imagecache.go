package enrichment

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rion/birdsong-go/internal/errors"
)

// ImageCache downloads species images once and serves them from a local
// directory under the /images/ URL prefix.
type ImageCache struct {
	dir        string
	httpClient *http.Client
}

// NewImageCache creates the cache directory if needed.
func NewImageCache(dir string) (*ImageCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Newf("failed to create image cache directory: %v", err).
			Category(errors.CategoryImageCache).
			Component("enrichment").
			Context("dir", dir).
			Build()
	}
	return &ImageCache{
		dir:        dir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Fetch downloads the image for a species unless it is already cached
// and returns the local serving path.
func (ic *ImageCache) Fetch(ctx context.Context, imageURL, speciesID string) (string, error) {
	ext := path.Ext(imageURL)
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	fileName := speciesID + ext
	localFile := filepath.Join(ic.dir, fileName)
	servingPath := "/images/" + fileName

	if _, err := os.Stat(localFile); err == nil {
		return servingPath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryValidation).
			Component("enrichment").
			Build()
	}
	req.Header.Set("User-Agent", "BirdSong-Go")

	resp, err := ic.httpClient.Do(req)
	if err != nil {
		return "", errors.Newf("image download failed: %v", err).
			Category(errors.CategoryImageFetch).
			Component("enrichment").
			Context("url", imageURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("image download failed: status %d", resp.StatusCode).
			Category(errors.CategoryImageFetch).
			Component("enrichment").
			Context("url", imageURL).
			Build()
	}

	// Write to a temp file first so a failed download never leaves a
	// truncated image behind.
	tmp, err := os.CreateTemp(ic.dir, "download-*")
	if err != nil {
		return "", errors.Newf("failed to create temp file: %v", err).
			Category(errors.CategoryImageCache).
			Component("enrichment").
			Build()
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", errors.Newf("failed to write image: %v", err).
			Category(errors.CategoryImageCache).
			Component("enrichment").
			Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Newf("failed to close image file: %v", err).
			Category(errors.CategoryImageCache).
			Component("enrichment").
			Build()
	}
	if err := os.Rename(tmp.Name(), localFile); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Newf("failed to move image into cache: %v", err).
			Category(errors.CategoryImageCache).
			Component("enrichment").
			Build()
	}
	return servingPath, nil
}
