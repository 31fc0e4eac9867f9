package notification

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rion/birdsong-go/internal/errors"
)

// BucketStore persists summary buckets as a single JSON document mapping
// date string to records, rewritten whole on every mutation. Mutation
// frequency is bounded by detection rate, so whole-file replacement is
// acceptable and keeps writes atomic.
//
// Per-channel watermarks live in a sidecar file next to the bucket file
// so flush progress survives restarts.
type BucketStore struct {
	mu         sync.Mutex
	path       string
	buckets    map[string][]SummaryRecord
	watermarks map[string]string // channel name -> last-sent date key
}

// NewBucketStore loads (or initializes) the store at path.
func NewBucketStore(path string) (*BucketStore, error) {
	store := &BucketStore{
		path:       path,
		buckets:    make(map[string][]SummaryRecord),
		watermarks: make(map[string]string),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (bs *BucketStore) watermarkPath() string {
	ext := filepath.Ext(bs.path)
	return bs.path[:len(bs.path)-len(ext)] + ".watermarks" + ext
}

func (bs *BucketStore) load() error {
	if err := loadJSON(bs.path, &bs.buckets); err != nil {
		return err
	}
	return loadJSON(bs.watermarkPath(), &bs.watermarks)
}

func loadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Newf("failed to read %s: %v", path, err).
			Category(errors.CategoryFileIO).
			Component("notification").
			Build()
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.Newf("failed to parse %s: %v", path, err).
			Category(errors.CategoryFileParsing).
			Component("notification").
			Build()
	}
	return nil
}

// persist must be called with the mutex held.
func (bs *BucketStore) persist() error {
	if err := writeJSON(bs.path, bs.buckets); err != nil {
		return err
	}
	return writeJSON(bs.watermarkPath(), bs.watermarks)
}

// writeJSON replaces the file contents in one rename so a crash never
// leaves a half-written document.
func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Newf("failed to encode %s: %v", path, err).
			Category(errors.CategoryFileIO).
			Component("notification").
			Build()
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Newf("failed to create directory %s: %v", dir, err).
				Category(errors.CategoryFileIO).
				Component("notification").
				Build()
		}
	}
	tmp, err := os.CreateTemp(dir, ".buckets-*")
	if err != nil {
		return errors.Newf("failed to create temp file: %v", err).
			Category(errors.CategoryFileIO).
			Component("notification").
			Build()
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Newf("failed to write %s: %v", path, err).
			Category(errors.CategoryFileIO).
			Component("notification").
			Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Newf("failed to close %s: %v", path, err).
			Category(errors.CategoryFileIO).
			Component("notification").
			Build()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Newf("failed to replace %s: %v", path, err).
			Category(errors.CategoryFileIO).
			Component("notification").
			Build()
	}
	return nil
}

// Append adds a record to the date's bucket and persists the file.
func (bs *BucketStore) Append(date string, record SummaryRecord) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.buckets[date] = append(bs.buckets[date], record)
	return bs.persist()
}

// Dates returns all bucket dates in ascending order.
func (bs *BucketStore) Dates() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	dates := make([]string, 0, len(bs.buckets))
	for date := range bs.buckets {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// Bucket returns a copy of the records for one date.
func (bs *BucketStore) Bucket(date string) []SummaryRecord {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	records := bs.buckets[date]
	out := make([]SummaryRecord, len(records))
	copy(out, records)
	return out
}

// Watermark returns the last date flushed to the channel, empty when
// the channel has never received a summary.
func (bs *BucketStore) Watermark(channel string) string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.watermarks[channel]
}

// SetWatermark advances a channel's watermark and persists it.
func (bs *BucketStore) SetWatermark(channel, date string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.watermarks[channel] = date
	return bs.persist()
}

// Purge removes the given bucket dates and persists the file. Unknown
// dates are ignored.
func (bs *BucketStore) Purge(dates []string) error {
	if len(dates) == 0 {
		return nil
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, date := range dates {
		delete(bs.buckets, date)
	}
	return bs.persist()
}
