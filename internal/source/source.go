// Package source downloads the CSV dataset, normalizes its date column and
// records each payload in the snapshot cache.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
	"unicode/utf8"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/archive"
	"github.com/starford/offbalance/internal/dataset"
	"github.com/starford/offbalance/internal/snapshot"
)

const (
	DefaultURL       = "https://www.federalreserve.gov/releases/efa/off-balance-sheet-items-historical.csv"
	DefaultUserAgent = "offbalance/1.0"
	DefaultTimeout   = 30 * time.Second

	maxBodySize = 64 << 20
)

// SnapshotStore is the subset of the snapshot cache the fetcher needs.
type SnapshotStore interface {
	Save(ctx context.Context, s snapshot.Snapshot) (snapshot.Snapshot, bool, error)
	Latest(ctx context.Context, url string) (snapshot.Snapshot, error)
}

// Options configures a Fetcher.
type Options struct {
	URL             string
	DateColumn      string
	UserAgent       string
	Timeout         time.Duration
	FallbackToCache bool
}

// Result is a decoded download.
type Result struct {
	Dataset   *dataset.Dataset
	Snapshot  snapshot.Snapshot
	FromCache bool
}

// Fetcher downloads and decodes the configured dataset.
type Fetcher struct {
	opts    Options
	client  *http.Client
	store   SnapshotStore
	archive archive.Archiver
	logger  *slog.Logger
	now     func() time.Time
	maxBody int64
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithStore enables snapshot persistence and cache fallback.
func WithStore(s SnapshotStore) Option {
	return func(f *Fetcher) { f.store = s }
}

// WithArchive copies every new snapshot to a.
func WithArchive(a archive.Archiver) Option {
	return func(f *Fetcher) { f.archive = a }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher. Empty options fall back to package defaults.
func New(opts Options, options ...Option) *Fetcher {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.DateColumn == "" {
		opts.DateColumn = dataset.DefaultDateColumn
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	f := &Fetcher{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		archive: archive.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
		maxBody: maxBodySize,
	}
	for _, o := range options {
		o(f)
	}
	return f
}

// URL returns the source URL.
func (f *Fetcher) URL() string {
	return f.opts.URL
}

// DateColumn returns the name of the column holding period labels.
func (f *Fetcher) DateColumn() string {
	return f.opts.DateColumn
}

// Fetch downloads the dataset once. When the download fails and cache
// fallback is enabled, the latest stored snapshot for the URL is decoded
// instead.
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	body, err := f.download(ctx)
	if err != nil {
		if !f.opts.FallbackToCache || f.store == nil {
			return nil, err
		}
		snap, cacheErr := f.store.Latest(ctx, f.opts.URL)
		if cacheErr != nil {
			if !errors.Is(cacheErr, apperr.ErrNotFound) {
				f.logger.Warn("source: cache lookup failed", slog.String("error", cacheErr.Error()))
			}
			return nil, err
		}
		f.logger.Warn("source: download failed, using cached snapshot",
			slog.String("url", f.opts.URL),
			slog.String("snapshot_id", snap.ID),
			slog.String("error", err.Error()))
		ds, err := f.Decode(snap.Body)
		if err != nil {
			return nil, err
		}
		return &Result{Dataset: ds, Snapshot: snap, FromCache: true}, nil
	}

	ds, err := f.Decode(body)
	if err != nil {
		return nil, err
	}

	snap := snapshot.New(f.opts.URL, body, f.now())
	if f.store != nil {
		saved, created, err := f.store.Save(ctx, snap)
		if err != nil {
			f.logger.Warn("source: snapshot save failed", slog.String("error", err.Error()))
		} else {
			snap = saved
			if created {
				f.archiveSnapshot(ctx, snap)
			}
		}
	}
	snap.Body = nil
	return &Result{Dataset: ds, Snapshot: snap}, nil
}

// Decode parses a UTF-8 CSV payload and normalizes its date column.
func (f *Fetcher) Decode(body []byte) (*dataset.Dataset, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("source: payload is not valid UTF-8: %w", apperr.ErrInvalidData)
	}
	ds, err := dataset.ReadCSV(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidData, err)
	}
	if err := ds.NormalizeDates(f.opts.DateColumn); err != nil {
		return nil, err
	}
	return ds, nil
}

func (f *Fetcher) archiveSnapshot(ctx context.Context, snap snapshot.Snapshot) {
	key := archive.Key(snap.FetchedAt, snap.Checksum)
	if err := f.archive.Put(ctx, key, snap.Body); err != nil {
		f.logger.Warn("source: archive failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	f.logger.Debug("source: archived snapshot", slog.String("key", key))
}

func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(f.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("source: parse url: %w", err)
	}
	if u.Scheme == "file" {
		file, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
		}
		defer file.Close()
		return f.readBody(file)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/csv, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", apperr.ErrUpstream, resp.StatusCode)
	}

	return f.readBody(resp.Body)
}

// readBody reads at most maxBody bytes and fails rather than return a
// truncated payload.
func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", apperr.ErrUpstream, err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("%w: payload exceeds limit of %d bytes", apperr.ErrUpstream, f.maxBody)
	}
	return data, nil
}
