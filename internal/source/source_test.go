package source

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/period"
	"github.com/starford/offbalance/internal/testutil"
)

type recordingArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchive) Put(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

func TestFetch_Success(t *testing.T) {
	up := testutil.NewUpstream(t, http.StatusOK, "Date,Value\n1999:Q2,10\n2000:Q1,20\n")
	f := New(Options{URL: up.URL}, WithLogger(testutil.Logger()))

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.FromCache {
		t.Error("fresh download reported as cached")
	}
	rows := res.Dataset.Rows
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	d := rows[0]["Date"].(time.Time)
	if !d.Equal(time.Date(1999, time.April, 1, 0, 0, 0, 0, time.UTC)) || rows[0]["Value"] != 10.0 {
		t.Errorf("row 0 = %v", rows[0])
	}
	d = rows[1]["Date"].(time.Time)
	if !d.Equal(time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)) || rows[1]["Value"] != 20.0 {
		t.Errorf("row 1 = %v", rows[1])
	}
}

func TestFetch_NonOKStatus(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		up := testutil.NewUpstream(t, code, "nope")
		f := New(Options{URL: up.URL}, WithLogger(testutil.Logger()))
		_, err := f.Fetch(context.Background())
		if !errors.Is(err, apperr.ErrUpstream) {
			t.Errorf("status %d: err = %v, want ErrUpstream", code, err)
		}
	}
}

func TestFetch_MalformedPeriod(t *testing.T) {
	up := testutil.NewUpstream(t, http.StatusOK, "Date,Value\nabc:Q1,1\n")
	f := New(Options{URL: up.URL}, WithLogger(testutil.Logger()))
	if _, err := f.Fetch(context.Background()); !errors.Is(err, period.ErrParse) {
		t.Errorf("err = %v, want period.ErrParse", err)
	}
}

func TestFetch_StoresAndFallsBackToSnapshot(t *testing.T) {
	db := testutil.TestDB(t)
	arch := &recordingArchive{}
	up := testutil.NewUpstream(t, http.StatusOK, testutil.SampleCSV)
	f := New(Options{URL: up.URL, FallbackToCache: true},
		WithStore(db), WithArchive(arch), WithLogger(testutil.Logger()))
	ctx := context.Background()

	first, err := f.Fetch(ctx)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	if first.Snapshot.ID == "" || first.Snapshot.Checksum == "" {
		t.Errorf("snapshot not recorded: %+v", first.Snapshot)
	}

	// Same payload again: deduplicated, archived only once.
	if _, err := f.Fetch(ctx); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if len(arch.keys) != 1 {
		t.Errorf("archived %d times, want 1", len(arch.keys))
	}

	up.Set(http.StatusServiceUnavailable, "")
	res, err := f.Fetch(ctx)
	if err != nil {
		t.Fatalf("fallback Fetch: %v", err)
	}
	if !res.FromCache {
		t.Error("expected cached result")
	}
	if res.Snapshot.ID != first.Snapshot.ID {
		t.Errorf("fallback snapshot = %s, want %s", res.Snapshot.ID, first.Snapshot.ID)
	}
	if res.Dataset.Len() != 3 {
		t.Errorf("cached rows = %d", res.Dataset.Len())
	}
}

func TestFetch_NoFallbackWithoutSnapshot(t *testing.T) {
	db := testutil.TestDB(t)
	up := testutil.NewUpstream(t, http.StatusBadGateway, "")
	f := New(Options{URL: up.URL, FallbackToCache: true}, WithStore(db), WithLogger(testutil.Logger()))
	if _, err := f.Fetch(context.Background()); !errors.Is(err, apperr.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	up := testutil.NewUpstream(t, http.StatusOK, testutil.SampleCSV)
	f := New(Options{URL: up.URL}, WithLogger(testutil.Logger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx); !errors.Is(err, apperr.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestFetch_FileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(testutil.SampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	f := New(Options{URL: "file://" + path}, WithLogger(testutil.Logger()))
	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Dataset.Len() != 3 {
		t.Errorf("rows = %d", res.Dataset.Len())
	}

	lp, ok := LocalPath("file://" + path)
	if !ok || lp != path {
		t.Errorf("LocalPath = %q, %v", lp, ok)
	}
	if _, ok := LocalPath("https://example.com/a.csv"); ok {
		t.Error("http URL reported as local")
	}
}

func TestDecode_RejectsInvalidUTF8(t *testing.T) {
	f := New(Options{})
	if _, err := f.Decode([]byte{0xff, 0xfe, 'D'}); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestNew_Defaults(t *testing.T) {
	f := New(Options{})
	if f.URL() != DefaultURL || f.DateColumn() != "Date" {
		t.Errorf("defaults = %q %q", f.URL(), f.DateColumn())
	}
}

func TestFetch_OversizedPayload(t *testing.T) {
	body := "Date,Value\n1999:Q2,10\n2000:Q1,99999\n"
	up := testutil.NewUpstream(t, http.StatusOK, body)
	f := New(Options{URL: up.URL}, WithLogger(testutil.Logger()))

	// Cut inside the last value: "99999" would otherwise parse as 9.
	f.maxBody = int64(len(body) - 5)
	if _, err := f.Fetch(context.Background()); !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}

	f.maxBody = int64(len(body))
	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("payload at the limit: %v", err)
	}
	if v := res.Dataset.Rows[1]["Value"]; v != 99999.0 {
		t.Errorf("last value = %v", v)
	}
}

func TestFetch_OversizedLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(testutil.SampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	f := New(Options{URL: "file://" + path}, WithLogger(testutil.Logger()))
	f.maxBody = 8
	if _, err := f.Fetch(context.Background()); !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}
