// Package testutil provides shared test helpers: a temporary snapshot
// database, a fake CSV upstream and a quiet logger.
package testutil

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/starford/offbalance/internal/snapshot"
)

// SampleCSV is a small payload in the upstream format.
const SampleCSV = "Date,Loan commitments,Letters of credit\n" +
	"1999:Q2,10,1.5\n" +
	"2000:Q1,20,2.5\n" +
	"2000:Q2,30,\n"

// TestDB creates a temporary snapshot database that is automatically cleaned up.
func TestDB(t *testing.T) *snapshot.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "offbalance-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := snapshot.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards everything below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Upstream is a fake CSV server whose response can be changed mid-test.
type Upstream struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	body   string
	hits   int
}

// NewUpstream starts a server answering every GET with status and body.
func NewUpstream(t *testing.T, status int, body string) *Upstream {
	t.Helper()
	u := &Upstream{status: status, body: body}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		status, body := u.status, u.body
		u.hits++
		u.mu.Unlock()
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.Close)
	return u
}

// Set replaces the response.
func (u *Upstream) Set(status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status, u.body = status, body
}

// Hits returns the number of requests served.
func (u *Upstream) Hits() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits
}
