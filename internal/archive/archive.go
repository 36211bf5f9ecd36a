// Package archive copies downloaded CSV payloads to long-term storage.
package archive

import (
	"context"
	"time"

	"github.com/starford/offbalance/internal/checksum"
)

// Archiver stores a payload under key.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Key returns the object name for a payload fetched at t with digest sum,
// e.g. "20240101T120000Z-e3b0c44298fc.csv".
func Key(t time.Time, sum string) string {
	return t.UTC().Format("20060102T150405Z") + "-" + checksum.Short(sum) + ".csv"
}

// Nop discards every payload.
type Nop struct{}

// Put implements Archiver.
func (Nop) Put(context.Context, string, []byte) error { return nil }
