package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/dataset"
	"github.com/starford/offbalance/internal/source"
)

type fakeFetcher struct {
	mu    sync.Mutex
	csv   string
	err   error
	calls int
	gate  chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*source.Result, error) {
	f.mu.Lock()
	f.calls++
	gate, csv, err := f.gate, f.csv, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	ds, err := dataset.ReadCSV(strings.NewReader(csv))
	if err != nil {
		return nil, err
	}
	if err := ds.NormalizeDates("Date"); err != nil {
		return nil, err
	}
	return &source.Result{Dataset: ds}, nil
}

func (f *fakeFetcher) DateColumn() string { return "Date" }

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const sampleCSV = "Date,A,B\n1999:Q2,10,1\n2000:Q1,20,2\n"

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.To
	}
	return out
}

func newSession(t *testing.T) (*Session, *eventLog) {
	t.Helper()
	log := &eventLog{}
	m := NewManager(time.Minute, log.record)
	return m.Create(), log
}

func TestFlow_DownloadSelectPlot(t *testing.T) {
	s, log := newSession(t)
	f := &fakeFetcher{csv: sampleCSV}
	ctx := context.Background()

	if got := s.View().State; got != Idle {
		t.Fatalf("initial state = %v", got)
	}
	if err := s.Download(ctx, f, false); err != nil {
		t.Fatalf("Download: %v", err)
	}
	v := s.View()
	if v.State != Downloaded || !v.Downloaded {
		t.Fatalf("state = %v", v.State)
	}
	if v.Column != "A" {
		t.Errorf("default column = %q, want A", v.Column)
	}
	if len(v.PlotColumns) != 2 || v.RowCount != 2 {
		t.Errorf("view = %+v", v)
	}

	if err := s.Select("B"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := s.Plot(); err != nil {
		t.Fatalf("Plot: %v", err)
	}
	if got := s.View().State; got != PlotRequested {
		t.Fatalf("state = %v, want PlotRequested", got)
	}
	series, err := s.PlotSeries()
	if err != nil {
		t.Fatalf("PlotSeries: %v", err)
	}
	if series.Name != "B" || len(series.Value) != 2 || series.Value[1] != 2 {
		t.Errorf("series = %+v", series)
	}

	// Selecting again drops back to Downloaded.
	if err := s.Select("A"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PlotSeries(); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("PlotSeries after Select err = %v, want ErrNotFound", err)
	}

	want := []State{Downloading, Downloaded, Downloaded, PlotRequested, Downloaded}
	got := log.states()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownload_CachedUnlessForced(t *testing.T) {
	s, _ := newSession(t)
	f := &fakeFetcher{csv: sampleCSV}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Download(ctx, f, false); err != nil {
			t.Fatal(err)
		}
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.Calls())
	}
	if err := s.Download(ctx, f, true); err != nil {
		t.Fatal(err)
	}
	if f.Calls() != 2 {
		t.Errorf("forced fetch calls = %d, want 2", f.Calls())
	}
}

func TestDownload_FailureRestoresState(t *testing.T) {
	s, _ := newSession(t)
	f := &fakeFetcher{err: apperr.ErrUpstream}
	err := s.Download(context.Background(), f, false)
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v", err)
	}
	v := s.View()
	if v.State != Idle {
		t.Errorf("state = %v, want Idle", v.State)
	}
	if v.Error == "" {
		t.Error("error not recorded for display")
	}

	// A later success clears the error.
	f.err = nil
	f.csv = sampleCSV
	if err := s.Download(context.Background(), f, false); err != nil {
		t.Fatal(err)
	}
	if v := s.View(); v.Error != "" || v.State != Downloaded {
		t.Errorf("view after retry = %+v", v)
	}
}

func TestDownload_ConcurrentRejected(t *testing.T) {
	s, _ := newSession(t)
	f := &fakeFetcher{csv: sampleCSV, gate: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- s.Download(context.Background(), f, false) }()

	deadline := time.Now().Add(time.Second)
	for s.View().State != Downloading && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Download(context.Background(), f, true); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("second Download err = %v, want ErrInvalidTransition", err)
	}
	if err := s.Select("A"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("Select during download err = %v", err)
	}

	close(f.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestReset_DuringDownloadDropsResult(t *testing.T) {
	s, _ := newSession(t)
	f := &fakeFetcher{csv: sampleCSV, gate: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- s.Download(context.Background(), f, false) }()
	deadline := time.Now().Add(time.Second)
	for s.View().State != Downloading && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Reset()
	close(f.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if v := s.View(); v.State != Idle || v.Downloaded {
		t.Errorf("view = %+v, want Idle", v)
	}
}

func TestTransitions_WithoutDataset(t *testing.T) {
	s, _ := newSession(t)
	if err := s.Select("A"); !errors.Is(err, apperr.ErrNoDataset) {
		t.Errorf("Select err = %v", err)
	}
	if err := s.Plot(); !errors.Is(err, apperr.ErrNoDataset) {
		t.Errorf("Plot err = %v", err)
	}
	if _, err := s.SeriesFor("A"); !errors.Is(err, apperr.ErrNoDataset) {
		t.Errorf("SeriesFor err = %v", err)
	}
}

func TestSelect_UnknownOrDateColumn(t *testing.T) {
	s, _ := newSession(t)
	if err := s.Download(context.Background(), &fakeFetcher{csv: sampleCSV}, false); err != nil {
		t.Fatal(err)
	}
	for _, col := range []string{"Nope", "Date"} {
		if err := s.Select(col); !errors.Is(err, apperr.ErrUnknownColumn) {
			t.Errorf("Select(%q) err = %v", col, err)
		}
	}
}

func TestPlot_RequiresColumn(t *testing.T) {
	s, _ := newSession(t)
	if err := s.Download(context.Background(), &fakeFetcher{csv: "Date\n1999:Q1\n"}, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Plot(); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("Plot err = %v, want ErrInvalidTransition", err)
	}
}

func TestStateString(t *testing.T) {
	if PlotRequested.String() != "plot_requested" || State(42).String() != "state(42)" {
		t.Error("unexpected state names")
	}
}
