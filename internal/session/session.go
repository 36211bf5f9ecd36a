package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/dataset"
	"github.com/starford/offbalance/internal/snapshot"
	"github.com/starford/offbalance/internal/source"
)

// Fetcher downloads the dataset for a session.
type Fetcher interface {
	Fetch(ctx context.Context) (*source.Result, error)
	DateColumn() string
}

// Event describes a state transition.
type Event struct {
	SessionID string `json:"session_id"`
	From      State  `json:"from"`
	To        State  `json:"to"`
	Column    string `json:"column,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Notifier receives transition events. It must not block.
type Notifier func(Event)

// Session is the state of one visitor. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id         string
	state      State
	gen        uint64
	data       *dataset.Dataset
	dateColumn string
	column     string
	snap       snapshot.Snapshot
	fromCache  bool
	lastErr    error
	createdAt  time.Time
	touchedAt  time.Time

	notify Notifier
}

// View is a read-only copy of the session for rendering.
type View struct {
	ID          string            `json:"id"`
	State       State             `json:"state"`
	Downloaded  bool              `json:"downloaded"`
	Columns     []string          `json:"columns"`
	PlotColumns []string          `json:"plot_columns"`
	DateColumn  string            `json:"date_column,omitempty"`
	Column      string            `json:"column,omitempty"`
	RowCount    int               `json:"row_count"`
	Snapshot    snapshot.Snapshot `json:"snapshot"`
	FromCache   bool              `json:"from_cache"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Dataset     *dataset.Dataset  `json:"-"`
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// View returns a copy of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:          s.id,
		State:       s.state,
		Downloaded:  s.state.HasDataset(),
		Columns:     []string{},
		PlotColumns: []string{},
		DateColumn:  s.dateColumn,
		Column:      s.column,
		Snapshot:    s.snap,
		FromCache:   s.fromCache,
		CreatedAt:   s.createdAt,
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	if s.data != nil {
		v.Columns = append(v.Columns, s.data.Columns...)
		v.PlotColumns = s.data.PlotColumns(s.dateColumn)
		v.RowCount = s.data.Len()
		v.Dataset = s.data
	}
	return v
}

// Download fetches the dataset unless one is already held. With force set an
// existing dataset is replaced. A failed download returns the session to the
// state it was in and records the error for display.
func (s *Session) Download(ctx context.Context, f Fetcher, force bool) error {
	s.mu.Lock()
	if s.state == Downloading {
		s.mu.Unlock()
		return fmt.Errorf("session: download already in progress: %w", apperr.ErrInvalidTransition)
	}
	if s.state.HasDataset() && !force {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.gen++
	gen := s.gen
	s.lastErr = nil
	ev := s.transitionLocked(Downloading)
	s.mu.Unlock()
	s.emit(ev)

	res, err := f.Fetch(ctx)

	s.mu.Lock()
	if s.gen != gen {
		// Reset while the fetch was in flight; drop the result.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.lastErr = err
		ev = s.transitionLocked(prev)
		s.mu.Unlock()
		s.emit(ev)
		return err
	}
	s.data = res.Dataset
	s.dateColumn = f.DateColumn()
	s.snap = res.Snapshot
	s.fromCache = res.FromCache
	s.column = ""
	if cols := s.data.PlotColumns(s.dateColumn); len(cols) > 0 {
		s.column = cols[0]
	}
	ev = s.transitionLocked(Downloaded)
	s.mu.Unlock()
	s.emit(ev)
	return nil
}

// Select chooses the column to plot. Any pending plot must be requested again.
func (s *Session) Select(column string) error {
	s.mu.Lock()
	if err := s.requireDatasetLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if column == s.dateColumn || !s.data.HasColumn(column) {
		s.mu.Unlock()
		return fmt.Errorf("session: select %q: %w", column, apperr.ErrUnknownColumn)
	}
	s.column = column
	s.lastErr = nil
	ev := s.transitionLocked(Downloaded)
	s.mu.Unlock()
	s.emit(ev)
	return nil
}

// Plot requests a chart of the selected column.
func (s *Session) Plot() error {
	s.mu.Lock()
	if err := s.requireDatasetLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.column == "" {
		s.mu.Unlock()
		return fmt.Errorf("session: no column selected: %w", apperr.ErrInvalidTransition)
	}
	s.lastErr = nil
	ev := s.transitionLocked(PlotRequested)
	s.mu.Unlock()
	s.emit(ev)
	return nil
}

// Reset drops the dataset and returns to Idle. A download in flight is
// abandoned.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	s.data = nil
	s.column = ""
	s.snap = snapshot.Snapshot{}
	s.fromCache = false
	s.lastErr = nil
	ev := s.transitionLocked(Idle)
	s.mu.Unlock()
	s.emit(ev)
}

// RecordError keeps err for display until the next successful transition.
func (s *Session) RecordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// PlotSeries returns the series of the selected column once a plot was
// requested.
func (s *Session) PlotSeries() (dataset.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != PlotRequested {
		return dataset.Series{}, fmt.Errorf("session: no plot requested: %w", apperr.ErrNotFound)
	}
	return s.data.Series(s.dateColumn, s.column)
}

// SeriesFor returns any column of the held dataset against the date column.
func (s *Session) SeriesFor(column string) (dataset.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDatasetLocked(); err != nil {
		return dataset.Series{}, err
	}
	return s.data.Series(s.dateColumn, column)
}

func (s *Session) requireDatasetLocked() error {
	switch {
	case s.state == Downloading:
		return fmt.Errorf("session: download in progress: %w", apperr.ErrInvalidTransition)
	case !s.state.HasDataset():
		return apperr.ErrNoDataset
	}
	return nil
}

func (s *Session) transitionLocked(to State) Event {
	ev := Event{SessionID: s.id, From: s.state, To: to, Column: s.column}
	if s.lastErr != nil {
		ev.Error = s.lastErr.Error()
	}
	s.state = to
	return ev
}

func (s *Session) emit(ev Event) {
	if s.notify != nil {
		s.notify(ev)
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.touchedAt = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}
