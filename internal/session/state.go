// Package session keeps per-visitor UI state: the downloaded dataset, the
// selected column and where the visitor is in the download/plot flow.
package session

import "fmt"

// State is a step in the download/plot flow.
//
//	Idle ──Download──▶ Downloading ──ok──▶ Downloaded ──Plot──▶ PlotRequested
//	  ▲                    │ fail                ▲                    │
//	  │                    ▼                     └──────Select────────┘
//	  └─────Reset──── previous state
type State int

const (
	Idle State = iota
	Downloading
	Downloaded
	PlotRequested
)

var stateNames = [...]string{
	Idle:          "idle",
	Downloading:   "downloading",
	Downloaded:    "downloaded",
	PlotRequested: "plot_requested",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// HasDataset reports whether a dataset is held in this state.
func (s State) HasDataset() bool {
	return s == Downloaded || s == PlotRequested
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}
