package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/histoboard/backend/internal/arbiter"
	"github.com/histoboard/backend/internal/histogram"
)

// State is everything the backend tracks for one connected browser
// session. Triggers is initialized at session start and dies with the
// session; it is mutated only by the arbiter after a branch decision.
// Inputs holds the raw observed counts the UI events bump.
type State struct {
	ID          string               `json:"id"`
	Triggers    arbiter.TriggerState `json:"triggers"`
	Inputs      arbiter.Inputs       `json:"-"`
	Header      bool                 `json:"header"`
	LastBranch  string               `json:"lastBranch,omitempty"`
	LastPlot    *histogram.Plot      `json:"lastPlot,omitempty"`
	ConnectedAt time.Time            `json:"connectedAt"`
	LastEventAt time.Time            `json:"lastEventAt"`
}

// Clone returns a deep copy of the State, duplicating pointer and slice
// fields so the copy can be mutated independently of the original.
func (s *State) Clone() *State {
	c := *s
	if s.Inputs.FileSpec != nil {
		spec := *s.Inputs.FileSpec
		c.Inputs.FileSpec = &spec
	}
	if s.LastPlot != nil {
		p := *s.LastPlot
		p.Bins = append([]histogram.Bin(nil), s.LastPlot.Bins...)
		c.LastPlot = &p
	}
	return &c
}

// NewID returns a random 128-bit hex session identifier.
func NewID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
