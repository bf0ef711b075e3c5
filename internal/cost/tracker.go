package cost

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/atomicfile"
)

// ErrBudgetExceeded is returned by CheckBudget once the session limit is reached.
var ErrBudgetExceeded = errors.New("session budget exceeded")

// Totals is a point-in-time copy of the tracker counters.
type Totals struct {
	SessionCost   float64 `json:"session_cost"`
	SessionCalls  int     `json:"session_calls"`
	LifetimeCost  float64 `json:"lifetime_cost"`
	LifetimeCalls int     `json:"lifetime_calls"`
}

// lifetime is the on-disk shape of cost.json.
type lifetime struct {
	LifetimeCost  float64 `json:"lifetime_cost"`
	LifetimeCalls int     `json:"lifetime_calls"`
}

// Tracker accumulates session and lifetime spend. Lifetime counters are
// persisted after every Record when a path is configured.
type Tracker struct {
	mu sync.Mutex
	t  Totals

	fs   afero.Fs
	path string
	log  *slog.Logger
}

// NewTracker returns a tracker persisting lifetime totals to path on fs.
// An empty path disables persistence.
func NewTracker(fs afero.Fs, path string, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{fs: fs, path: path, log: log.With("component", "cost")}
}

// Load restores lifetime counters. A missing file leaves them at zero.
func (tr *Tracker) Load() error {
	if tr.path == "" {
		return nil
	}
	data, err := afero.ReadFile(tr.fs, tr.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cost file: %w", err)
	}
	var lt lifetime
	if err := json.Unmarshal(data, &lt); err != nil {
		return fmt.Errorf("parse cost file: %w", err)
	}

	tr.mu.Lock()
	tr.t.LifetimeCost = lt.LifetimeCost
	tr.t.LifetimeCalls = lt.LifetimeCalls
	tr.mu.Unlock()
	return nil
}

// Record adds one call's cost to the session and lifetime totals.
func (tr *Tracker) Record(c float64) {
	tr.mu.Lock()
	tr.t.SessionCost += c
	tr.t.SessionCalls++
	tr.t.LifetimeCost += c
	tr.t.LifetimeCalls++
	lt := lifetime{LifetimeCost: tr.t.LifetimeCost, LifetimeCalls: tr.t.LifetimeCalls}
	tr.mu.Unlock()

	if err := tr.save(lt); err != nil {
		tr.log.Warn("persist lifetime cost failed", "err", err)
	}
}

// ResetSession zeroes the session counters.
func (tr *Tracker) ResetSession() {
	tr.mu.Lock()
	tr.t.SessionCost = 0
	tr.t.SessionCalls = 0
	tr.mu.Unlock()
}

// Totals returns the counters with costs rounded to four places.
func (tr *Tracker) Totals() Totals {
	tr.mu.Lock()
	t := tr.t
	tr.mu.Unlock()
	t.SessionCost = Round4(t.SessionCost)
	t.LifetimeCost = Round4(t.LifetimeCost)
	return t
}

// SessionCost returns the unrounded session spend.
func (tr *Tracker) SessionCost() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.t.SessionCost
}

// CheckBudget returns ErrBudgetExceeded when limit is positive and the
// session spend has reached it.
func (tr *Tracker) CheckBudget(limit float64) error {
	if limit <= 0 {
		return nil
	}
	if spent := tr.SessionCost(); spent >= limit {
		return fmt.Errorf("%w: $%.4f of $%.2f", ErrBudgetExceeded, spent, limit)
	}
	return nil
}

func (tr *Tracker) save(lt lifetime) error {
	if tr.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(lt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cost: %w", err)
	}
	return atomicfile.WriteFile(tr.fs, tr.path, data)
}
