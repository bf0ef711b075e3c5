package monitor

import (
	"time"

	"github.com/kylegalloway/guardianeye/internal/vision"
)

// MaxErrors is how many recent cycle errors State keeps.
const MaxErrors = 10

// State is a copy of the monitor's state at one instant.
type State struct {
	Active              bool            `json:"active"`
	CycleCount          int             `json:"cycle_count"`
	LastVerdict         *vision.Verdict `json:"last_verdict"`
	LastSnapshot        string          `json:"last_snapshot_path,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	FailureDetected     bool            `json:"failure_detected"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	AbortSent           bool            `json:"abort_sent"`
	BudgetExhausted     bool            `json:"budget_exhausted"`
	Layer               *int            `json:"layer"`
	TotalLayers         *int            `json:"total_layers"`
	Progress            int             `json:"progress"`
	Errors              []string        `json:"errors"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
