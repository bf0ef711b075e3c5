package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/history"
	"github.com/kylegalloway/guardianeye/internal/monitor"
)

func okMark() string   { return color.New(color.FgGreen).Sprint("OK") }
func failMark() string { return color.New(color.FgRed, color.Bold).Sprint("FAIL") }
func fpMark() string   { return color.New(color.FgYellow).Sprint("FP") }

// FormatCycle returns a single-line summary for display after each cycle.
func FormatCycle(s monitor.State) string {
	verdict := "-"
	if s.LastVerdict != nil {
		verdict = okMark()
		if s.LastVerdict.Failed {
			verdict = failMark()
		}
	}
	return fmt.Sprintf("Cycle %d | %s | layer %s | %d%% | strikes %d",
		s.CycleCount, verdict, optInt(s.Layer), s.Progress, s.ConsecutiveFailures)
}

// FormatState returns a multi-line status report.
func FormatState(s monitor.State) string {
	var b strings.Builder
	b.WriteString("\n=== GuardianEye Status ===\n")
	if s.Active {
		fmt.Fprintf(&b, "Monitor:    %s\n", color.New(color.FgGreen).Sprint("active"))
	} else {
		fmt.Fprintf(&b, "Monitor:    %s\n", color.New(color.FgYellow).Sprint("idle"))
	}
	fmt.Fprintf(&b, "Cycles:     %d\n", s.CycleCount)
	fmt.Fprintf(&b, "Layer:      %s/%s\n", optInt(s.Layer), optInt(s.TotalLayers))
	fmt.Fprintf(&b, "Progress:   %d%%\n", s.Progress)
	fmt.Fprintf(&b, "Strikes:    %d\n", s.ConsecutiveFailures)

	if v := s.LastVerdict; v != nil {
		mark := okMark()
		if v.Failed {
			mark = failMark()
		}
		fmt.Fprintf(&b, "Last:       %s %s (%s/%s, %dms)\n", mark, v.Reason, v.Provider, v.Model, v.LatencyMs)
	}
	if s.LastSnapshot != "" {
		fmt.Fprintf(&b, "Snapshot:   %s\n", s.LastSnapshot)
	}
	if s.FailureDetected {
		fmt.Fprintf(&b, "\n%s %s\n", failMark(), s.FailureReason)
		if s.AbortSent {
			b.WriteString("  Print cancelled.\n")
		} else {
			b.WriteString("  Print was NOT cancelled.\n")
		}
	}
	if s.BudgetExhausted {
		fmt.Fprintf(&b, "%s session budget exhausted, vision skipped\n", color.New(color.FgYellow).Sprint("!"))
	}
	if len(s.Errors) > 0 {
		b.WriteString("\nRecent errors:\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "\nUpdated:    %s\n", s.UpdatedAt.Format(time.RFC3339))
	}
	b.WriteString("==========================\n")
	return b.String()
}

// FormatStatistics returns the verdict statistics and spend report.
func FormatStatistics(st history.Statistics, t cost.Totals) string {
	var b strings.Builder
	b.WriteString("\n=== Verdict Statistics ===\n")
	fmt.Fprintf(&b, "Total:      %d\n", st.Total)
	fmt.Fprintf(&b, "  OK:       %d\n", st.OK)
	fmt.Fprintf(&b, "  Fail:     %d\n", st.Fail)
	fmt.Fprintf(&b, "  False +:  %d (%.1f%% of failures)\n", st.FalsePositives, st.FPRate)
	fmt.Fprintf(&b, "Latency:    %dms avg\n", st.AvgLatencyMs)
	b.WriteString("\nCost:\n")
	fmt.Fprintf(&b, "  History:  $%.4f\n", st.TotalCost)
	fmt.Fprintf(&b, "  Session:  $%.4f (%d calls)\n", t.SessionCost, t.SessionCalls)
	fmt.Fprintf(&b, "  Lifetime: $%.4f (%d calls)\n", t.LifetimeCost, t.LifetimeCalls)
	b.WriteString("==========================\n")
	return b.String()
}

func optInt(p *int) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprint(*p)
}
