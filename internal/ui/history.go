package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kylegalloway/guardianeye/internal/history"
)

// FormatHistory lists verdicts, newest first as given.
func FormatHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return "No verdicts recorded.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		mark := okMark()
		switch {
		case e.FalsePositive:
			mark = fpMark()
		case e.Failed:
			mark = failMark()
		}
		fmt.Fprintf(&b, "%s  %s  %-4s  cycle %-3d layer %-4s %3d%%  %s/%s %dms $%.4f\n",
			e.ID, e.Timestamp.Local().Format("2006-01-02 15:04:05"), mark,
			e.Cycle, optInt(e.Layer), e.Progress, e.Provider, e.Model, e.LatencyMs, e.Cost)
		if e.Reason != "" {
			fmt.Fprintf(&b, "          %s\n", e.Reason)
		}
	}
	return b.String()
}

// FormatSessions lists print sessions, newest first as given.
func FormatSessions(sessions []history.Session) string {
	if len(sessions) == 0 {
		return "No sessions recorded.\n"
	}
	var b strings.Builder
	for _, s := range sessions {
		name := s.Filename
		if name == "" {
			name = "(unknown file)"
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", s.ID, s.Started.Local().Format("2006-01-02 15:04"), name)

		dur := "running"
		if s.Ended != nil {
			dur = s.Ended.Sub(s.Started).Truncate(time.Second).String()
		}
		score := "-"
		if s.PrintScore != nil {
			score = fmt.Sprintf("%.1f", *s.PrintScore)
		}
		fmt.Fprintf(&b, "    %s | %d cycles | %d ok / %d fail | max streak %d | score %s | $%.4f",
			dur, s.Cycles, s.OKCount, s.FailCount, s.MaxConsecutiveFails, score, s.TotalCost)
		if s.AbortSent {
			b.WriteString(" | " + color.New(color.FgRed).Sprint("aborted"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
