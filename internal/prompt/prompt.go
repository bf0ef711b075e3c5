// Package prompt builds the instruction text sent to vision providers.
package prompt

import (
	"fmt"
	"strconv"
	"strings"
)

// Placeholder is replaced with stage guidance in both the default and custom templates.
const Placeholder = "{stage_context}"

const (
	earlyMaxLayer   = 5
	lateMinProgress = 80
)

// Stage is the coarse build phase used to tune the prompt.
type Stage string

const (
	StageEarly Stage = "early"
	StageMid   Stage = "mid"
	StageLate  Stage = "late"
)

// Context describes where the print is. Nil pointers mean unknown.
type Context struct {
	Layer       *int
	TotalLayers *int
	Progress    int
}

// StageOf classifies c. A known layer at or below 5 is early even when
// progress is high.
func StageOf(c Context) Stage {
	switch {
	case c.Layer != nil && *c.Layer <= earlyMaxLayer:
		return StageEarly
	case c.Progress >= lateMinProgress:
		return StageLate
	default:
		return StageMid
	}
}

// StageContext renders the stage guidance paragraph.
func StageContext(c Context) string {
	where := fmt.Sprintf("layer %s/%s, %d%%", intOrUnknown(c.Layer), intOrUnknown(c.TotalLayers), c.Progress)

	switch StageOf(c) {
	case StageEarly:
		return "STAGE: Early print (" + where + "). " +
			"Only thin outlines, skirts, and first layers on the bed. Very little material " +
			"is visible — this is NORMAL. Do NOT flag thin/sparse prints at this stage."
	case StageLate:
		return "STAGE: Late print (" + where + "). " +
			"Objects should be nearly complete with full height and defined shapes."
	default:
		return "STAGE: Mid print (" + where + "). " +
			"Objects should be visibly forming with stacked layers. Some height is expected."
	}
}

// Build returns the full prompt. A custom template that is not blank
// replaces the default one; the placeholder is substituted in either.
func Build(c Context, custom string) string {
	template := defaultTemplate
	if t := strings.TrimSpace(custom); t != "" {
		template = t
	}
	return strings.ReplaceAll(template, Placeholder, StageContext(c))
}

func intOrUnknown(p *int) string {
	if p == nil || *p == 0 {
		return "?"
	}
	return strconv.Itoa(*p)
}
