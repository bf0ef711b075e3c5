package host

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// JobSource reports the host's current job.
type JobSource interface {
	Job(ctx context.Context) (*Job, error)
}

// Poller turns periodic job snapshots into lifecycle events.
type Poller struct {
	src      JobSource
	interval time.Duration
	log      *slog.Logger

	printing  bool
	cancelled bool
	progress  int
}

// NewPoller returns a poller reading src every interval.
func NewPoller(src JobSource, interval time.Duration, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{src: src, interval: interval, log: log.With("component", "host")}
}

// Run polls until ctx is cancelled, sending events to out. A print already
// running at the first poll is reported as started.
func (p *Poller) Run(ctx context.Context, out chan<- Event) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx, out)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context, out chan<- Event) {
	job, err := p.src.Job(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("poll job failed", "err", err)
		}
		return
	}
	for _, ev := range p.Observe(job) {
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Observe folds one job snapshot into the poller and returns the resulting events.
func (p *Poller) Observe(job *Job) []Event {
	state := job.State
	completion := int(job.Completion())
	var events []Event

	if isActive(state) {
		if !p.printing {
			p.printing = true
			p.cancelled = false
			p.progress = -1
			events = append(events, Event{Type: PrintStarted, Filename: job.Job.File.Name})
		}
		if strings.HasPrefix(state, "Cancelling") {
			p.cancelled = true
		}
		if completion != p.progress {
			p.progress = completion
			events = append(events, Event{Type: Progress, Progress: completion})
		}
		return events
	}

	if !p.printing {
		return nil
	}
	p.printing = false

	switch {
	case isError(state):
		events = append(events, Event{Type: PrintFailed})
	case p.cancelled:
		events = append(events, Event{Type: PrintCancelled})
	case completion >= 100 || p.progress >= 100:
		events = append(events, Event{Type: PrintDone})
	default:
		events = append(events, Event{Type: PrintCancelled})
	}
	return events
}

func isActive(state string) bool {
	for _, prefix := range []string{"Printing", "Pausing", "Paused", "Resuming", "Finishing", "Cancelling", "Starting"} {
		if strings.HasPrefix(state, prefix) {
			return true
		}
	}
	return false
}

func isError(state string) bool {
	return strings.Contains(state, "Error") || strings.HasPrefix(state, "Offline")
}
