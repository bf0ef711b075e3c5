package history

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/ring"
	"github.com/kylegalloway/guardianeye/internal/vision"
)

// Entry is one recorded verdict.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Cycle         int       `json:"cycle"`
	Layer         *int      `json:"layer"`
	Progress      int       `json:"progress"`
	Failed        bool      `json:"failed"`
	Reason        string    `json:"reason"`
	Confidence    float64   `json:"confidence"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	LatencyMs     int64     `json:"latency_ms"`
	Cost          float64   `json:"cost"`
	FalsePositive bool      `json:"false_positive"`
	Snapshot      *string   `json:"snapshot"`
}

// Context is the monitor position a verdict was taken at.
type Context struct {
	Cycle    int
	Layer    *int
	Progress int
	// Snapshot is the base file name of the analysed frame, if any.
	Snapshot string
}

// Statistics aggregates the verdict log.
type Statistics struct {
	Total          int     `json:"total"`
	OK             int     `json:"ok"`
	Fail           int     `json:"fail"`
	FalsePositives int     `json:"false_positives"`
	FPRate         float64 `json:"fp_rate"`
	AvgLatencyMs   int64   `json:"avg_latency"`
	TotalCost      float64 `json:"total_cost"`
}

// VerdictLog is a bounded, persisted log of verdicts.
type VerdictLog struct {
	mu      sync.Mutex
	entries *ring.Buffer[Entry]

	fs   afero.Fs
	path string
	log  *slog.Logger
	now  func() time.Time
}

// OpenVerdictLog loads verdict_history.json from dataDir.
func OpenVerdictLog(fs afero.Fs, dataDir string, log *slog.Logger) *VerdictLog {
	if log == nil {
		log = slog.Default()
	}
	l := &VerdictLog{
		fs:   fs,
		path: filepath.Join(dataDir, VerdictFile),
		log:  log.With("component", "history"),
		now:  time.Now,
	}
	var stored []Entry
	loadDocument(fs, l.path, &stored, l.log)
	l.entries = ring.FromSlice(MaxVerdicts, stored)
	return l
}

// Add appends a verdict and persists the log. The oldest entry is evicted at capacity.
func (l *VerdictLog) Add(v vision.Verdict, c Context) Entry {
	e := Entry{
		ID:         newEntryID(),
		Timestamp:  l.now(),
		Cycle:      c.Cycle,
		Layer:      c.Layer,
		Progress:   c.Progress,
		Failed:     v.Failed,
		Reason:     v.Reason,
		Confidence: v.Confidence,
		Provider:   v.Provider,
		Model:      v.Model,
		LatencyMs:  v.LatencyMs,
		Cost:       v.Cost,
	}
	if c.Snapshot != "" {
		name := c.Snapshot
		e.Snapshot = &name
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Push(e)
	l.saveLocked()
	return e
}

// MarkFalsePositive flags the entry with id. It reports whether it was found.
func (l *VerdictLog) MarkFalsePositive(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.entries.Len(); i++ {
		if e := l.entries.Ptr(i); e.ID == id {
			e.FalsePositive = true
			l.saveLocked()
			return true
		}
	}
	return false
}

// Entries returns up to limit entries, newest first. limit <= 0 returns all.
func (l *VerdictLog) Entries(limit int) []Entry {
	if limit <= 0 {
		limit = -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Last(limit)
}

// Len returns the number of stored entries.
func (l *VerdictLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}

// Clear removes every entry and persists the empty log.
func (l *VerdictLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Reset()
	l.saveLocked()
}

// Statistics summarises the log. The false-positive rate is relative to
// failures and is 0 when there are none.
func (l *VerdictLog) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Statistics
	s.Total = l.entries.Len()
	if s.Total == 0 {
		return s
	}

	var latency int64
	var total float64
	for i := 0; i < s.Total; i++ {
		e := l.entries.Ptr(i)
		if e.Failed {
			s.Fail++
		} else {
			s.OK++
		}
		if e.FalsePositive {
			s.FalsePositives++
		}
		latency += e.LatencyMs
		total += e.Cost
	}
	s.FPRate = round1(float64(s.FalsePositives) / float64(max(s.Fail, 1)) * 100)
	s.AvgLatencyMs = latency / int64(s.Total)
	s.TotalCost = cost.Round4(total)
	return s
}

func (l *VerdictLog) saveLocked() {
	if err := saveDocument(l.fs, l.path, l.entries.Slice()); err != nil {
		l.log.Warn("could not save verdict history", "err", err)
	}
}

// newEntryID returns an 8 hex character id.
func newEntryID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
