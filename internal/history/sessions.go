package history

import (
	"crypto/rand"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/ring"
)

// Session summarises one monitored print.
type Session struct {
	ID                  string     `json:"id"`
	Started             time.Time  `json:"started"`
	Ended               *time.Time `json:"ended,omitempty"`
	Filename            string     `json:"filename"`
	Cycles              int        `json:"cycles"`
	OKCount             int        `json:"ok_count"`
	FailCount           int        `json:"fail_count"`
	MaxConsecutiveFails int        `json:"max_consecutive_fails"`
	AbortSent           bool       `json:"abort_sent"`
	TotalCost           float64    `json:"total_cost"`
	// PrintScore is the percentage of OK verdicts; nil when no verdicts were recorded.
	PrintScore *float64 `json:"print_score"`

	streak int
}

// SessionLog holds finished sessions and at most one open session.
type SessionLog struct {
	mu       sync.Mutex
	sessions *ring.Buffer[Session]
	current  *Session
	entropy  *ulid.MonotonicEntropy

	fs   afero.Fs
	path string
	log  *slog.Logger
	now  func() time.Time
}

// OpenSessionLog loads session_history.json from dataDir.
func OpenSessionLog(fs afero.Fs, dataDir string, log *slog.Logger) *SessionLog {
	if log == nil {
		log = slog.Default()
	}
	l := &SessionLog{
		fs:      fs,
		path:    filepath.Join(dataDir, SessionFile),
		log:     log.With("component", "history"),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	var stored []Session
	loadDocument(fs, l.path, &stored, l.log)
	l.sessions = ring.FromSlice(MaxSessions, stored)
	return l
}

// StartSession opens a new session. An already open session is discarded
// with a warning; callers should end it first.
func (l *SessionLog) StartSession(filename string) Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		l.log.Warn("discarding open session", "session", l.current.ID, "filename", l.current.Filename)
	}
	now := l.now()
	l.current = &Session{
		ID:       ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		Started:  now,
		Filename: filename,
	}
	return *l.current
}

// RecordVerdict folds one verdict into the open session. It is a no-op without one.
func (l *SessionLog) RecordVerdict(failed bool, c float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if s == nil {
		return
	}
	s.Cycles++
	s.TotalCost += c
	if failed {
		s.FailCount++
		s.streak++
		s.MaxConsecutiveFails = max(s.MaxConsecutiveFails, s.streak)
	} else {
		s.OKCount++
		s.streak = 0
	}
}

// EndSession finalises, stores and returns the open session. With no open
// session it returns false and changes nothing.
func (l *SessionLog) EndSession(abortSent bool) (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if s == nil {
		return Session{}, false
	}
	ended := l.now()
	s.Ended = &ended
	s.AbortSent = abortSent
	s.TotalCost = cost.Round4(s.TotalCost)
	if s.Cycles > 0 {
		score := round1(float64(s.OKCount) / float64(s.Cycles) * 100)
		s.PrintScore = &score
	}

	l.sessions.Push(*s)
	l.current = nil
	if err := saveDocument(l.fs, l.path, l.sessions.Slice()); err != nil {
		l.log.Warn("could not save session history", "err", err)
	}
	return *s, true
}

// Current returns the open session, if any.
func (l *SessionLog) Current() (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Session{}, false
	}
	return *l.current, true
}

// Sessions returns up to limit finished sessions, newest first. limit <= 0 returns all.
func (l *SessionLog) Sessions(limit int) []Session {
	if limit <= 0 {
		limit = -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions.Last(limit)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
