package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"nano-banana-studio/internal/studio"
)

const defaultIdleTTL = 6 * time.Hour

// Factory builds the studio session of a Telegram user.
type Factory func(userID int64) *studio.Session

type Options struct {
	New     Factory
	IdleTTL time.Duration
	// OnEvict runs after an idle session of userID has been closed.
	OnEvict func(userID int64)
	Now     func() time.Time
	Logger  *slog.Logger
}

type entry struct {
	session      *studio.Session
	lastActivity time.Time
}

// Store owns one studio session per user and closes the ones left idle.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	factory  Factory
	idleTTL  time.Duration
	onEvict  func(userID int64)
	now      func() time.Time
	logger   *slog.Logger
}

func NewStore(opts Options) *Store {
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Store{
		sessions: make(map[int64]*entry),
		factory:  opts.New,
		idleTTL:  idleTTL,
		onEvict:  opts.OnEvict,
		now:      now,
		logger:   logger,
	}
}

// Get returns the session of userID, creating it on first use.
func (s *Store) Get(userID int64) *studio.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[userID]; ok {
		e.lastActivity = s.now()
		return e.session
	}

	sess := s.factory(userID)
	s.sessions[userID] = &entry{session: sess, lastActivity: s.now()}
	s.logger.Debug("studio session created", "user_id", userID)
	return sess
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Evict closes sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Store) Evict() int {
	s.mu.Lock()
	cutoff := s.now().Add(-s.idleTTL)
	idle := make(map[int64]*studio.Session)
	for userID, e := range s.sessions {
		if e.lastActivity.Before(cutoff) {
			idle[userID] = e.session
			delete(s.sessions, userID)
			s.logger.Debug("studio session evicted", "user_id", userID)
		}
	}
	s.mu.Unlock()

	for userID, sess := range idle {
		sess.Close()
		if s.onEvict != nil {
			s.onEvict(userID)
		}
	}
	return len(idle)
}

// Run evicts idle sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				s.logger.Info("idle sessions evicted", "count", n)
			}
		}
	}
}

// Close shuts down every session.
func (s *Store) Close() {
	s.mu.Lock()
	all := make([]*studio.Session, 0, len(s.sessions))
	for userID, e := range s.sessions {
		all = append(all, e.session)
		delete(s.sessions, userID)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}
