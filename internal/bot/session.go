package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State identifies the current step of a trade-entry conversation.
type State int

const (
	StatePair State = iota
	StateDirection
	StateEntry
	StateExit
	StateStop
	StateSize
	StateNotes
	StateConfirm
)

// DefaultSessionTimeout is how long a conversation may sit idle before
// it is evicted as if cancelled.
const DefaultSessionTimeout = 300 * time.Second

// Draft holds the trade fields collected so far. Nil pointers mean the
// user skipped the field.
type Draft struct {
	Pair      string
	Direction string
	Entry     *float64
	Exit      *float64
	StopLoss  *float64
	Size      *float64
	Notes     *string
}

// Session is the ephemeral per-user conversation state. It lives from
// the /log command until save, cancel or timeout, and is only ever
// touched by its owner's serialized update worker.
type Session struct {
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	State     State
	Draft     Draft

	lastActivity time.Time
}

// SessionRegistry keeps at most one active session per user and evicts
// sessions that have been idle past the timeout.
type SessionRegistry struct {
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewSessionRegistry creates a registry with the given idle timeout.
func NewSessionRegistry(timeout time.Duration, logger *zap.Logger) *SessionRegistry {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionRegistry{
		logger:   logger,
		timeout:  timeout,
		sessions: make(map[int64]*Session),
	}
}

// Start creates a fresh session for the user, discarding any previous
// one along with its collected fields.
func (r *SessionRegistry) Start(userID, chatID int64, username, firstName string) *Session {
	s := &Session{
		UserID:       userID,
		ChatID:       chatID,
		Username:     username,
		FirstName:    firstName,
		State:        StatePair,
		lastActivity: time.Now(),
	}
	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()
	return s
}

// Get returns the user's active session, refreshing its idle clock.
func (r *SessionRegistry) Get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if ok {
		s.lastActivity = time.Now()
	}
	return s, ok
}

// End removes the user's session, wiping the collected fields.
func (r *SessionRegistry) End(userID int64) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
}

// Len reports the number of active sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// evictIdle drops every session idle past the timeout and returns how
// many were dropped. Eviction commits nothing and sends nothing.
func (r *SessionRegistry) evictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, s := range r.sessions {
		if now.Sub(s.lastActivity) >= r.timeout {
			delete(r.sessions, id)
			evicted++
			r.logger.Info("Conversation timed out", zap.Int64("user_id", id))
		}
	}
	return evicted
}

// RunJanitor periodically evicts idle sessions until ctx is cancelled.
func (r *SessionRegistry) RunJanitor(ctx context.Context) {
	interval := r.timeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}
