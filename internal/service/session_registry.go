package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/domain"
)

// DefaultSessionTTL is how long an untouched session survives
const DefaultSessionTTL = 2 * time.Hour

// SessionRegistry holds the open analysis sessions. Sessions idle for longer than
// the TTL, or evicted by the size bound, are discarded.
type SessionRegistry struct {
	// mu makes the Get+Add refresh atomic with respect to Delete
	mu       sync.Mutex
	sessions *expirable.LRU[string, *AnalysisSession]
	logger   *logrus.Logger
}

// NewSessionRegistry creates a registry for at most maxSessions sessions
func NewSessionRegistry(maxSessions int, idleTTL time.Duration, logger *logrus.Logger) *SessionRegistry {
	r := &SessionRegistry{logger: logger}
	r.sessions = expirable.NewLRU[string, *AnalysisSession](maxSessions, r.onEvict, idleTTL)
	return r
}

// Create opens a new empty session
func (r *SessionRegistry) Create() *AnalysisSession {
	session := NewAnalysisSession(uuid.New().String(), r.logger)
	r.mu.Lock()
	r.sessions.Add(session.ID(), session)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session_id": session.ID(),
		"sessions":   r.sessions.Len(),
	}).Info("Session created")

	return session
}

// Get returns the session and refreshes its idle timer
func (r *SessionRegistry) Get(id string) (*AnalysisSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	r.sessions.Add(id, session)
	return session, nil
}

// Delete discards a session. It reports whether the session existed.
func (r *SessionRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Remove(id)
}

// Len returns the number of open sessions
func (r *SessionRegistry) Len() int {
	return r.sessions.Len()
}

func (r *SessionRegistry) onEvict(id string, _ *AnalysisSession) {
	r.logger.WithField("session_id", id).Debug("Session discarded")
}
