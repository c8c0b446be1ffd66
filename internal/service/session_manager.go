package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// SessionManager owns the live ExamSessions of this runner, one per exam.
type SessionManager struct {
	deps SessionDeps
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*ExamSession
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(deps SessionDeps) *SessionManager {
	return &SessionManager{
		deps:     deps,
		log:      deps.Log.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*ExamSession),
	}
}

// Open returns the live session of examID, or mounts a new one when there is
// none or the previous one already ended (a retake resolves again).
// The mount error, if any, is only returned to the caller that mounted.
func (m *SessionManager) Open(ctx context.Context, examID string) (*ExamSession, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[examID]; ok && !isDone(sess) {
		m.mu.Unlock()
		return sess, nil
	}
	sess := NewExamSession(examID, m.deps)
	m.sessions[examID] = sess
	m.mu.Unlock()

	if _, err := sess.Mount(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}

// Get returns the session of examID, live or ended.
func (m *SessionManager) Get(examID string) (*ExamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[examID]
	return sess, ok
}

// Close unmounts and forgets the session of examID.
func (m *SessionManager) Close(examID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[examID]
	delete(m.sessions, examID)
	m.mu.Unlock()

	if ok {
		sess.Unmount()
	}
	return ok
}

// CloseAll unmounts every session. Used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*ExamSession)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Unmount()
	}
	if len(sessions) > 0 {
		m.log.Info().Int("count", len(sessions)).Msg("Exam sessions closed")
	}
}

func isDone(sess *ExamSession) bool {
	select {
	case <-sess.Done():
		return true
	default:
		return false
	}
}

// Live returns the number of sessions that have not ended yet.
func (m *SessionManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if !isDone(sess) {
			n++
		}
	}
	return n
}
