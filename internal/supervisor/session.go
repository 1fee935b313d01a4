package supervisor

import (
	"sync"
	"time"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/sentinel"
)

// Snapshot is a copy of a Session at one instant.
type Snapshot struct {
	RequestID string              `json:"request_id"`
	Preset    domain.Preset       `json:"preset"`
	Deadline  time.Time           `json:"deadline"`
	State     domain.SessionState `json:"state"`
	Text      string              `json:"text"`
	Code      sentinel.Code       `json:"code,omitempty"`
}

// Session is the lifecycle of one prompt from dispatch to a terminal state.
// State only moves forward and text only changes while streaming.
type Session struct {
	mu   sync.Mutex
	snap Snapshot
}

func newSession(req domain.PromptRequest, deadline time.Time) *Session {
	return &Session{snap: Snapshot{
		RequestID: req.ID,
		Preset:    req.Preset,
		Deadline:  deadline,
		State:     domain.SessionPending,
	}}
}

// Snapshot returns a copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Session) transitionLocked(next domain.SessionState) bool {
	if !s.snap.State.CanTransition(next) {
		return false
	}
	s.snap.State = next
	return true
}

// publish records text and forwards it to fn while the session is live.
// fn runs under the session lock, so nothing is delivered after a terminal
// transition.
func (s *Session) publish(text string, fn func(string)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State.Terminal() {
		return false
	}
	if s.snap.State == domain.SessionPending {
		s.transitionLocked(domain.SessionStreaming)
	}
	s.snap.Text = text
	if fn != nil {
		fn(text)
	}
	return true
}

// finish moves the session to a terminal state.
func (s *Session) finish(state domain.SessionState, text string, code sentinel.Code) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transitionLocked(state) {
		return false
	}
	if state == domain.SessionCompleted {
		s.snap.Text = text
	}
	if state == domain.SessionFailed {
		s.snap.Code = code
	}
	return true
}
