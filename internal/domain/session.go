package domain

// SessionState is the lifecycle state of one prompt's stream session.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionStreaming SessionState = "streaming"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
	SessionCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

func (s SessionState) rank() int {
	switch s {
	case SessionPending:
		return 0
	case SessionStreaming:
		return 1
	case SessionCompleted, SessionFailed, SessionCancelled:
		return 2
	}
	return -1
}

// CanTransition reports whether s may move to next. Transitions are
// monotonic: Pending -> Streaming -> terminal, Pending may skip to terminal,
// and terminal states never change.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 {
		return false
	}
	return to > from
}
