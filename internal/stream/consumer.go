package stream

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/sentinel"
)

// Accumulator collects streamed text. It only grows while open and is
// frozen by any terminal transition.
type Accumulator struct {
	mu     sync.RWMutex
	buf    strings.Builder
	frozen bool
}

// Append adds text unless the accumulator is frozen.
func (a *Accumulator) Append(s string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return false
	}
	a.buf.WriteString(s)
	return true
}

// Freeze stops further growth.
func (a *Accumulator) Freeze() {
	a.mu.Lock()
	a.frozen = true
	a.mu.Unlock()
}

// String returns the accumulated text.
func (a *Accumulator) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buf.String()
}

// Result is the terminal outcome of consuming one stream.
type Result struct {
	State  domain.SessionState
	Text   string
	Code   sentinel.Code
	Err    error
	Chunks int
}

// Consume reads frames until the stream ends or a control frame arrives.
// Every data frame is appended verbatim and publish receives the full
// accumulated text, never a delta. A control frame aborts the read loop and
// is never appended. Read errors map to NetworkCongestion; cancellation of
// ctx yields Cancelled.
func Consume(ctx context.Context, frames iter.Seq2[sentinel.Frame, error], publish func(string)) Result {
	var acc Accumulator
	chunks := 0

	finish := func(state domain.SessionState, code sentinel.Code, err error) Result {
		acc.Freeze()
		return Result{State: state, Text: acc.String(), Code: code, Err: err, Chunks: chunks}
	}

	for f, err := range frames {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(domain.SessionCancelled, 0, ctxErr)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return finish(domain.SessionCancelled, 0, err)
			}
			if code, ok := sentinel.FromError(err); ok {
				return finish(domain.SessionFailed, code, err)
			}
			return finish(domain.SessionFailed, sentinel.NetworkCongestion, err)
		}

		switch f.Kind {
		case sentinel.FrameControl:
			return finish(domain.SessionFailed, f.Code, sentinel.Err(f.Code))
		case sentinel.FrameData:
			chunks++
			if acc.Append(f.Text) && publish != nil {
				publish(acc.String())
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return finish(domain.SessionCancelled, 0, err)
	}
	return finish(domain.SessionCompleted, 0, nil)
}
