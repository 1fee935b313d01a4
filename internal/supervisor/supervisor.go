// Package supervisor bounds every outbound relay call with a deadline.
//
// The request and a timer race; whichever finishes first decides what the
// caller observes. When the timer wins the request is left running by
// default and its later output is dropped because the session is already
// terminal. Options.CancelOnTimeout tears the request down instead.
package supervisor

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/sentinel"
	"github.com/ashureev/askbar/internal/stream"
)

// Deadlines bound each kind of outbound call.
type Deadlines struct {
	Prompt  time.Duration
	Crawl   time.Duration
	Account time.Duration
}

// DefaultDeadlines returns the standard deadlines.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		Prompt:  20 * time.Second,
		Crawl:   20 * time.Second,
		Account: 5 * time.Second,
	}
}

// Options configure a Supervisor.
type Options struct {
	Deadlines Deadlines
	// CancelOnTimeout cancels the request's context when the deadline wins.
	CancelOnTimeout bool
}

// Opener starts a relay stream for req.
type Opener func(ctx context.Context, req domain.PromptRequest) iter.Seq2[sentinel.Frame, error]

// Outcome is what the caller observes for one Run.
type Outcome struct {
	Session Snapshot
	// LatencyWarning is set when the deadline elapsed first.
	LatencyWarning bool
	// Warning is the user-facing message for a failed session.
	Warning string
}

// Supervisor runs prompt requests under a deadline.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
	wg     sync.WaitGroup
	live   atomic.Int64
}

// New creates a Supervisor. Zero deadlines fall back to the defaults.
func New(opts Options, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultDeadlines()
	if opts.Deadlines.Prompt <= 0 {
		opts.Deadlines.Prompt = def.Prompt
	}
	if opts.Deadlines.Crawl <= 0 {
		opts.Deadlines.Crawl = def.Crawl
	}
	if opts.Deadlines.Account <= 0 {
		opts.Deadlines.Account = def.Account
	}
	return &Supervisor{opts: opts, logger: logger}
}

// Deadlines returns the effective deadlines.
func (s *Supervisor) Deadlines() Deadlines { return s.opts.Deadlines }

// Live returns the number of request goroutines still running, including
// ones that already lost a race.
func (s *Supervisor) Live() int { return int(s.live.Load()) }

// Wait blocks until every request goroutine has finished.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Run dispatches req through open and consumes the stream while racing the
// prompt deadline. publish receives the full accumulated text for every
// accepted chunk and is never called after Run returns. Cancelling ctx
// yields a Cancelled session and cancels the request.
func (s *Supervisor) Run(ctx context.Context, req domain.PromptRequest, open Opener, publish func(string)) Outcome {
	deadline := s.opts.Deadlines.Prompt
	sess := newSession(req, time.Now().Add(deadline))

	reqCtx, cancelReq := context.WithCancel(ctx)
	done := make(chan stream.Result, 1)

	s.live.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.live.Add(-1)
		defer cancelReq()
		res := stream.Consume(reqCtx, open(reqCtx, req), func(text string) {
			sess.publish(text, publish)
		})
		if sess.Snapshot().State.Terminal() {
			s.logger.Debug("[SUPERVISOR] Late request finished after session ended",
				"request_id", req.ID, "state", res.State, "dropped_chunks", res.Chunks)
		}
		done <- res
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	out := Outcome{}
	select {
	case res := <-done:
		sess.finish(res.State, res.Text, res.Code)
	case <-timer.C:
		if sess.finish(domain.SessionFailed, "", sentinel.Timeout) {
			out.LatencyWarning = true
			s.logger.Warn("[SUPERVISOR] Deadline elapsed before the request finished",
				"request_id", req.ID, "preset", req.Preset, "deadline", deadline)
		}
		if s.opts.CancelOnTimeout {
			cancelReq()
		}
	case <-ctx.Done():
		sess.finish(domain.SessionCancelled, "", 0)
	}

	out.Session = sess.Snapshot()
	if out.Session.State == domain.SessionFailed {
		out.Warning = sentinel.Message(out.Session.Code)
	}
	return out
}

// Call races fn against d for one-shot ancillary calls. A timeout returns a
// *sentinel.Error with code Timeout; fn keeps running with ctx.
func Call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		return zero, sentinel.Err(sentinel.Timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
