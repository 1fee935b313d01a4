// Package sentinel defines the reserved error codes that the relay
// multiplexes into the response stream, and the frame format that carries
// them out-of-band on the websocket transport.
//
// On the legacy text transport a chunk whose entire content is one of the
// reserved integers is a control signal. A model answer that is literally
// such an integer cannot be told apart from the signal and is decoded as
// one; clients that need exact answers should use frames.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
)

// Code is a reserved negative integer signalling an out-of-band condition.
type Code int

const (
	NetworkCongestion Code = -1000
	Timeout           Code = -999
	NotSetAPIKey      Code = -998
	TokenTooLong      Code = -997
)

// Codes returns every reserved code.
func Codes() []Code {
	return []Code{NetworkCongestion, Timeout, NotSetAPIKey, TokenTooLong}
}

// Valid reports whether c is a reserved code.
func (c Code) Valid() bool {
	switch c {
	case NetworkCongestion, Timeout, NotSetAPIKey, TokenTooLong:
		return true
	}
	return false
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	switch c {
	case NetworkCongestion:
		return "NETWORK_CONGESTION"
	case Timeout:
		return "TIMEOUT"
	case NotSetAPIKey:
		return "NOT_SET_APIKEY"
	case TokenTooLong:
		return "TOKEN_TOO_LONG"
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

// Message returns the warning shown to the user for the code.
func Message(c Code) string {
	switch c {
	case NetworkCongestion:
		return "Network error. Check whether you have set up a proxy"
	case Timeout:
		return "High network latency. Check whether you have set up a proxy"
	case NotSetAPIKey:
		return "please set your apikey first."
	case TokenTooLong:
		return "The prompt is too long. Shorten it or reduce the quantity of context"
	}
	return "Unknown error"
}

// Parse decodes a chunk as a control signal. It succeeds only when the whole
// chunk, ignoring surrounding whitespace, is a decimal integer equal to a
// reserved code.
func Parse(chunk string) (Code, bool) {
	s := strings.TrimSpace(chunk)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	c := Code(n)
	if !c.Valid() {
		return 0, false
	}
	return c, true
}

// Encode returns the wire text of the code on the legacy transport.
func Encode(c Code) []byte {
	return []byte(strconv.Itoa(int(c)))
}

// Error carries a sentinel code as a Go error.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, Message(e.Code))
}

// Unwrap exposes the errdefs class of the code so callers can use
// errdefs.IsUnavailable and friends.
func (e *Error) Unwrap() error {
	switch e.Code {
	case NetworkCongestion:
		return errdefs.ErrUnavailable
	case Timeout:
		return context.DeadlineExceeded
	case NotSetAPIKey:
		return errdefs.ErrFailedPrecondition
	case TokenTooLong:
		return errdefs.ErrInvalidArgument
	}
	return errdefs.ErrUnknown
}

// Err wraps c as an error.
func Err(c Code) error {
	return &Error{Code: c}
}

// FromError extracts a sentinel code from err.
func FromError(err error) (Code, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
