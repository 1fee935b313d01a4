package sentinel

import (
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
)

// FrameKind distinguishes payload from control frames.
type FrameKind string

const (
	FrameData    FrameKind = "data"
	FrameControl FrameKind = "control"
)

// Frame is one unit of the hardened stream protocol. Data frames carry model
// text verbatim; control frames carry a sentinel code.
type Frame struct {
	Kind FrameKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Code Code      `json:"code,omitempty"`
}

// DataFrame wraps model text.
func DataFrame(text string) Frame {
	return Frame{Kind: FrameData, Text: text}
}

// ControlFrame wraps a sentinel code.
func ControlFrame(c Code) Frame {
	return Frame{Kind: FrameControl, Code: c}
}

// MarshalFrame encodes f as JSON.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame decodes and validates a JSON frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Kind {
	case FrameData:
		return f, nil
	case FrameControl:
		if !f.Code.Valid() {
			return Frame{}, fmt.Errorf("control frame with code %d: %w", int(f.Code), errdefs.ErrInvalidArgument)
		}
		return f, nil
	default:
		return Frame{}, fmt.Errorf("frame kind %q: %w", f.Kind, errdefs.ErrInvalidArgument)
	}
}
