package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/askbar/internal/sentinel"
)

var errReaderGone = errors.New("frame reader stopped")

// FrameWriter is the outbound side of one relay stream.
type FrameWriter interface {
	WriteData(text string) error
	WriteControl(code sentinel.Code) error
}

// TextWriter speaks the legacy protocol: data is written verbatim and a
// control signal is written as the bare decimal code. Every write is flushed
// so the client sees chunks as they arrive.
type TextWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewTextWriter wraps w. Flushing is skipped when w does not support it.
func NewTextWriter(w io.Writer) *TextWriter {
	f, _ := w.(http.Flusher)
	return &TextWriter{w: w, flusher: f}
}

func (t *TextWriter) write(p []byte) error {
	if _, err := t.w.Write(p); err != nil {
		return err
	}
	if t.flusher != nil {
		t.flusher.Flush()
	}
	return nil
}

// WriteData implements FrameWriter.
func (t *TextWriter) WriteData(text string) error {
	if text == "" {
		return nil
	}
	return t.write([]byte(text))
}

// WriteControl implements FrameWriter.
func (t *TextWriter) WriteControl(code sentinel.Code) error {
	return t.write(sentinel.Encode(code))
}

// WSWriter sends JSON frames over a websocket.
type WSWriter struct {
	ctx  context.Context
	conn *websocket.Conn
}

// NewWSWriter wraps conn.
func NewWSWriter(ctx context.Context, conn *websocket.Conn) *WSWriter {
	return &WSWriter{ctx: ctx, conn: conn}
}

// WriteData implements FrameWriter.
func (w *WSWriter) WriteData(text string) error {
	if text == "" {
		return nil
	}
	return wsjson.Write(w.ctx, w.conn, sentinel.DataFrame(text))
}

// WriteControl implements FrameWriter.
func (w *WSWriter) WriteControl(code sentinel.Code) error {
	return wsjson.Write(w.ctx, w.conn, sentinel.ControlFrame(code))
}

// chanWriter hands frames to an in-process reader.
type chanWriter struct {
	ctx  context.Context
	ch   chan<- sentinel.Frame
	done <-chan struct{}
}

func (c *chanWriter) send(f sentinel.Frame) error {
	select {
	case c.ch <- f:
		return nil
	case <-c.done:
		return errReaderGone
	case <-c.ctx.Done():
		return fmt.Errorf("send frame: %w", c.ctx.Err())
	}
}

func (c *chanWriter) WriteData(text string) error {
	if text == "" {
		return nil
	}
	return c.send(sentinel.DataFrame(text))
}

func (c *chanWriter) WriteControl(code sentinel.Code) error {
	return c.send(sentinel.ControlFrame(code))
}
