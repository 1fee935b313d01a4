// Package stream turns a relay response into growing text or a terminal error.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"unicode/utf8"

	"github.com/ashureev/askbar/internal/sentinel"
)

// DefaultChunkSize is the read buffer used when none is given.
const DefaultChunkSize = 4096

// Chunks reads r incrementally and yields every read as one chunk, in order.
// A multi-byte UTF-8 sequence split across reads is held back until it is
// complete. io.EOF ends the sequence; any other read error is yielded once.
func Chunks(ctx context.Context, r io.Reader, size int) iter.Seq2[string, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func(string, error) bool) {
		buf := make([]byte, size)
		var pending []byte
		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			n, err := r.Read(buf)
			if n > 0 {
				data := append(pending, buf[:n]...)
				cut := completePrefix(data)
				pending = append([]byte(nil), data[cut:]...)
				if cut > 0 {
					if !yield(string(data[:cut]), nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				if len(pending) > 0 {
					yield(string(pending), nil)
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}

// completePrefix returns the length of data without a trailing incomplete rune.
func completePrefix(data []byte) int {
	end := len(data)
	for i := end - 1; i >= 0 && i >= end-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return i
			}
			return end
		}
	}
	return end
}

// DecodeChunks applies the legacy sentinel rule to raw text chunks: a chunk
// that is exactly a reserved code becomes a control frame, anything else is
// passed through verbatim as data.
func DecodeChunks(chunks iter.Seq2[string, error]) iter.Seq2[sentinel.Frame, error] {
	return func(yield func(sentinel.Frame, error) bool) {
		for chunk, err := range chunks {
			if err != nil {
				yield(sentinel.Frame{}, err)
				return
			}
			if code, ok := sentinel.Parse(chunk); ok {
				if !yield(sentinel.ControlFrame(code), nil) {
					return
				}
				continue
			}
			if !yield(sentinel.DataFrame(chunk), nil) {
				return
			}
		}
	}
}
