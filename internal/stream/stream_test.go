package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/sentinel"
)

func textChunks(chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func TestConsumePublishesFullTextInOrder(t *testing.T) {
	t.Parallel()

	var published []string
	res := Consume(context.Background(), DecodeChunks(textChunks("Hel", "lo")), func(s string) {
		published = append(published, s)
	})

	if res.State != domain.SessionCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}
	if res.Text != "Hello" {
		t.Fatalf("expected Hello, got %q", res.Text)
	}
	want := []string{"Hel", "Hello"}
	if len(published) != len(want) {
		t.Fatalf("expected %d publishes, got %v", len(want), published)
	}
	for i := range want {
		if published[i] != want[i] {
			t.Fatalf("publish %d = %q, want %q", i, published[i], want[i])
		}
	}
}

func TestConsumeSentinelChunkIsNeverAppended(t *testing.T) {
	t.Parallel()

	calls := 0
	res := Consume(context.Background(), DecodeChunks(textChunks("-998")), func(string) { calls++ })

	if res.State != domain.SessionFailed || res.Code != sentinel.NotSetAPIKey {
		t.Fatalf("expected failed NotSetAPIKey, got %s %v", res.State, res.Code)
	}
	if res.Text != "" || calls != 0 {
		t.Fatalf("sentinel must not be appended: text=%q calls=%d", res.Text, calls)
	}
	if code, ok := sentinel.FromError(res.Err); !ok || code != sentinel.NotSetAPIKey {
		t.Fatalf("expected sentinel error, got %v", res.Err)
	}
}

func TestConsumeStopsAtControlFrame(t *testing.T) {
	t.Parallel()

	res := Consume(context.Background(), DecodeChunks(textChunks("partial ", "-1000", "ignored")), nil)
	if res.State != domain.SessionFailed || res.Code != sentinel.NetworkCongestion {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Text != "partial " {
		t.Fatalf("text after control frame must be dropped, got %q", res.Text)
	}
}

func TestConsumeReadErrorIsNetworkCongestion(t *testing.T) {
	t.Parallel()

	frames := func(yield func(sentinel.Frame, error) bool) {
		if !yield(sentinel.DataFrame("abc"), nil) {
			return
		}
		yield(sentinel.Frame{}, errors.New("connection reset"))
	}
	res := Consume(context.Background(), frames, nil)
	if res.State != domain.SessionFailed || res.Code != sentinel.NetworkCongestion {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Text != "abc" {
		t.Fatalf("expected partial text kept, got %q", res.Text)
	}
}

func TestConsumeCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	frames := func(yield func(sentinel.Frame, error) bool) {
		if !yield(sentinel.DataFrame("a"), nil) {
			return
		}
		cancel()
		yield(sentinel.DataFrame("b"), nil)
	}
	res := Consume(ctx, frames, nil)
	if res.State != domain.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", res.State)
	}
	if res.Text != "a" {
		t.Fatalf("expected only pre-cancel text, got %q", res.Text)
	}
}

func TestSentinelLookingDataFrameStaysData(t *testing.T) {
	t.Parallel()

	frames := func(yield func(sentinel.Frame, error) bool) {
		yield(sentinel.DataFrame("-998"), nil)
	}
	res := Consume(context.Background(), frames, nil)
	if res.State != domain.SessionCompleted || res.Text != "-998" {
		t.Fatalf("data frame must be appended verbatim: %+v", res)
	}
}

func TestChunksKeepsMultiByteRunesWhole(t *testing.T) {
	t.Parallel()

	src := "héllo 世界"
	var got []string
	for chunk, err := range Chunks(context.Background(), iotest.OneByteReader(strings.NewReader(src)), 1) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, chunk)
	}
	if strings.Join(got, "") != src {
		t.Fatalf("round trip mismatch: %q", strings.Join(got, ""))
	}
	for _, c := range got {
		if strings.ContainsRune(c, '�') {
			t.Fatalf("chunk %q contains a broken rune", c)
		}
	}
}

func TestChunksYieldsReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("ok"), iotest.ErrReader(boom))
	var errs []error
	var text string
	for chunk, err := range Chunks(context.Background(), r, 16) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		text += chunk
	}
	if text != "ok" || len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("unexpected text=%q errs=%v", text, errs)
	}
}

func TestAccumulatorFrozenRejectsAppend(t *testing.T) {
	t.Parallel()

	var a Accumulator
	a.Append("x")
	a.Freeze()
	if a.Append("y") {
		t.Fatal("append after freeze should fail")
	}
	if a.String() != "x" {
		t.Fatalf("unexpected text %q", a.String())
	}
}
