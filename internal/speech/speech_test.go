package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vassist/internal/bus"
)

func TestLineSource_Lines(t *testing.T) {
	var claimed []string
	src := NewLineSource(strings.NewReader("hey vox open github\n\n   \nyes\nwhat time is it\n"), func(s string) bool {
		if s == "yes" {
			claimed = append(claimed, s)
			return true
		}
		return false
	})
	ctx := context.Background()

	got, err := src.Next(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "hey vox open github", got)

	got, err = src.Next(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "what time is it", got)
	assert.Equal(t, []string{"yes"}, claimed)

	_, err = src.Next(ctx, nil)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineSource_FeedOnly(t *testing.T) {
	src := NewLineSource(nil, nil)
	defer src.Close()

	go src.Feed("  open youtube ")
	got, err := src.Next(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "open youtube", got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLineSource_Close(t *testing.T) {
	src := NewLineSource(nil, nil)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err := src.Next(context.Background(), nil)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, src.Feed("too late"))
}

type fakeReader struct {
	msgs []*bus.Message
	err  error
}

func (f *fakeReader) Read() (*bus.Message, error) {
	if len(f.msgs) == 0 {
		return nil, f.err
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func TestBusSource(t *testing.T) {
	errGone := errors.New("connection closed")
	r := &fakeReader{
		msgs: []*bus.Message{
			{From: "mic", Kind: bus.KindPartial, Content: "hey"},
			{From: "mic", Kind: bus.KindPartial, Content: "hey vox"},
			{From: "mic", Kind: bus.KindFinal, Content: " hey vox open github "},
			{From: "ui", Kind: bus.KindAnswer, Content: "yes"},
			{From: "ui", Kind: bus.KindReply, Content: "ignored"},
			{From: "mic", Kind: bus.KindFinal, Content: ""},
			{From: "mic2", Kind: bus.KindFinal, Content: "what time is it"},
		},
		err: errGone,
	}

	var answers []string
	src := NewBusSource(r, func(s string) bool {
		answers = append(answers, s)
		return false
	})

	var partials []string
	onPartial := func(s string) { partials = append(partials, s) }
	ctx := context.Background()

	text, from, err := src.NextFrom(ctx, onPartial)
	require.NoError(t, err)
	assert.Equal(t, "hey vox open github", text)
	assert.Equal(t, "mic", from)
	assert.Equal(t, []string{"hey", "hey vox"}, partials)

	text, err = src.Next(ctx, onPartial)
	require.NoError(t, err)
	assert.Equal(t, "what time is it", text)
	assert.Equal(t, []string{"hey vox open github", "yes", "what time is it"}, answers)

	_, err = src.Next(ctx, nil)
	assert.ErrorIs(t, err, errGone)

	_, err = src.Next(ctx, nil)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineSource_InterceptWhileBusy(t *testing.T) {
	pr, pw := io.Pipe()
	claimed := make(chan string, 1)
	src := NewLineSource(pr, func(s string) bool {
		claimed <- s
		return true
	})
	defer src.Close()

	// nobody calls Next, as when the session is waiting on a confirmation
	go pw.Write([]byte("yes\n"))

	select {
	case got := <-claimed:
		assert.Equal(t, "yes", got)
	case <-time.After(time.Second):
		t.Fatal("answer not intercepted")
	}
	pw.Close()
}
