package prompt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vassist/pkg/command"
)

func TestIsAffirmative(t *testing.T) {
	for _, s := range []string{"yes", "Yes!", "y", "yeah sure", "OK", "okay.", "do it", "go ahead please", "confirm"} {
		assert.True(t, IsAffirmative(s), s)
	}
	for _, s := range []string{"no", "nope", "cancel", "stop", "don't", "Don’t do it", "maybe", "", "yesterday"} {
		assert.False(t, IsAffirmative(s), s)
	}
}

func TestPickOption(t *testing.T) {
	opts := []command.Candidate{{Kind: command.KindSearch}, {Kind: command.KindPlayMusic}}

	k, ok := PickOption("2", opts)
	assert.True(t, ok)
	assert.Equal(t, command.KindPlayMusic, k)

	k, ok = PickOption("Search.", opts)
	assert.True(t, ok)
	assert.Equal(t, command.KindSearch, k)

	k, ok = PickOption("play music", opts)
	assert.True(t, ok)
	assert.Equal(t, command.KindPlayMusic, k)

	for _, bad := range []string{"3", "0", "tell time", "cancel", ""} {
		_, ok := PickOption(bad, opts)
		assert.False(t, ok, bad)
	}
}

func waitPending(t *testing.T, d *Desk) string {
	t.Helper()
	var q string
	require.Eventually(t, func() bool {
		var ok bool
		q, ok = d.Pending()
		return ok
	}, time.Second, time.Millisecond)
	return q
}

func TestDesk_Confirm(t *testing.T) {
	shown := make(chan string, 1)
	d := NewDesk(func(s string) { shown <- s })

	assert.False(t, d.Answer("yes"), "no question pending")

	done := make(chan bool, 1)
	go func() {
		ok, err := d.Confirm(context.Background(), "About to shutdown the computer. Proceed?", command.Action{})
		assert.NoError(t, err)
		done <- ok
	}()

	q := waitPending(t, d)
	assert.Contains(t, q, "Proceed?")
	assert.Equal(t, q, <-shown)
	assert.True(t, d.Answer("yes please"))
	assert.True(t, <-done)

	_, pending := d.Pending()
	assert.False(t, pending)
}

func TestDesk_ConfirmTimeout(t *testing.T) {
	d := NewDesk(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := d.Confirm(ctx, "Proceed?", command.Action{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDesk_OneQuestionAtATime(t *testing.T) {
	chimes := make(chan struct{}, 2)
	d := NewDesk(nil, WithChime(func() error { chimes <- struct{}{}; return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Confirm(ctx, "first?", command.Action{})
	waitPending(t, d)

	_, err := d.Confirm(context.Background(), "second?", command.Action{})
	assert.ErrorIs(t, err, ErrBusy)

	select {
	case <-chimes:
	case <-time.After(time.Second):
		t.Fatal("chime not played")
	}
}

func TestDesk_Choose(t *testing.T) {
	d := NewDesk(nil)
	opts := []command.Candidate{{Kind: command.KindSearch}, {Kind: command.KindSummarize}}

	type choice struct {
		kind command.Kind
		ok   bool
	}
	done := make(chan choice, 1)
	go func() {
		k, ok, err := d.Choose(context.Background(), "Did you mean: 1) search, 2) summarize?", opts)
		assert.NoError(t, err)
		done <- choice{k, ok}
	}()

	waitPending(t, d)
	d.Answer("2")
	got := <-done
	assert.True(t, got.ok)
	assert.Equal(t, command.KindSummarize, got.kind)
}

type fakeDucker struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeDucker) Duck(context.Context) error   { f.add("duck"); return nil }
func (f *fakeDucker) Unduck(context.Context) error { f.add("unduck"); return nil }

func (f *fakeDucker) add(e string) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeDucker) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestDesk_DucksWhileAsking(t *testing.T) {
	duck := &fakeDucker{}
	d := NewDesk(nil, WithDucking(duck))

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Confirm(context.Background(), "Proceed?", command.Action{})
	}()

	waitPending(t, d)
	require.Eventually(t, func() bool { return len(duck.seen()) == 1 }, time.Second, time.Millisecond)
	d.Answer("no")
	<-done
	assert.Equal(t, []string{"duck", "unduck"}, duck.seen())
}
