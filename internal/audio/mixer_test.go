package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkInputs = `Sink Input #42
	Volume: front-left: 52429 /  80% / -5.81 dB,   front-right: 52429 /  80% / -5.81 dB
	Properties:
		application.name = "Firefox"
Sink Input #57
	Volume: front-left: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "vox"
Sink Input #bogus
	Volume: 10%
`

// fakePactl serves a fixed stream list and records volume changes.
type fakePactl struct {
	mu    sync.Mutex
	list  string
	calls [][]string
	err   error
}

func (f *fakePactl) run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if f.err != nil {
		return nil, f.err
	}
	if len(args) == 2 && args[0] == "list" {
		return []byte(f.list), nil
	}
	if args[0] == "set-sink-input-volume" {
		// reflect the change so Unduck sees the ducked level
		f.list = strings.Replace(f.list, "Sink Input #"+args[1]+"\n\tVolume: front-left: 52429 /  80%",
			"Sink Input #"+args[1]+"\n\tVolume: front-left: 0 / "+args[2], 1)
	}
	return nil, nil
}

func (f *fakePactl) lastVolume(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		c := f.calls[i]
		if c[0] == "set-sink-input-volume" && c[1] == id {
			return c[2]
		}
	}
	return ""
}

func TestParseSinkInputs(t *testing.T) {
	streams := ParseSinkInputs(sinkInputs)
	assert.Equal(t, []Stream{
		{ID: 42, Volume: 80, AppName: "Firefox"},
		{ID: 57, Volume: 100, AppName: "vox"},
	}, streams)

	assert.Nil(t, ParseSinkInputs(""))
}

func TestMixer_DuckAndRestore(t *testing.T) {
	f := &fakePactl{list: sinkInputs}
	m := NewMixer(f.run, Config{SelfNames: []string{"vox"}, Factor: 0.25, MinVolume: 10})
	ctx := context.Background()

	require.NoError(t, m.Duck(ctx))
	assert.Equal(t, "20%", f.lastVolume("42"))
	assert.Empty(t, f.lastVolume("57"), "own stream is never ducked")

	calls := len(f.calls)
	require.NoError(t, m.Duck(ctx))
	assert.Len(t, f.calls, calls, "already ducked")

	require.NoError(t, m.Unduck(ctx))
	assert.Equal(t, "80%", f.lastVolume("42"))

	calls = len(f.calls)
	require.NoError(t, m.Unduck(ctx))
	assert.Len(t, f.calls, calls, "nothing to restore")
}

func TestMixer_DuckFloor(t *testing.T) {
	f := &fakePactl{list: sinkInputs}
	m := NewMixer(f.run, Config{Factor: 0.01, MinVolume: 15})

	require.NoError(t, m.Duck(context.Background()))
	assert.Equal(t, "15%", f.lastVolume("42"))
	assert.Equal(t, "15%", f.lastVolume("57"))
}

func TestMixer_Control(t *testing.T) {
	f := &fakePactl{}
	m := NewMixer(f.run, Config{Step: 5})
	ctx := context.Background()

	for op, want := range map[string][]string{
		"mute":        {"set-sink-mute", "@DEFAULT_SINK@", "1"},
		"unmute":      {"set-sink-mute", "@DEFAULT_SINK@", "0"},
		"volume_up":   {"set-sink-volume", "@DEFAULT_SINK@", "+5%"},
		"volume_down": {"set-sink-volume", "@DEFAULT_SINK@", "-5%"},
	} {
		report, err := m.Control(ctx, op)
		require.NoError(t, err, op)
		assert.Contains(t, report, "done")
		assert.Equal(t, want, f.calls[len(f.calls)-1], op)
	}

	_, err := m.Control(ctx, "shutdown")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMixer_PactlFailure(t *testing.T) {
	f := &fakePactl{err: errors.New("exit status 1")}
	m := NewMixer(f.run, Config{})

	err := m.Duck(context.Background())
	assert.ErrorContains(t, err, "list sink inputs")

	_, err = m.Control(context.Background(), "mute")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupported), fmt.Sprint(err))
}
