package svc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vassist/internal/config"
	"vassist/internal/executor"
	"vassist/pkg/command"
	"vassist/pkg/protocol"
)

type recordingTargets struct {
	mu     sync.Mutex
	urls   []string
	acts   []command.Action
	timers chan string
}

func (r *recordingTargets) OpenURL(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return nil
}

func (r *recordingTargets) Launch(context.Context, string) error { return nil }

func (r *recordingTargets) Forward(_ context.Context, act command.Action) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acts = append(r.acts, act)
	return "done", nil
}

func newTestContext(t *testing.T, yaml string, show func(string)) (*ServiceContext, *recordingTargets) {
	t.Helper()
	t.Setenv("VOX_ALLOW_EXECUTION", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	rt := &recordingTargets{timers: make(chan string, 1)}
	opts := []Option{WithTargets(executor.Targets{URL: rt, Apps: rt, Forward: rt})}
	if show != nil {
		opts = append(opts, WithQuestions(show))
	}
	s, err := NewServiceContext(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, rt
}

func TestServiceContext_ExecutesAndRemembers(t *testing.T) {
	s, rt := newTestContext(t, `
policy: {allow_execution: true}
memory: {backend: mem}
`, nil)

	res := s.Orchestrator.Handle(context.Background(), "open github")
	assert.Equal(t, command.StatusExecuted, res.Outcome.Status, res.Outcome.Detail)
	assert.Equal(t, []string{"https://github.com"}, rt.urls)

	var rec executor.Record
	require.NoError(t, s.Memory.Get(context.Background(), executor.LastCommandKey, &rec))
	assert.Equal(t, command.KindOpenURL, rec.Kind)
	assert.Equal(t, command.StatusExecuted, rec.Status)
}

func TestServiceContext_DryRunByDefault(t *testing.T) {
	s, rt := newTestContext(t, `memory: {backend: none}`, nil)

	res := s.Orchestrator.Handle(context.Background(), "open github")
	assert.Equal(t, command.StatusDryRun, res.Outcome.Status)
	assert.Empty(t, rt.urls)
	assert.Nil(t, s.Protocol)
}

func TestServiceContext_ConfirmThroughDesk(t *testing.T) {
	questions := make(chan string, 1)
	s, rt := newTestContext(t, `
policy: {allow_execution: true}
memory: {backend: mem}
confirm_timeout: 2s
`, func(q string) { questions <- q })

	done := make(chan command.Outcome, 1)
	go func() {
		done <- s.Orchestrator.Handle(context.Background(), "shut down the computer").Outcome
	}()

	select {
	case q := <-questions:
		assert.Contains(t, q, "[yes/no]")
	case <-time.After(time.Second):
		t.Fatal("no confirmation question")
	}
	require.True(t, s.Desk.Answer("yes"))

	out := <-done
	assert.Equal(t, command.StatusExecuted, out.Status, out.Detail)
	require.Len(t, rt.acts, 1)
	assert.Equal(t, "shutdown", rt.acts[0].Param("operation"))
}

func TestServiceContext_TimerHook(t *testing.T) {
	s, _ := newTestContext(t, `
policy: {allow_execution: true}
memory: {backend: none}
`, nil)

	fired := make(chan time.Duration, 1)
	s.OnTimer(func(_ string, d time.Duration) { fired <- d })
	s.fireTimer("tea", time.Minute)
	assert.Equal(t, time.Minute, <-fired)
}

func TestServiceContext_AnswersHubFrames(t *testing.T) {
	s, _ := newTestContext(t, `memory: {backend: none}`, nil)

	say := &protocol.Message{To: "vox", Verb: "SAY", Noun: "TEXT", Args: []string{protocol.EncodeArg("hey vox open github")}, From: "PHONE"}

	reply, ok := s.answerFrame(say)
	require.True(t, ok)
	assert.Equal(t, "PHONE", reply.To)
	assert.Equal(t, "ERR", reply.Verb)
	assert.Equal(t, "UNAVAILABLE", reply.Noun, "nobody listens yet")

	var heard []string
	s.OnUtterance(func(text string) bool {
		heard = append(heard, text)
		return true
	})
	reply, ok = s.answerFrame(say)
	require.True(t, ok)
	assert.Equal(t, "OK", reply.Verb)
	assert.Equal(t, "QUEUED", reply.Noun)
	assert.Equal(t, []string{"hey vox open github"}, heard)

	reply, ok = s.answerFrame(&protocol.Message{To: "vox", Verb: "SAY", Noun: "TEXT", From: "PHONE"})
	require.True(t, ok)
	assert.Equal(t, "EMPTY", reply.Noun)

	reply, ok = s.answerFrame(&protocol.Message{To: "vox", Verb: "PING", Noun: "HUB", From: "HUB"})
	require.True(t, ok)
	assert.Equal(t, "ERR", reply.Verb)
	assert.Equal(t, "UNSUPPORTED", reply.Noun)

	_, ok = s.answerFrame(&protocol.Message{To: "vox", Verb: "OK", Noun: "SEARCH", From: "SHELL"})
	assert.False(t, ok, "stray replies are not answered")
}
