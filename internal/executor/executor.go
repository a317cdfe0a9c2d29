package executor

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vassist/internal/catalog"
	"vassist/internal/memory"
	"vassist/internal/metrics"
	"vassist/pkg/command"
)

const (
	DefaultExecTimeout = 10 * time.Second
	DefaultSearchURL   = "https://www.google.com/search?q=%s"

	// LastCommandKey is where the most recent outcome is remembered.
	LastCommandKey = "last_command"
)

type Config struct {
	ExecTimeout time.Duration
	// SearchURL is a fmt pattern used when no search backend is routed.
	SearchURL string
}

type Targets struct {
	URL     URLOpener
	Apps    AppLauncher
	Forward Forwarder
	Volume  VolumeControl
	Clock   Clock
	// OnTimer fires from a timer goroutine when a set_timer action elapses.
	OnTimer func(label string, d time.Duration)
}

// ExecError is a real effect that could not be performed.
type ExecError struct {
	Kind command.Kind
	Err  error
}

func (e *ExecError) Error() string { return fmt.Sprintf("%s failed: %v", e.Kind, e.Err) }
func (e *ExecError) Unwrap() error { return e.Err }

// Record is the memory entry written after each outcome.
type Record struct {
	Utterance string            `json:"utterance"`
	Kind      command.Kind      `json:"kind"`
	Params    map[string]string `json:"params"`
	Status    command.Status    `json:"status"`
	Detail    string            `json:"detail"`
	At        time.Time         `json:"at"`
}

type Executor struct {
	cfg     Config
	catalog *catalog.Catalog
	targets Targets
	mem     memory.Store

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

func New(cfg Config, cat *catalog.Catalog, t Targets, mem memory.Store) *Executor {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if t.URL == nil {
		t.URL = BrowserOpener{}
	}
	if t.Apps == nil {
		t.Apps = SystemLauncher{}
	}
	if t.Clock == nil {
		t.Clock = systemClock{}
	}
	if mem == nil {
		mem = memory.Nop{}
	}
	return &Executor{
		cfg:     cfg,
		catalog: cat,
		targets: t,
		mem:     mem,
		timers:  make(map[string]*time.Timer),
	}
}

// Execute applies the policy to act. confirmed is set by the orchestrator once the
// user agreed to a dangerous action.
func (e *Executor) Execute(ctx context.Context, act command.Action, policy command.Policy, confirmed bool) command.Outcome {
	if !policy.AllowExecution {
		out := command.DryRun("(dry-run) would %s", e.Describe(act))
		e.remember(ctx, act, out)
		return out
	}

	if act.Dangerous && !confirmed {
		return command.NeedsConfirmation("%s needs confirmation", e.Describe(act))
	}

	out := e.run(ctx, act)
	e.remember(ctx, act, out)
	return out
}

func (e *Executor) run(ctx context.Context, act command.Action) command.Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	type result struct {
		detail string
		err    error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		d, err := e.perform(ctx, act)
		done <- result{d, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("timed out after %s", e.cfg.ExecTimeout)
	}
	metrics.ExecSeconds.WithLabelValues(string(act.Kind)).Observe(time.Since(start).Seconds())

	if res.err != nil {
		err := &ExecError{Kind: act.Kind, Err: res.err}
		log.Warn("Execution failed", "kind", act.Kind, "err", res.err)
		return command.Rejected("%s", err.Error())
	}
	return command.Executed("%s", res.detail)
}

func (e *Executor) perform(ctx context.Context, act command.Action) (string, error) {
	switch act.Kind {
	case command.KindOpenURL:
		u := e.resolveURL(act.Param("target"))
		if err := e.targets.URL.OpenURL(u); err != nil {
			return "", err
		}
		return "opened " + u, nil

	case command.KindOpenApp:
		name := act.Param("target")
		app, ok := e.catalog.App(name)
		if ok && app.Kind == catalog.LaunchProtocol {
			if err := e.targets.URL.OpenURL(app.Value); err != nil {
				return "", err
			}
			return "opened protocol " + app.Value, nil
		}
		if ok {
			name = app.Value
		}
		if err := e.targets.Apps.Launch(ctx, name); err != nil {
			return "", err
		}
		return "launched " + name, nil

	case command.KindSearch:
		report, err := e.forward(ctx, act)
		if !errors.Is(err, ErrNoBackend) {
			return report, err
		}
		u := fmt.Sprintf(e.cfg.SearchURL, url.QueryEscape(act.Param("query")))
		if err := e.targets.URL.OpenURL(u); err != nil {
			return "", err
		}
		return fmt.Sprintf("searched for %q", act.Param("query")), nil

	case command.KindSetTimer:
		d, err := ParseSpokenDuration(act.Param("duration"))
		if err != nil {
			return "", err
		}
		e.startTimer(act.Param("label"), d)
		return "timer set for " + d.String(), nil

	case command.KindTellTime:
		return "The time is " + e.targets.Clock.Now().Format("15:04"), nil

	case command.KindSystemControl:
		report, err := e.forward(ctx, act)
		if !errors.Is(err, ErrNoBackend) || e.targets.Volume == nil {
			return report, err
		}
		return e.targets.Volume.Control(ctx, act.Param("operation"))

	case command.KindSummarize, command.KindPlayMusic, command.KindSendMessage:
		return e.forward(ctx, act)
	}
	return "", fmt.Errorf("no effect registered for %s", act.Kind)
}

func (e *Executor) forward(ctx context.Context, act command.Action) (string, error) {
	if e.targets.Forward == nil {
		return "", fmt.Errorf("%w for %s", ErrNoBackend, act.Kind)
	}
	return e.targets.Forward.Forward(ctx, act)
}

func (e *Executor) resolveURL(target string) string {
	if u, ok := e.catalog.Site(target); ok {
		return u
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "https://" + target
}

// Describe phrases what act would do, e.g. "open https://github.com (github)".
func (e *Executor) Describe(act command.Action) string {
	switch act.Kind {
	case command.KindOpenURL:
		t := act.Param("target")
		u := e.resolveURL(t)
		if u == t {
			return "open " + u
		}
		return fmt.Sprintf("open %s (%s)", u, t)
	case command.KindOpenApp:
		t := act.Param("target")
		if app, ok := e.catalog.App(t); ok {
			return fmt.Sprintf("launch %s (%s)", t, app.Value)
		}
		return "launch " + t
	case command.KindSearch:
		return fmt.Sprintf("search for %q", act.Param("query"))
	case command.KindSummarize:
		return "summarize " + act.Param("target")
	case command.KindSetTimer:
		if d, err := ParseSpokenDuration(act.Param("duration")); err == nil {
			return "set a timer for " + d.String()
		}
		return "set a timer for " + act.Param("duration")
	case command.KindPlayMusic:
		if q := act.Param("query"); q != "" {
			return "play " + q
		}
		return "play music"
	case command.KindSendMessage:
		return fmt.Sprintf("send %q to %s", act.Param("body"), act.Param("recipient"))
	case command.KindSystemControl:
		return act.Param("operation") + " the computer"
	case command.KindTellTime:
		return "tell the time (" + e.targets.Clock.Now().Format("15:04") + ")"
	}
	return "perform " + string(act.Kind)
}

func (e *Executor) startTimer(label string, d time.Duration) {
	id := uuid.NewString()
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	e.timers[id] = time.AfterFunc(d, func() {
		e.timersMu.Lock()
		delete(e.timers, id)
		e.timersMu.Unlock()
		log.Info("Timer done", "label", label, "after", d)
		if e.targets.OnTimer != nil {
			e.targets.OnTimer(label, d)
		}
	})
}

// PendingTimers is the number of timers that have not fired yet.
func (e *Executor) PendingTimers() int {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	return len(e.timers)
}

// Stop cancels pending timers.
func (e *Executor) Stop() {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Executor) remember(ctx context.Context, act command.Action, out command.Outcome) {
	rec := Record{
		Utterance: act.Utterance,
		Kind:      act.Kind,
		Params:    act.Params,
		Status:    out.Status,
		Detail:    out.Detail,
		At:        e.targets.Clock.Now(),
	}
	if err := e.mem.Put(ctx, LastCommandKey, rec); err != nil {
		log.Warn("Failed to remember last command", "err", err)
	}
}
