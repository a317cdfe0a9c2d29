// Package orchestrator runs one utterance through parse, validate, confirm and execute.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"vassist/internal/metrics"
	"vassist/internal/validator"
	"vassist/pkg/command"
)

type State string

const (
	StateIdle                 State = "idle"
	StateParsing              State = "parsing"
	StateValidating           State = "validating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateDone                 State = "done"
)

const (
	DefaultConfirmTimeout  = 15 * time.Second
	DefaultMaxAlternatives = 3
)

var (
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrDeclined            = errors.New(command.ReasonUserDeclined)
)

type Parser interface {
	Parse(ctx context.Context, utterance string) command.Intent
	ParseAs(utterance string, kind command.Kind) command.Intent
}

type Executor interface {
	Execute(ctx context.Context, act command.Action, policy command.Policy, confirmed bool) command.Outcome
	Describe(act command.Action) string
}

// Confirmer asks the user about a dangerous action. It must return when ctx is done.
type Confirmer interface {
	Confirm(ctx context.Context, question string, act command.Action) (bool, error)
}

// Chooser offers alternative kinds for an ambiguous utterance. ok is false when
// the user picked nothing.
type Chooser interface {
	Choose(ctx context.Context, question string, options []command.Candidate) (kind command.Kind, ok bool, err error)
}

type Config struct {
	ConfirmTimeout  time.Duration
	MaxAlternatives int
}

type Result struct {
	ID        string          `json:"id"`
	Utterance string          `json:"utterance"`
	Intent    command.Intent  `json:"intent"`
	Action    *command.Action `json:"action,omitempty"`
	Outcome   command.Outcome `json:"outcome"`
	Trace     []State         `json:"trace"`
	Elapsed   time.Duration   `json:"elapsed"`
	// Err is the rejection behind a rejected outcome, if any.
	Err error `json:"-"`
}

func (r *Result) enter(s State) {
	r.Trace = append(r.Trace, s)
}

type Orchestrator struct {
	cfg       Config
	policy    command.Policy
	parser    Parser
	exec      Executor
	confirmer Confirmer
	chooser   Chooser

	// one utterance in flight
	sem chan struct{}
}

type Option func(*Orchestrator)

func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

func WithChooser(c Chooser) Option {
	return func(o *Orchestrator) { o.chooser = c }
}

func New(cfg Config, policy command.Policy, parser Parser, exec Executor, opts ...Option) *Orchestrator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = DefaultMaxAlternatives
	}
	o := &Orchestrator{
		cfg:    cfg,
		policy: policy,
		parser: parser,
		exec:   exec,
		sem:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Policy() command.Policy {
	return o.policy
}

// Handle processes one utterance to a terminal outcome. Concurrent callers are
// served one at a time; a caller whose ctx ends while waiting gets a rejection.
func (o *Orchestrator) Handle(ctx context.Context, utterance string) Result {
	start := time.Now()
	res := Result{ID: uuid.NewString(), Utterance: utterance}

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		res.Outcome = command.Rejected("busy: %v", ctx.Err())
		res.Err = ctx.Err()
		return res
	}

	res.enter(StateIdle)
	o.run(ctx, &res)
	res.enter(StateDone)
	res.Elapsed = time.Since(start)

	metrics.CommandsTotal.WithLabelValues(string(res.Intent.Kind), string(res.Outcome.Status)).Inc()
	metrics.ObserveSince(start)
	log.Info("Handled utterance",
		"id", res.ID,
		"kind", res.Intent.Kind,
		"source", res.Intent.Source,
		"status", res.Outcome.Status,
		"detail", res.Outcome.Detail,
		"elapsed", res.Elapsed,
	)
	return res
}

func (o *Orchestrator) run(ctx context.Context, res *Result) {
	res.enter(StateParsing)
	res.Intent = o.parser.Parse(ctx, res.Utterance)

	res.enter(StateValidating)
	act, err := validator.Validate(res.Intent, o.policy)

	if errors.Is(err, command.ErrAmbiguousIntent) {
		alts := o.alternatives(res.Intent)
		kind, chosen := o.choose(ctx, alts)
		if !chosen {
			res.Outcome = command.Rejected(command.ReasonAmbiguous)
			res.Outcome.Alternatives = alts
			res.Err = err
			return
		}
		res.enter(StateParsing)
		res.Intent = o.parser.ParseAs(res.Utterance, kind)
		res.enter(StateValidating)
		act, err = validator.Validate(res.Intent, o.policy)
	}
	if err != nil {
		res.Outcome = command.Rejected("%s", err.Error())
		res.Err = err
		return
	}
	res.Action = &act

	confirmed := false
	if act.Dangerous && o.policy.AllowExecution {
		res.enter(StateAwaitingConfirmation)
		if o.confirmer == nil {
			res.Outcome = command.NeedsConfirmation("%s needs confirmation", o.exec.Describe(act))
			metrics.ConfirmationsTotal.WithLabelValues("unavailable").Inc()
			return
		}
		if err := o.confirm(ctx, act); err != nil {
			res.Outcome = command.Rejected(command.ReasonUserDeclined)
			res.Err = err
			return
		}
		confirmed = true
	}

	res.enter(StateExecuting)
	res.Outcome = o.exec.Execute(ctx, act, o.policy, confirmed)
}

func (o *Orchestrator) confirm(ctx context.Context, act command.Action) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	question := fmt.Sprintf("About to %s. Proceed?", o.exec.Describe(act))
	yes, err := o.confirmer.Confirm(cctx, question, act)
	switch {
	case err != nil && cctx.Err() != nil:
		metrics.ConfirmationsTotal.WithLabelValues("timeout").Inc()
		return ErrConfirmationTimeout
	case err != nil:
		metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
		log.Warn("Confirmation failed, treating as decline", "err", err)
		return fmt.Errorf("%w: %w", ErrDeclined, err)
	case !yes:
		metrics.ConfirmationsTotal.WithLabelValues("no").Inc()
		return ErrDeclined
	}
	metrics.ConfirmationsTotal.WithLabelValues("yes").Inc()
	return nil
}

func (o *Orchestrator) alternatives(in command.Intent) []command.Candidate {
	alts := make([]command.Candidate, 0, o.cfg.MaxAlternatives)
	for _, c := range in.Alternatives {
		if c.Kind == command.KindUnknown || !c.Kind.Registered() {
			continue
		}
		alts = append(alts, c)
		if len(alts) == o.cfg.MaxAlternatives {
			break
		}
	}
	return alts
}

func (o *Orchestrator) choose(ctx context.Context, alts []command.Candidate) (command.Kind, bool) {
	if o.chooser == nil || len(alts) == 0 {
		return "", false
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	names := make([]string, len(alts))
	for i, a := range alts {
		names[i] = fmt.Sprintf("%d) %s", i+1, a.Kind)
	}
	kind, ok, err := o.chooser.Choose(cctx, "I'm not sure what you meant. Did you mean: "+strings.Join(names, ", ")+"?", alts)
	if err != nil || !ok {
		return "", false
	}
	offered := slices.ContainsFunc(alts, func(c command.Candidate) bool { return c.Kind == kind })
	if !offered {
		log.Warn("Chooser returned a kind that was not offered", "kind", kind)
		return "", false
	}
	return kind, true
}
