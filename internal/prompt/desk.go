// Package prompt asks the user yes/no and multiple-choice questions and routes
// their free-text answers, from whichever interface they arrive on, back to the asker.
package prompt

import (
	"context"
	"errors"
	log "log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"vassist/pkg/command"
)

var ErrBusy = errors.New("prompt: another question is pending")

var (
	affirmative = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm", "do it", "go ahead"}
	negative    = []string{"no", "n", "nope", "cancel", "stop", "don't"}
)

type question struct {
	text    string
	answers chan string
}

type Desk struct {
	mu      sync.Mutex
	pending *question

	show  func(string)
	chime func() error
	duck  Ducker
}

// Ducker lowers other audio while a question is pending.
type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

const duckTimeout = 2 * time.Second

type Option func(*Desk)

// WithChime plays a sound whenever a question is asked.
func WithChime(play func() error) Option {
	return func(d *Desk) { d.chime = play }
}

func WithDucking(d Ducker) Option {
	return func(desk *Desk) { desk.duck = d }
}

// NewDesk shows questions through show, which may be nil.
func NewDesk(show func(string), opts ...Option) *Desk {
	if show == nil {
		show = func(string) {}
	}
	d := &Desk{show: show}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Desk) Confirm(ctx context.Context, text string, _ command.Action) (bool, error) {
	ans, err := d.ask(ctx, text+" [yes/no]")
	if err != nil {
		return false, err
	}
	return IsAffirmative(ans), nil
}

func (d *Desk) Choose(ctx context.Context, text string, options []command.Candidate) (command.Kind, bool, error) {
	ans, err := d.ask(ctx, text)
	if err != nil {
		return "", false, err
	}
	k, ok := PickOption(ans, options)
	return k, ok, nil
}

// Answer hands text to the pending question. It reports false when nothing was asked,
// in which case the caller should treat text as a new utterance.
func (d *Desk) Answer(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	select {
	case d.pending.answers <- text:
	default:
		// already answered, drop duplicates
	}
	return true
}

// Pending returns the question awaiting an answer, if any.
func (d *Desk) Pending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return "", false
	}
	return d.pending.text, true
}

func (d *Desk) ask(ctx context.Context, text string) (string, error) {
	q := &question{text: text, answers: make(chan string, 1)}

	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return "", ErrBusy
	}
	d.pending = q
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
	}()

	if d.duck != nil {
		dctx, cancel := context.WithTimeout(ctx, duckTimeout)
		if err := d.duck.Duck(dctx); err != nil {
			log.Debug("Duck failed", "err", err)
		}
		cancel()
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), duckTimeout)
			defer cancel()
			if err := d.duck.Unduck(uctx); err != nil {
				log.Debug("Unduck failed", "err", err)
			}
		}()
	}

	if d.chime != nil {
		go func() {
			if err := d.chime(); err != nil {
				log.Debug("Chime failed", "err", err)
			}
		}()
	}
	d.show(text)

	select {
	case ans := <-q.answers:
		return ans, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	return strings.Join(strings.Fields(s), " ")
}

func matches(ans string, words []string) bool {
	for _, w := range words {
		if ans == w || strings.HasPrefix(ans, w+" ") {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether an answer agrees. Unrecognized answers do not.
func IsAffirmative(ans string) bool {
	a := normalizeAnswer(ans)
	if matches(a, negative) {
		return false
	}
	return matches(a, affirmative)
}

// PickOption maps "2", "search" or "Search." onto one of the offered kinds.
func PickOption(ans string, options []command.Candidate) (command.Kind, bool) {
	a := normalizeAnswer(ans)
	if a == "" || matches(a, negative) {
		return "", false
	}
	if n, err := strconv.Atoi(a); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1].Kind, true
		}
		return "", false
	}
	k, ok := command.ParseKind(a)
	if !ok {
		return "", false
	}
	for _, o := range options {
		if o.Kind == k {
			return k, true
		}
	}
	return "", false
}
