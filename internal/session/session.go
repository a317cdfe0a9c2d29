// Package session runs the listen loop: it pulls utterances from a speech
// source, gates them on the wake word, hands them to the orchestrator and
// reports what happened through every configured reporter.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"time"
	"unicode"

	"vassist/internal/bus"
	"vassist/internal/orchestrator"
	"vassist/internal/speech"
	"vassist/internal/tts"
)

const DefaultWakeWord = "hey vox"

// ReasonNoWakeWord marks utterances dropped by the wake-word gate.
const ReasonNoWakeWord = "wake_word_not_detected"

// Handler is the part of the orchestrator the session drives.
type Handler interface {
	Handle(ctx context.Context, utterance string) orchestrator.Result
}

type Config struct {
	WakeWord     string
	AlwaysListen bool
}

// Turn is the session's view of one utterance.
type Turn struct {
	From      string               `json:"from,omitempty"`
	Utterance string               `json:"utterance"`
	Handled   bool                 `json:"handled"`
	Reason    string               `json:"reason,omitempty"`
	Response  string               `json:"response,omitempty"`
	Result    *orchestrator.Result `json:"result,omitempty"`
}

// Text is what a reporter should say or show for the turn.
func (t Turn) Text() string {
	if t.Response != "" {
		return t.Response
	}
	if t.Result == nil {
		return ""
	}
	out := t.Result.Outcome
	if len(out.Alternatives) == 0 {
		return out.Detail
	}
	kinds := make([]string, 0, len(out.Alternatives))
	for _, c := range out.Alternatives {
		kinds = append(kinds, c.Kind.String())
	}
	return fmt.Sprintf("%s (did you mean: %s?)", out.Detail, strings.Join(kinds, ", "))
}

type Reporter interface {
	Report(ctx context.Context, t Turn)
}

type ReporterFunc func(ctx context.Context, t Turn)

func (f ReporterFunc) Report(ctx context.Context, t Turn) { f(ctx, t) }

type Session struct {
	cfg       Config
	handler   Handler
	src       speech.Source
	reporters []Reporter

	partial func(string)
	speaker func(from string)
}

type Option func(*Session)

func WithReporters(r ...Reporter) Option {
	return func(s *Session) { s.reporters = append(s.reporters, r...) }
}

// WithPartials shows in-progress transcripts. They never trigger actions.
func WithPartials(show func(string)) Option {
	return func(s *Session) { s.partial = show }
}

// WithSpeaker is told who sent each utterance before it is handled.
func WithSpeaker(f func(from string)) Option {
	return func(s *Session) { s.speaker = f }
}

func New(cfg Config, h Handler, src speech.Source, opts ...Option) *Session {
	if strings.TrimSpace(cfg.WakeWord) == "" {
		cfg.WakeWord = DefaultWakeWord
	}
	s := &Session{cfg: cfg, handler: h, src: src}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run loops until the source is exhausted (nil) or ctx ends.
func (s *Session) Run(ctx context.Context) error {
	log.Info("Session listening", "wake_word", s.cfg.WakeWord, "always_listen", s.cfg.AlwaysListen)

	for {
		var (
			text string
			from string
			err  error
		)
		if bs, ok := s.src.(*speech.BusSource); ok {
			text, from, err = bs.NextFrom(ctx, s.partial)
		} else {
			text, err = s.src.Next(ctx, s.partial)
		}
		if errors.Is(err, io.EOF) {
			log.Info("Speech source closed")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("speech: %w", err)
		}

		if s.speaker != nil {
			s.speaker(from)
		}
		t := s.Process(ctx, text)
		t.From = from
		s.report(ctx, t)
	}
}

// Process runs a single utterance through the gate and the orchestrator.
func (s *Session) Process(ctx context.Context, utterance string) Turn {
	t := Turn{Utterance: utterance}

	cmd := strings.TrimSpace(utterance)
	if !s.cfg.AlwaysListen {
		rest, ok := StripWakeWord(cmd, s.cfg.WakeWord)
		if !ok {
			t.Reason = ReasonNoWakeWord
			log.Debug("Wake word not detected", "text", utterance)
			return t
		}
		cmd = rest
	}

	t.Handled = true
	if cmd == "" {
		t.Response = "Yes?"
		return t
	}

	res := s.handler.Handle(ctx, cmd)
	t.Result = &res
	return t
}

// Announce reports text that no utterance asked for, such as an elapsed timer.
func (s *Session) Announce(ctx context.Context, text string) {
	s.report(ctx, Turn{Handled: true, Response: text})
}

// TimerAnnouncer adapts Announce to the executor's timer hook.
func (s *Session) TimerAnnouncer(ctx context.Context) func(label string, d time.Duration) {
	return func(label string, d time.Duration) {
		if label == "" {
			s.Announce(ctx, fmt.Sprintf("Timer done (%s).", d))
			return
		}
		s.Announce(ctx, fmt.Sprintf("Timer %q done (%s).", label, d))
	}
}

func (s *Session) report(ctx context.Context, t Turn) {
	for _, r := range s.reporters {
		r.Report(ctx, t)
	}
}

// StripWakeWord removes the first case-insensitive occurrence of wake from text.
// The wake word must stand on word boundaries.
func StripWakeWord(text, wake string) (string, bool) {
	wake = strings.ToLower(strings.Join(strings.Fields(wake), " "))
	if wake == "" {
		return text, true
	}
	lower := strings.ToLower(text)

	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], wake)
		if i < 0 {
			break
		}
		i += from
		end := i + len(wake)
		if boundary(lower, i-1) && boundary(lower, end) {
			rest := text[:i] + " " + text[end:]
			return strings.TrimFunc(strings.Join(strings.Fields(rest), " "), trimmable), true
		}
		from = i + 1
	}
	return "", false
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func trimmable(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == '.' || r == '!' || r == '?' || r == ':'
}

// LogReporter writes every turn to the default logger.
var LogReporter = ReporterFunc(func(_ context.Context, t Turn) {
	switch {
	case !t.Handled:
		log.Info("Ignored", "text", t.Utterance, "reason", t.Reason)
	case t.Result == nil:
		log.Info("Reply", "text", t.Response)
	default:
		r := t.Result
		attrs := []any{
			"id", r.ID,
			"kind", r.Intent.Kind,
			"source", r.Intent.Source,
			"confidence", r.Intent.Confidence,
			"status", r.Outcome.Status,
			"detail", r.Outcome.Detail,
			"elapsed", r.Elapsed,
		}
		if r.Err != nil {
			attrs = append(attrs, "err", r.Err)
		}
		log.Info("Handled", attrs...)
	}
})

// SpeakReporter voices replies of handled turns.
var SpeakReporter = ReporterFunc(func(_ context.Context, t Turn) {
	if !t.Handled {
		return
	}
	if err := tts.Speak(t.Text()); err != nil {
		log.Error("Failed to voice out", "err", err)
	}
})

// Writer is the write side of the bus.
type Writer interface {
	Write(m *bus.Message) error
}

// BusReporter addresses the reply for a turn back to whoever spoke.
type BusReporter struct {
	W    Writer
	From string
}

func (b BusReporter) Report(_ context.Context, t Turn) {
	if !t.Handled {
		return
	}
	m := &bus.Message{From: b.From, To: t.From, Kind: bus.KindReply, Content: t.Text()}
	if t.Result != nil {
		m.Kind = bus.KindOutcome
		m.Content = string(t.Result.Outcome.Status) + ": " + t.Text()
	}
	if err := b.W.Write(m); err != nil {
		log.Error("Failed to send response", "err", err)
	}
}
