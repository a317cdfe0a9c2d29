// Package speech adapts transcript producers to a pull-based source of final utterances.
// Partial transcripts are delivered only to a display callback.
package speech

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"vassist/internal/bus"
)

// Source yields one final utterance per call. io.EOF ends the session.
type Source interface {
	Next(ctx context.Context, onPartial func(string)) (string, error)
}

// Intercept may claim a line before it becomes an utterance (answers to a pending prompt).
type Intercept func(text string) bool

// LineSource treats each non-empty line of a reader, and each Feed call, as a final utterance.
type LineSource struct {
	lines     chan string
	feed      chan string
	intercept Intercept
	done      chan struct{}
	closeOnce sync.Once
}

// NewLineSource reads r in the background. r may be nil for feed-only sources.
func NewLineSource(r io.Reader, intercept Intercept) *LineSource {
	s := &LineSource{
		feed:      make(chan string, 8),
		intercept: intercept,
		done:      make(chan struct{}),
	}
	if r != nil {
		s.lines = make(chan string)
		go s.scan(r)
	}
	return s
}

// scan runs the intercept as lines arrive, so answers reach a pending prompt
// even while the consumer is busy with the previous utterance.
func (s *LineSource) scan(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || s.claim(text) {
			continue
		}
		select {
		case s.lines <- text:
		case <-s.done:
			return
		}
	}
}

func (s *LineSource) claim(text string) bool {
	return s.intercept != nil && s.intercept(text)
}

// Feed injects an utterance from another interface. It reports false once the source is closed.
func (s *LineSource) Feed(text string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	text = strings.TrimSpace(text)
	if text == "" || s.claim(text) {
		return true
	}
	select {
	case s.feed <- text:
		return true
	case <-s.done:
		return false
	}
}

func (s *LineSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *LineSource) Next(ctx context.Context, _ func(string)) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", io.EOF
	case text := <-s.feed:
		return text, nil
	case text, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	}
}

// MessageReader is the read side of the bus.
type MessageReader interface {
	Read() (*bus.Message, error)
}

// BusSource consumes stt.partial / stt.final / answer messages from the bus.
// Answers and intercepted finals are handled as they are read; partials that
// nobody is waiting for are dropped once the queue is full.
type BusSource struct {
	r         MessageReader
	intercept Intercept

	once sync.Once
	msgs chan busRead
}

type busRead struct {
	msg *bus.Message
	err error
}

const busQueue = 16

func NewBusSource(r MessageReader, intercept Intercept) *BusSource {
	return &BusSource{r: r, intercept: intercept, msgs: make(chan busRead, busQueue)}
}

func (s *BusSource) pump() {
	defer close(s.msgs)
	for {
		m, err := s.r.Read()
		if err != nil {
			s.msgs <- busRead{err: err}
			return
		}

		switch m.Kind {
		case bus.KindPartial:
			select {
			case s.msgs <- busRead{msg: m}:
			default:
			}
		case bus.KindAnswer:
			if s.intercept != nil {
				s.intercept(m.Content)
			}
		case bus.KindFinal:
			text := strings.TrimSpace(m.Content)
			if text == "" || (s.intercept != nil && s.intercept(text)) {
				continue
			}
			c := *m
			c.Content = text
			s.msgs <- busRead{msg: &c}
		}
	}
}

// Next drops the sender; use NextFrom to address replies back.
func (s *BusSource) Next(ctx context.Context, onPartial func(string)) (string, error) {
	text, _, err := s.NextFrom(ctx, onPartial)
	return text, err
}

// NextFrom is Next plus the sender of the utterance.
func (s *BusSource) NextFrom(ctx context.Context, onPartial func(string)) (string, string, error) {
	s.once.Do(func() { go s.pump() })

	for {
		var in busRead
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case r, ok := <-s.msgs:
			if !ok {
				return "", "", io.EOF
			}
			in = r
		}
		if in.err != nil {
			return "", "", in.err
		}

		if in.msg.Kind == bus.KindPartial {
			if onPartial != nil {
				onPartial(in.msg.Content)
			}
			continue
		}
		return in.msg.Content, in.msg.From, nil
	}
}
