package protocol

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

type PtclConfig struct {
	Shard   string
	Url     string
	Reconn  uint
	Timeout time.Duration
	EmitOut func(*Message)
}

type Protocol struct {
	ws *WebSocket

	shard string

	waiterMu sync.Mutex
	waiter   *waiter

	emitOut func(*Message)
}

// waiter collects the reply of one outstanding Forward.
type waiter struct {
	from string
	ch   chan *Message
}

var ErrNoReply = errors.New("protocol: no reply")

func NewProtocol(cfg PtclConfig) (*Protocol, error) {
	if !isToken(cfg.Shard) {
		return nil, fmt.Errorf("invalid shard name: %q", cfg.Shard)
	}
	ws, err := NewWebSocket(cfg.Url, cfg.Reconn, cfg.Timeout)
	if err != nil {
		log.Error("Failed to init ws connection")
		return nil, err
	}

	return &Protocol{
		shard:   cfg.Shard,
		ws:      ws,
		emitOut: cfg.EmitOut,
	}, nil
}

// Forward sends msg and waits for the OK/ERR frame the recipient sends back.
// Only one Forward may be outstanding at a time.
func (ptcl *Protocol) Forward(ctx context.Context, msg Message) (*Message, error) {
	w, err := ptcl.installWaiter(msg.To)
	if err != nil {
		return nil, err
	}
	defer ptcl.clearWaiter(w)

	if err := ptcl.Transmit(msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w from %s: %w", ErrNoReply, msg.To, ctx.Err())
	}
}

// Transmit stamps m with this shard as sender and writes it to the hub.
func (ptcl *Protocol) Transmit(m Message) error {
	m.From = ptcl.shard
	msg := m.String()

	err := ptcl.ws.Write([]byte(msg))
	if err != nil {
		log.Error("Failed to transmit", "msg", msg, "err", err)
	}
	return err
}

// Run reads frames until ctx is done, reconnecting when the hub drops us.
func (ptcl *Protocol) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		ptcl.ws.Close()
	}()

	for {
		in := ptcl.ws.Read()
		if ctx.Err() != nil {
			return
		}
		switch in.kind {
		case CONN_CLOSE:
			log.Warn("Trying to reconnect on", "url", ptcl.ws.url)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return
			}
			log.Info("Succefully reconnected")

		case READ_FAILURE:
			log.Error("Failed to read", "err", in.err)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return
			}

		case READ_OK:
			if !ptcl.checkRecipient(in.msg) {
				continue
			}

			msg, err := ptcl.Parse(string(in.msg))
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}

			if !ptcl.deliver(msg) && ptcl.emitOut != nil {
				ptcl.emitOut(msg)
			}
		}
	}
}

func (ptcl *Protocol) Close() error {
	return ptcl.ws.Close()
}

func (ptcl *Protocol) installWaiter(from string) (*waiter, error) {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	if ptcl.waiter != nil {
		return nil, errors.New("protocol: forward already in flight")
	}
	ptcl.waiter = &waiter{from: from, ch: make(chan *Message, 1)}
	return ptcl.waiter, nil
}

func (ptcl *Protocol) clearWaiter(w *waiter) {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	if ptcl.waiter == w {
		ptcl.waiter = nil
	}
}

// deliver hands a reply to the pending Forward. It never blocks.
func (ptcl *Protocol) deliver(msg *Message) bool {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	w := ptcl.waiter
	if w == nil || msg.From != w.from || (msg.Verb != "OK" && msg.Verb != "ERR") {
		return false
	}
	select {
	case w.ch <- msg:
	default:
	}
	return true
}

func (ptcl *Protocol) checkRecipient(msg []byte) bool {
	to, _, _ := strings.Cut(string(msg), ":")
	return to == ptcl.shard || to == "ALL"
}

func (ptcl *Protocol) Parse(line string) (*Message, error) {
	return Parse(line)
}

func Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		// frames are single-line
		return nil, fmt.Errorf("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	to := parts[0]
	verb := parts[1]
	noun := parts[2]
	from := parts[len(parts)-1]
	args := append([]string(nil), parts[3:len(parts)-1]...)

	if !isToken(to) && !isHexID(to) && to != "ALL" {
		return nil, fmt.Errorf("invalid TO token: %q", to)
	}
	if !isToken(from) && !isHexID(from) {
		return nil, fmt.Errorf("invalid FROM token: %q", from)
	}

	if !isToken(noun) || !isToken(verb) {
		return nil, fmt.Errorf("invalid NOUN/VERB: %q %q", noun, verb)
	}
	for i, a := range args {
		if !isToken(a) {
			return nil, fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}

	msg := &Message{
		To:   to,
		Verb: strings.ToUpper(verb),
		Noun: strings.ToUpper(noun),
		Args: args,
		From: from,
	}
	return msg, nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}

const b64Prefix = "b64."

// EncodeArg makes free text safe for a frame. Plain tokens pass through.
func EncodeArg(s string) string {
	if isToken(s) && !strings.HasPrefix(s, b64Prefix) {
		return s
	}
	return b64Prefix + base64.RawURLEncoding.EncodeToString([]byte(s))
}

func DecodeArg(s string) (string, error) {
	enc, ok := strings.CutPrefix(s, b64Prefix)
	if !ok {
		return s, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode arg %q: %w", s, err)
	}
	return string(b), nil
}

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To)
	parts = append(parts, m.Verb)
	parts = append(parts, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

// Text decodes every argument and joins them with spaces.
func (m *Message) Text() string {
	out := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		if d, err := DecodeArg(a); err == nil {
			out = append(out, d)
		} else {
			out = append(out, a)
		}
	}
	return strings.Join(out, " ")
}

func (m *Message) Error(reason string, args ...string) {
	m.Verb = "ERR"
	m.Noun = reason
	m.Args = args
}

func (m *Message) Ok(reason string, args ...string) {
	m.Verb = "OK"
	m.Noun = reason
	m.Args = args
}

// Reply addresses a response back to the sender of m.
func (m *Message) Reply() Message {
	return Message{To: m.From, Noun: m.Noun}
}
