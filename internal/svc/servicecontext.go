package svc

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"vassist/internal/audio"
	"vassist/internal/catalog"
	"vassist/internal/config"
	"vassist/internal/executor"
	"vassist/internal/memory"
	"vassist/internal/notify"
	"vassist/internal/nlu"
	"vassist/internal/orchestrator"
	"vassist/internal/prompt"
	"vassist/internal/proxy"
	"vassist/pkg/protocol"
)

// ServiceContext owns every long-lived component of one assistant process.
type ServiceContext struct {
	Config *config.Config

	Catalog      *catalog.Catalog
	Memory       memory.Store
	Parser       *nlu.Parser
	Executor     *executor.Executor
	Desk         *prompt.Desk
	Orchestrator *orchestrator.Orchestrator
	// Mixer is nil unless mixer.enabled.
	Mixer *audio.Mixer

	// Protocol is the hub connection for routed kinds; nil when no routes are configured.
	Protocol *protocol.Protocol

	timerMu sync.Mutex
	onTimer func(label string, d time.Duration)

	sayMu sync.Mutex
	onSay func(text string) bool

	cancel context.CancelFunc
}

type options struct {
	targets executor.Targets
	decider nlu.Decider
	show    func(string)
}

type Option func(*options)

// WithTargets replaces the desktop and backend effects, mostly for tests.
func WithTargets(t executor.Targets) Option {
	return func(o *options) { o.targets = t }
}

// WithDecider replaces the OpenAI decider.
func WithDecider(d nlu.Decider) Option {
	return func(o *options) { o.decider = d }
}

// WithQuestions sets how confirmation and choice questions reach the user.
func WithQuestions(show func(string)) Option {
	return func(o *options) { o.show = show }
}

func NewServiceContext(ctx context.Context, c *config.Config, opts ...Option) (*ServiceContext, error) {
	o := options{
		show: func(q string) { log.Info("Question", "text", q) },
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &ServiceContext{
		Config:  c,
		Catalog: c.BuildCatalog(),
		cancel:  cancel,
	}

	mem, err := memory.Open(ctx, c.MemoryConfig())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open memory: %w", err)
	}
	s.Memory = mem
	log.Debug("Loaded memory", "backend", c.Memory.Backend)

	decider := o.decider
	if decider == nil && c.LLM.Enabled {
		hc, err := proxy.NewSocksClient(c.LLM.Proxy)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("dial socks proxy %s: %w", c.LLM.Proxy, err)
		}
		client := nlu.NewClient(c.LLM.APIKey, c.LLM.BaseURL, hc)
		decider = nlu.NewOpenAIDecider(client, c.LLM.Model)
		log.Debug("Loaded LLM decider", "model", c.LLM.Model, "proxy", c.LLM.Proxy)
	}
	s.Parser = nlu.NewParser(c.ParserConfig(), s.Catalog, decider)

	targets := o.targets
	if targets.Forward == nil {
		routes, err := c.Routes()
		if err != nil {
			s.Close()
			return nil, err
		}
		if len(routes) > 0 {
			ptcl, err := protocol.NewProtocol(protocol.PtclConfig{
				Shard:   c.Bus.Shard,
				Url:     c.Bus.HubURL,
				Reconn:  c.Bus.Reconnect,
				Timeout: c.Bus.Timeout,
				EmitOut: s.emitFrame,
			})
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("connect hub %s: %w", c.Bus.HubURL, err)
			}
			s.Protocol = ptcl
			go ptcl.Run(ctx)
			targets.Forward = executor.NewProtocolForwarder(ptcl, routes)
			log.Debug("Loaded forwarder", "hub", c.Bus.HubURL, "routes", len(routes))
		}
	}
	if c.Mixer.Enabled {
		s.Mixer = audio.NewMixer(audio.Pactl, c.MixerConfig())
		if targets.Volume == nil {
			targets.Volume = s.Mixer
		}
	}
	if targets.OnTimer == nil {
		targets.OnTimer = s.fireTimer
	}
	s.Executor = executor.New(c.ExecutorConfig(), s.Catalog, targets, s.Memory)

	deskOpts := []prompt.Option{prompt.WithChime(notify.Chimer(c.Chime))}
	if s.Mixer != nil {
		deskOpts = append(deskOpts, prompt.WithDucking(s.Mixer))
	}
	s.Desk = prompt.NewDesk(o.show, deskOpts...)
	s.Orchestrator = orchestrator.New(c.OrchestratorConfig(), c.Policy, s.Parser, s.Executor,
		orchestrator.WithConfirmer(s.Desk),
		orchestrator.WithChooser(s.Desk),
	)
	return s, nil
}

// OnUtterance registers where utterances sent by other shards (SAY frames) go.
// f reports whether the utterance was accepted.
func (s *ServiceContext) OnUtterance(f func(text string) bool) {
	s.sayMu.Lock()
	s.onSay = f
	s.sayMu.Unlock()
}

func (s *ServiceContext) emitFrame(msg *protocol.Message) {
	reply, ok := s.answerFrame(msg)
	if !ok {
		return
	}
	_ = s.Protocol.Transmit(reply)
}

// answerFrame handles a hub frame that is not the reply to one of our forwards.
// Stray OK/ERR frames get no answer.
func (s *ServiceContext) answerFrame(msg *protocol.Message) (protocol.Message, bool) {
	if msg.Verb == "OK" || msg.Verb == "ERR" {
		log.Warn("Dropped stray reply", "from", msg.From, "verb", msg.Verb, "noun", msg.Noun)
		return protocol.Message{}, false
	}

	reply := msg.Reply()
	if msg.Verb != "SAY" {
		log.Warn("Unexpected hub frame", "from", msg.From, "verb", msg.Verb, "noun", msg.Noun)
		reply.Error("UNSUPPORTED")
		return reply, true
	}

	s.sayMu.Lock()
	say := s.onSay
	s.sayMu.Unlock()

	text := strings.TrimSpace(msg.Text())
	switch {
	case text == "":
		reply.Error("EMPTY")
	case say == nil || !say(text):
		reply.Error("UNAVAILABLE")
	default:
		log.Debug("Utterance from hub", "from", msg.From, "text", text)
		reply.Ok("QUEUED")
	}
	return reply, true
}

// OnTimer registers who is told when a timer elapses.
func (s *ServiceContext) OnTimer(f func(label string, d time.Duration)) {
	s.timerMu.Lock()
	s.onTimer = f
	s.timerMu.Unlock()
}

func (s *ServiceContext) fireTimer(label string, d time.Duration) {
	s.timerMu.Lock()
	f := s.onTimer
	s.timerMu.Unlock()
	if f == nil {
		log.Info("Timer done", "label", label, "duration", d)
		return
	}
	f(label, d)
}

func (s *ServiceContext) Close() error {
	s.cancel()
	if s.Executor != nil {
		s.Executor.Stop()
	}
	var errs []error
	if s.Protocol != nil {
		errs = append(errs, s.Protocol.Close())
	}
	if s.Memory != nil {
		errs = append(errs, s.Memory.Close())
	}
	return errors.Join(errs...)
}
