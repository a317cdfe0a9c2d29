package nlu

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"vassist/internal/catalog"
	"vassist/internal/metrics"
	"vassist/pkg/command"
)

const (
	confidenceFit       = 0.9
	confidenceFitPhrase = 0.95
	confidenceMissing   = 0.5
	confidenceDeclined  = 0.3
	hintWeight          = 0.1
	hintCap             = 0.3
)

type Config struct {
	// DecisionTimeout bounds one decider call. Zero means DefaultDecisionTimeout.
	DecisionTimeout time.Duration
	// BreakerFailures consecutive decider failures open the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long an open breaker rejects calls.
	BreakerCooldown time.Duration
	DebugLLM        bool
}

const (
	DefaultDecisionTimeout = 8 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerCooldown = 30 * time.Second
)

// Parser turns utterances into intents. The rule table always runs; a Decider,
// when set, is consulted first and its result replaces the rule result only if valid.
type Parser struct {
	rules   []rule
	catalog *catalog.Catalog

	decider Decider
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	debug   bool
}

func NewParser(cfg Config, cat *catalog.Catalog, decider Decider) *Parser {
	if cat == nil {
		cat = catalog.Default()
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = DefaultDecisionTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}

	p := &Parser{
		rules:   defaultRules(),
		catalog: cat,
		decider: decider,
		timeout: cfg.DecisionTimeout,
		debug:   cfg.DebugLLM,
	}
	if decider != nil {
		failures := cfg.BreakerFailures
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm-decider",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("Decider breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
	return p
}

// Parse never fails: anything that can't be interpreted is an unknown intent.
func (p *Parser) Parse(ctx context.Context, utterance string) command.Intent {
	ruled := p.parseRules(utterance)
	if p.decider == nil || strings.TrimSpace(utterance) == "" {
		return ruled
	}

	prop := p.decide(ctx, utterance)
	if p.debug {
		log.Debug("Decider reply", "verdict", prop.Verdict.String(), "raw", prop.Raw)
	}
	if prop.Verdict != Valid {
		log.Warn("Decider result discarded, using rules", "reason", prop.Verdict.String(), "err", prop.Err)
		metrics.ParserFallbacksTotal.WithLabelValues(prop.Verdict.String()).Inc()
		return ruled
	}

	in := prop.Intent
	in.Utterance = utterance
	in.Source = command.SourceLLM
	return in.WithAlternatives(without(p.Rank(utterance), in.Kind))
}

var errDeciderDown = errors.New("decider unavailable")

func (p *Parser) decide(ctx context.Context, utterance string) Proposal {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out := make(chan Proposal, 1)
	go func() {
		res, err := p.breaker.Execute(func() (interface{}, error) {
			prop := p.decider.Decide(ctx, utterance)
			if prop.Verdict == Timeout || prop.Verdict == Unavailable {
				return prop, fmt.Errorf("%w: %s", errDeciderDown, prop.Verdict)
			}
			return prop, nil
		})
		if prop, ok := res.(Proposal); ok {
			out <- prop
			return
		}
		out <- Proposal{Verdict: Unavailable, Err: err}
	}()

	select {
	case prop := <-out:
		return prop
	case <-ctx.Done():
		return Proposal{Verdict: Timeout, Err: ctx.Err()}
	}
}

type scored struct {
	rule       *rule
	trigger    string
	slots      map[string]string
	confidence float64
}

func (p *Parser) parseRules(utterance string) command.Intent {
	text := normalize(utterance)
	if text == "" {
		return command.Unknown(utterance, command.SourceRules)
	}

	var best *scored
	for i := range p.rules {
		s, ok := p.fit(&p.rules[i], text)
		if !ok {
			continue
		}
		// longest trigger wins; earlier rules win ties
		if best == nil || len(s.trigger) > len(best.trigger) {
			best = &s
		}
	}

	ranking := p.rank(text)
	if best == nil {
		return command.Unknown(utterance, command.SourceRules).WithAlternatives(ranking)
	}
	in := command.NewIntent(utterance, best.rule.kind, best.slots, best.confidence, command.SourceRules)
	return in.WithAlternatives(without(ranking, in.Kind))
}

// fit returns the best fitting trigger of r, longest first.
func (p *Parser) fit(r *rule, text string) (scored, bool) {
	var best scored
	found := false
	for _, trig := range r.triggers {
		m, ok := find(text, trig)
		if !ok || (found && len(trig) <= len(best.trigger)) {
			continue
		}
		slots, ok := r.extract(m, p.catalog)
		if !ok {
			continue
		}
		best = scored{rule: r, trigger: trig, slots: slots, confidence: confidenceFor(r.kind, trig, slots)}
		found = true
	}
	return best, found
}

func confidenceFor(kind command.Kind, trigger string, slots map[string]string) float64 {
	spec, _ := command.Lookup(kind)
	for _, name := range spec.Required {
		if strings.TrimSpace(slots[name]) == "" {
			return confidenceMissing
		}
	}
	if strings.Contains(trigger, " ") {
		return confidenceFitPhrase
	}
	return confidenceFit
}

// Rank scores every registered kind except unknown against the utterance,
// best first, ties in declaration order. Kinds with no evidence are left out.
func (p *Parser) Rank(utterance string) []command.Candidate {
	return p.rank(normalize(utterance))
}

func (p *Parser) rank(text string) []command.Candidate {
	if text == "" {
		return nil
	}
	var out []command.Candidate
	for i := range p.rules {
		r := &p.rules[i]
		score := 0.0
		if s, ok := p.fit(r, text); ok {
			score = s.confidence
		} else if triggered(r, text) {
			score = confidenceDeclined
		} else {
			hits := 0
			for _, h := range r.hints {
				if _, ok := find(text, h); ok {
					hits++
				}
			}
			score = min(float64(hits)*hintWeight, hintCap)
		}
		if score > 0 {
			out = append(out, command.Candidate{Kind: r.kind, Confidence: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return command.Order(out[i].Kind) < command.Order(out[j].Kind)
	})
	return out
}

func triggered(r *rule, text string) bool {
	for _, trig := range r.triggers {
		if _, ok := find(text, trig); ok {
			return true
		}
	}
	return false
}

// ParseAs re-reads an utterance as the given kind, typically after the user
// picked it from a list of alternatives.
func (p *Parser) ParseAs(utterance string, kind command.Kind) command.Intent {
	if !kind.Registered() || kind == command.KindUnknown {
		return command.Unknown(utterance, command.SourceChoice)
	}
	text := normalize(utterance)

	var r *rule
	for i := range p.rules {
		if p.rules[i].kind == kind {
			r = &p.rules[i]
			break
		}
	}

	m := match{text: text, rest: text}
	for _, trig := range r.triggers {
		if hit, ok := find(text, trig); ok && len(trig) > len(m.trigger) {
			m = hit
		}
	}

	slots, ok := r.extract(m, p.catalog)
	if !ok {
		slots = map[string]string{}
		if spec, _ := command.Lookup(kind); len(spec.Required) > 0 && m.rest != "" {
			slots[spec.Required[0]] = target(m.rest)
		}
	}
	return command.NewIntent(utterance, kind, slots, 1.0, command.SourceChoice)
}

func without(c []command.Candidate, k command.Kind) []command.Candidate {
	out := make([]command.Candidate, 0, len(c))
	for _, x := range c {
		if x.Kind != k {
			out = append(out, x)
		}
	}
	return out
}
