package command

import (
	"maps"
	"strings"
)

// Source tells where an Intent came from.
type Source string

const (
	SourceRules  Source = "rules"
	SourceLLM    Source = "llm"
	SourceChoice Source = "choice"
)

// Candidate is a ranked alternative interpretation of an utterance.
type Candidate struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// Intent is the structured interpretation of one utterance.
type Intent struct {
	Utterance    string            `json:"utterance"`
	Kind         Kind              `json:"kind"`
	Slots        map[string]string `json:"slots"`
	Confidence   float64           `json:"confidence"`
	Source       Source            `json:"source"`
	Alternatives []Candidate       `json:"alternatives,omitempty"`
}

// NewIntent builds an Intent that owns its maps. Unregistered kinds collapse to unknown.
func NewIntent(utterance string, kind Kind, slots map[string]string, confidence float64, src Source) Intent {
	if !kind.Registered() {
		kind = KindUnknown
	}
	return Intent{
		Utterance:  utterance,
		Kind:       kind,
		Slots:      cloneSlots(slots),
		Confidence: clamp01(confidence),
		Source:     src,
	}
}

// Unknown is the intent returned when nothing matched.
func Unknown(utterance string, src Source) Intent {
	return NewIntent(utterance, KindUnknown, nil, 0, src)
}

// WithAlternatives returns a copy of i carrying alts.
func (i Intent) WithAlternatives(alts []Candidate) Intent {
	i.Slots = cloneSlots(i.Slots)
	i.Alternatives = append([]Candidate(nil), alts...)
	return i
}

// Slot returns a trimmed slot value.
func (i Intent) Slot(name string) string {
	return strings.TrimSpace(i.Slots[name])
}

// Action is a validated, executable intent.
type Action struct {
	Kind      Kind              `json:"kind"`
	Params    map[string]string `json:"params"`
	Dangerous bool              `json:"dangerous"`
	Utterance string            `json:"utterance,omitempty"`
}

// NewAction copies params so the returned Action never aliases caller state.
func NewAction(kind Kind, params map[string]string, dangerous bool, utterance string) Action {
	return Action{Kind: kind, Params: cloneSlots(params), Dangerous: dangerous, Utterance: utterance}
}

func (a Action) Param(name string) string {
	return a.Params[name]
}

// Equal compares kind, parameters and the dangerous flag.
func (a Action) Equal(b Action) bool {
	return a.Kind == b.Kind && a.Dangerous == b.Dangerous && maps.Equal(a.Params, b.Params)
}

// Policy is the process-wide execution policy, read-only during a session.
type Policy struct {
	AllowExecution     bool `yaml:"allow_execution" json:"allow_execution"`
	AllowExecDangerous bool `yaml:"allow_exec_dangerous" json:"allow_exec_dangerous"`
	AlwaysListen       bool `yaml:"always_listen" json:"always_listen"`
}

func cloneSlots(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
