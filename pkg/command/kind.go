package command

import "strings"

// Kind is a registered action tag.
type Kind string

const (
	KindOpenURL       Kind = "open_url"
	KindOpenApp       Kind = "open_app"
	KindSearch        Kind = "search"
	KindSummarize     Kind = "summarize"
	KindSetTimer      Kind = "set_timer"
	KindPlayMusic     Kind = "play_music"
	KindSendMessage   Kind = "send_message"
	KindSystemControl Kind = "system_control"
	KindTellTime      Kind = "tell_time"
	KindUnknown       Kind = "unknown"
)

// Spec declares what an action kind needs before it can run.
type Spec struct {
	Kind      Kind
	Required  []string
	Dangerous bool
	Summary   string
}

// Declaration order matters: it breaks ties in the parser and in alternative ranking.
var specs = []Spec{
	{Kind: KindOpenURL, Required: []string{"target"}, Summary: "open a website"},
	{Kind: KindOpenApp, Required: []string{"target"}, Summary: "launch an application"},
	{Kind: KindSearch, Required: []string{"query"}, Summary: "search the web"},
	{Kind: KindSummarize, Required: []string{"target"}, Summary: "summarize a text or page"},
	{Kind: KindSetTimer, Required: []string{"duration"}, Summary: "set a timer"},
	{Kind: KindPlayMusic, Summary: "play music"},
	{Kind: KindSendMessage, Required: []string{"recipient", "body"}, Dangerous: true, Summary: "send a message"},
	{Kind: KindSystemControl, Required: []string{"operation"}, Dangerous: true, Summary: "control the computer (shutdown, restart, lock...)"},
	{Kind: KindTellTime, Summary: "tell the current time"},
	{Kind: KindUnknown, Summary: "not understood"},
}

var specIndex = func() map[Kind]int {
	m := make(map[Kind]int, len(specs))
	for i, s := range specs {
		m[s.Kind] = i
	}
	return m
}()

// Specs returns every registered kind in declaration order.
func Specs() []Spec {
	out := make([]Spec, len(specs))
	for i, s := range specs {
		s.Required = append([]string(nil), s.Required...)
		out[i] = s
	}
	return out
}

// Kinds returns the registered tags in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Kind)
	}
	return out
}

// Lookup returns the spec of a registered kind.
func Lookup(k Kind) (Spec, bool) {
	i, ok := specIndex[k]
	if !ok {
		return Spec{}, false
	}
	s := specs[i]
	s.Required = append([]string(nil), s.Required...)
	return s, true
}

// Order is the declaration index of k, or len(Kinds()) for unregistered tags.
func Order(k Kind) int {
	if i, ok := specIndex[k]; ok {
		return i
	}
	return len(specs)
}

// Registered reports whether k is one of the registered tags.
func (k Kind) Registered() bool {
	_, ok := specIndex[k]
	return ok
}

// Dangerous reports whether k needs explicit confirmation before a real effect.
func (k Kind) Dangerous() bool {
	s, ok := Lookup(k)
	return ok && s.Dangerous
}

func (k Kind) String() string { return string(k) }

// ParseKind maps free text such as "Open-URL" onto a registered tag.
func ParseKind(s string) (Kind, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	k := Kind(norm)
	if !k.Registered() {
		return KindUnknown, false
	}
	return k, true
}
