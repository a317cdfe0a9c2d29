package nlu

import (
	"regexp"
	"strings"
	"unicode"

	"vassist/internal/catalog"
	"vassist/pkg/command"
)

// match is a trigger hit inside a normalized utterance.
type match struct {
	text    string // whole normalized utterance
	trigger string
	rest    string // text after the trigger
}

// extractor fills slots from a match. Returning false means the rule doesn't fit.
type extractor func(m match, cat *catalog.Catalog) (map[string]string, bool)

type rule struct {
	kind     command.Kind
	triggers []string
	hints    []string
	extract  extractor
}

var aliases = [][2]string{
	{"mic store", "microsoft store"},
	{"microsft store", "microsoft store"},
	{"micro soft store", "microsoft store"},
	{"git hub", "github"},
	{"you tube", "youtube"},
	{"shutdown", "shut down"},
	{"power down", "shut down"},
	{"what's", "what is"},
	{"whats", "what is"},
	{"logout", "log out"},
	{"signout", "sign out"},
}

// normalize lowercases, strips punctuation around tokens and applies mishearing aliases.
func normalize(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	t := " " + strings.Join(out, " ") + " "
	for _, a := range aliases {
		if strings.Contains(t, " "+a[0]+" ") && !strings.Contains(t, " "+a[1]+" ") {
			t = strings.ReplaceAll(t, " "+a[0]+" ", " "+a[1]+" ")
		}
	}
	return strings.TrimSpace(t)
}

// find locates trigger as whole words in text.
func find(text, trigger string) (match, bool) {
	padded := " " + text + " "
	i := strings.Index(padded, " "+trigger+" ")
	if i < 0 {
		return match{}, false
	}
	rest := padded[i+len(trigger)+2:]
	return match{text: text, trigger: trigger, rest: strings.TrimSpace(rest)}, true
}

func stripWords(s string, leading, trailing []string) string {
	for changed := true; changed; {
		changed = false
		for _, w := range leading {
			if s == w {
				s, changed = "", true
			} else if strings.HasPrefix(s, w+" ") {
				s, changed = strings.TrimSpace(s[len(w)+1:]), true
			}
		}
		for _, w := range trailing {
			if s == w {
				s, changed = "", true
			} else if strings.HasSuffix(s, " "+w) {
				s, changed = strings.TrimSpace(s[:len(s)-len(w)-1]), true
			}
		}
	}
	return s
}

var (
	targetLead  = []string{"up", "the", "my", "a", "please", "me"}
	targetTrail = []string{"please", "for me", "in the browser", "in browser", "in a browser", "website", "site", "page", "app", "application", "now"}
)

func target(rest string) string {
	return stripWords(rest, targetLead, targetTrail)
}

func openURL(m match, cat *catalog.Catalog) (map[string]string, bool) {
	t := target(m.rest)
	if t == "" {
		return nil, false
	}
	if _, ok := cat.FindApp(t); ok {
		return nil, false
	}
	if name, ok := cat.FindSite(t); ok {
		return map[string]string{"target": name}, true
	}
	for _, f := range strings.Fields(t) {
		if catalog.LooksLikeDomain(f) {
			return map[string]string{"target": f}, true
		}
	}
	return nil, false
}

func openApp(m match, cat *catalog.Catalog) (map[string]string, bool) {
	t := target(m.rest)
	if name, ok := cat.FindApp(t); ok {
		return map[string]string{"target": name}, true
	}
	return map[string]string{"target": t}, true
}

func search(m match, _ *catalog.Catalog) (map[string]string, bool) {
	q := stripWords(m.rest, []string{"for", "up", "about", "the web for", "online for"}, []string{"online", "on the web", "on google", "please"})
	if m.trigger == "google" && q == "" {
		// "open google" is a site, not an empty search
		return nil, false
	}
	return map[string]string{"query": q}, true
}

func summarize(m match, _ *catalog.Catalog) (map[string]string, bool) {
	t := stripWords(m.rest, []string{"of", "me", "for me"}, []string{"please", "for me"})
	return map[string]string{"target": t}, true
}

const (
	durationNumber = `(?:\d+(?:\.\d+)?|an?|one|two|three|four|five|six|seven|eight|nine|ten|fifteen|twenty|thirty|forty|fifty|ninety|half an?)(?:\s+and\s+a\s+half)?`
	durationUnit   = `(?:h|hours?|hrs?|m|mins?|minutes?|s|secs?|seconds?)\b`
)

// durationRe finds spoken durations ("an hour and a half", "one and a half hours")
// and compact ones ("1h30m").
var durationRe = regexp.MustCompile(`\b(?:` + durationNumber + `\s*` + durationUnit + `\s*(?:and\s*)?)+(?:a\s+half\b)?` +
	`|\b\d+h(?:\d+m)?(?:\d+s)?\b|\b\d+m(?:\d+s)?\b`)

func setTimer(m match, _ *catalog.Catalog) (map[string]string, bool) {
	slots := map[string]string{"duration": ""}
	if d := durationRe.FindString(m.text); d != "" {
		slots["duration"] = strings.TrimSuffix(strings.TrimSpace(d), " and")
	}
	if i := strings.Index(m.rest, " called "); i >= 0 {
		slots["label"] = strings.TrimSpace(m.rest[i+len(" called "):])
	}
	return slots, true
}

func playMusic(m match, _ *catalog.Catalog) (map[string]string, bool) {
	q := stripWords(m.rest, []string{"some", "music", "songs", "song", "by", "me"}, []string{"please", "on spotify", "music"})
	if q == "" {
		return map[string]string{}, true
	}
	return map[string]string{"query": q}, true
}

var messageSeps = []string{" saying ", " that says ", " that ", " to say ", " with "}

func sendMessage(m match, _ *catalog.Catalog) (map[string]string, bool) {
	rest := stripWords(m.rest, []string{"to", "a message to", "message to"}, nil)
	if rest == "me" || strings.HasPrefix(rest, "me ") {
		// "tell me ..." is a question, not a message
		return nil, false
	}
	slots := map[string]string{"recipient": "", "body": ""}
	for _, sep := range messageSeps {
		if i := strings.Index(" "+rest+" ", sep); i >= 0 {
			padded := " " + rest + " "
			slots["recipient"] = strings.TrimSpace(padded[:i])
			slots["body"] = strings.TrimSpace(padded[i+len(sep):])
			return slots, true
		}
	}
	if who, body, ok := strings.Cut(rest, " "); ok {
		slots["recipient"], slots["body"] = who, strings.TrimSpace(body)
	} else {
		slots["recipient"] = rest
	}
	return slots, true
}

type operation struct {
	trigger string
	op      string
}

// operations are in declaration order; equal-length triggers resolve to the earlier entry.
var operations = []operation{
	{"shut down", "shutdown"},
	{"turn off the computer", "shutdown"},
	{"power off", "shutdown"},
	{"restart", "restart"},
	{"reboot", "restart"},
	{"lock", "lock"},
	{"lock the screen", "lock"},
	{"log out", "logout"},
	{"sign out", "logout"},
	{"sleep", "sleep"},
	{"hibernate", "hibernate"},
	{"mute", "mute"},
	{"unmute", "unmute"},
	{"volume up", "volume_up"},
	{"turn it up", "volume_up"},
	{"volume down", "volume_down"},
	{"turn it down", "volume_down"},
}

func operationFor(trigger string) (string, bool) {
	for _, o := range operations {
		if o.trigger == trigger {
			return o.op, true
		}
	}
	return "", false
}

func systemControl(m match, _ *catalog.Catalog) (map[string]string, bool) {
	op, ok := operationFor(m.trigger)
	if !ok {
		op = strings.TrimSpace(m.rest)
	}
	return map[string]string{"operation": op}, true
}

func tellTime(match, *catalog.Catalog) (map[string]string, bool) {
	return map[string]string{}, true
}

func systemTriggers() []string {
	out := make([]string, 0, len(operations))
	for _, o := range operations {
		out = append(out, o.trigger)
	}
	return out
}

// defaultRules are in declaration order.
func defaultRules() []rule {
	return []rule{
		{
			kind:     command.KindOpenURL,
			triggers: []string{"open", "go to", "visit", "browse to", "navigate to", "take me to"},
			hints:    []string{"website", "site", "page", "url", "browser", "link"},
			extract:  openURL,
		},
		{
			kind:     command.KindOpenApp,
			triggers: []string{"open", "launch", "start", "run", "fire up"},
			hints:    []string{"app", "application", "program", "store"},
			extract:  openApp,
		},
		{
			kind:     command.KindSearch,
			triggers: []string{"search for", "search", "look up", "google", "find information about"},
			hints:    []string{"find", "information", "who", "what", "how", "where"},
			extract:  search,
		},
		{
			kind:     command.KindSummarize,
			triggers: []string{"summarize", "summarise", "sum up", "give me a summary of", "tldr"},
			hints:    []string{"summary", "article", "short", "gist", "text"},
			extract:  summarize,
		},
		{
			kind: command.KindSetTimer,
			triggers: []string{
				"set a timer for", "set a timer", "set timer for", "set timer",
				"start a timer for", "start a timer", "start the timer", "timer for",
				"remind me in", "countdown",
			},
			hints:   []string{"timer", "minutes", "seconds", "hour", "alarm", "remind"},
			extract: setTimer,
		},
		{
			kind:     command.KindPlayMusic,
			triggers: []string{"play", "play music", "play some music", "put on some music", "put on"},
			hints:    []string{"music", "song", "songs", "playlist", "album", "radio"},
			extract:  playMusic,
		},
		{
			kind:     command.KindSendMessage,
			triggers: []string{"send a message to", "send message to", "message", "text", "tell", "send", "email"},
			hints:    []string{"message", "saying", "chat", "mail", "reply"},
			extract:  sendMessage,
		},
		{
			kind:     command.KindSystemControl,
			triggers: systemTriggers(),
			hints:    []string{"computer", "pc", "laptop", "screen", "volume", "power"},
			extract:  systemControl,
		},
		{
			kind:     command.KindTellTime,
			triggers: []string{"what time", "what is the time", "tell me the time", "current time", "what time is it"},
			hints:    []string{"time", "clock", "o'clock"},
			extract:  tellTime,
		},
	}
}
