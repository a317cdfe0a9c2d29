package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"vassist/pkg/command"
)

// Verdict classifies a decider reply.
type Verdict int

const (
	Valid Verdict = iota
	Malformed
	Timeout
	Unavailable
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Malformed:
		return "malformed"
	case Timeout:
		return "timeout"
	case Unavailable:
		return "unavailable"
	}
	return "verdict(" + strconv.Itoa(int(v)) + ")"
}

// Proposal is what a decider suggests. Intent is set only when Verdict is Valid.
type Proposal struct {
	Verdict Verdict
	Intent  command.Intent
	Raw     string
	Err     error
}

// Decider is an external intent suggester, usually a language model.
type Decider interface {
	Decide(ctx context.Context, utterance string) Proposal
}

var ErrMalformed = errors.New("malformed decider reply")

const defaultLLMConfidence = 0.85

var systemPrompt = buildPrompt()

func buildPrompt() string {
	var b strings.Builder
	b.WriteString(`
You are VOX-NLU, the intent classifier of a desktop voice assistant.
Your ONLY job is to convert the user's utterance into a minimal structured JSON.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT answer the question.
3. Do NOT add explanations.
4. Output ONLY JSON. No markdown.
5. Never invent parameters that were not said.

OUTPUT FORMAT:
{
  "intent": "<kind>",
  "entities": { "<slot>": "<string>" },
  "confidence": <number between 0 and 1>
}

KINDS (snake_case) and their slots:
`)
	for _, s := range command.Specs() {
		fmt.Fprintf(&b, "- %q: %s", string(s.Kind), s.Summary)
		if len(s.Required) > 0 {
			fmt.Fprintf(&b, " (slots: %s)", strings.Join(s.Required, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Slot values are plain strings. For open_url and open_app the "target" is the site or app name as spoken.
If the meaning is unclear use "unknown".
`)
	return b.String()
}

// NewClient builds an OpenAI-compatible client. An empty baseURL keeps the OpenAI default;
// local servers such as Ollama expose the same API under /v1.
func NewClient(apiKey, baseURL string, hc *http.Client) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// the parser owns the deadline, retries would only overrun it
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}
	return openai.NewClient(opts...)
}

type OpenAIDecider struct {
	client openai.Client
	model  string
}

func NewOpenAIDecider(client openai.Client, model string) *OpenAIDecider {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	return &OpenAIDecider{client: client, model: model}
}

func (d *OpenAIDecider) Decide(ctx context.Context, utterance string) Proposal {
	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(utterance),
		},
		Model: openai.ChatModel(d.model),
	})
	if err != nil {
		if ctx.Err() != nil {
			return Proposal{Verdict: Timeout, Err: ctx.Err()}
		}
		return Proposal{Verdict: Unavailable, Err: fmt.Errorf("chat completion: %w", err)}
	}

	if len(resp.Choices) == 0 {
		return Proposal{Verdict: Malformed, Err: fmt.Errorf("%w: no choices in response", ErrMalformed)}
	}

	content := resp.Choices[0].Message.Content
	log.Debug("Decider replied", "model", d.model, "data", content)

	in, err := DecodeReply(utterance, content)
	if err != nil {
		return Proposal{Verdict: Malformed, Raw: content, Err: err}
	}
	return Proposal{Verdict: Valid, Intent: in, Raw: content}
}

// slotAliases maps parameter names models like to use onto registered slot names.
var slotAliases = map[command.Kind]map[string]string{
	command.KindOpenURL:       {"url": "target", "site": "target", "website": "target"},
	command.KindOpenApp:       {"app": "target", "name": "target", "application": "target"},
	command.KindSearch:        {"q": "query", "text": "query", "term": "query"},
	command.KindSummarize:     {"url": "target", "text": "target", "page": "target"},
	command.KindSetTimer:      {"time": "duration", "length": "duration", "name": "label"},
	command.KindPlayMusic:     {"song": "query", "artist": "query", "playlist": "query"},
	command.KindSendMessage:   {"to": "recipient", "contact": "recipient", "message": "body", "text": "body"},
	command.KindSystemControl: {"action": "operation", "command": "operation", "op": "operation"},
}

// DecodeReply extracts the first JSON object from a model reply and shape-checks it.
// Both {"intent","entities","confidence"} and {"action":{"type",...}} are accepted.
func DecodeReply(utterance, raw string) (command.Intent, error) {
	i := strings.IndexByte(raw, '{')
	if i < 0 {
		return command.Intent{}, fmt.Errorf("%w: no JSON object", ErrMalformed)
	}

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(raw[i:]))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return command.Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		kindVal  any
		params   map[string]any
		confSrc  = doc
		skipKeys = map[string]bool{}
	)
	if act, ok := doc["action"]; ok {
		obj, ok := act.(map[string]any)
		if !ok {
			return command.Intent{}, fmt.Errorf("%w: action is not an object", ErrMalformed)
		}
		kindVal, params = obj["type"], obj
		skipKeys["type"], skipKeys["confidence"] = true, true
		if _, ok := obj["confidence"]; ok {
			confSrc = obj
		}
	} else {
		kindVal = doc["intent"]
		switch ent := doc["entities"].(type) {
		case nil:
		case map[string]any:
			params = ent
		default:
			return command.Intent{}, fmt.Errorf("%w: entities is not an object", ErrMalformed)
		}
	}

	name, ok := kindVal.(string)
	if !ok {
		return command.Intent{}, fmt.Errorf("%w: intent is not a string", ErrMalformed)
	}
	if strings.EqualFold(strings.TrimSpace(name), "none") {
		name = string(command.KindUnknown)
	}
	kind, ok := command.ParseKind(name)
	if !ok {
		return command.Intent{}, fmt.Errorf("%w: unregistered kind %q", ErrMalformed, name)
	}

	// exact slot names beat aliases; among aliases the first key in sorted order wins
	slots := make(map[string]string, len(params))
	aliased := make(map[string]string)
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if skipKeys[k] {
			continue
		}
		s, ok, err := scalar(params[k])
		if err != nil {
			return command.Intent{}, fmt.Errorf("%w: slot %q: %v", ErrMalformed, k, err)
		}
		if !ok {
			continue
		}
		key := strings.ToLower(k)
		if alias, ok := slotAliases[kind][key]; ok {
			if _, dup := aliased[alias]; !dup {
				aliased[alias] = s
			}
			continue
		}
		if _, dup := slots[key]; !dup {
			slots[key] = s
		}
	}
	for slot, s := range aliased {
		if _, exact := slots[slot]; !exact {
			slots[slot] = s
		}
	}

	conf := defaultLLMConfidence
	if c, present := confSrc["confidence"]; present {
		n, ok := c.(json.Number)
		if !ok {
			return command.Intent{}, fmt.Errorf("%w: confidence is not a number", ErrMalformed)
		}
		f, err := n.Float64()
		if err != nil || f < 0 || f > 1 {
			return command.Intent{}, fmt.Errorf("%w: confidence %s out of [0,1]", ErrMalformed, n)
		}
		conf = f
	}
	if kind == command.KindUnknown {
		conf = 0
	}

	return command.NewIntent(utterance, kind, slots, conf, command.SourceLLM), nil
}

// scalar stringifies JSON scalars. null is skipped; arrays and objects are errors.
func scalar(v any) (string, bool, error) {
	switch x := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return x, true, nil
	case json.Number:
		return x.String(), true, nil
	case bool:
		return strconv.FormatBool(x), true, nil
	default:
		return "", false, fmt.Errorf("not a scalar (%T)", v)
	}
}
