package validator

import (
	"fmt"
	"strings"

	"vassist/pkg/command"
)

// Validate turns an intent into an executable action or explains why it can't be one.
// The returned error is always a *command.Rejection.
func Validate(in command.Intent, policy command.Policy) (command.Action, error) {
	if in.Kind == command.KindUnknown || !in.Kind.Registered() {
		return command.Action{}, command.AmbiguousRejection()
	}

	spec, _ := command.Lookup(in.Kind)

	var missing []string
	for _, name := range spec.Required {
		if strings.TrimSpace(in.Slots[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return command.Action{}, command.MissingSlotsRejection(missing)
	}

	params := make(map[string]string, len(in.Slots))
	for k, v := range in.Slots {
		if v = strings.TrimSpace(v); v != "" {
			params[k] = v
		}
	}

	return command.NewAction(in.Kind, params, spec.Dangerous && !policy.AllowExecDangerous, in.Utterance), nil
}

// ValidateAll validates a batch, stopping at the first rejection.
func ValidateAll(intents []command.Intent, policy command.Policy) ([]command.Action, error) {
	out := make([]command.Action, 0, len(intents))
	for i, in := range intents {
		act, err := Validate(in, policy)
		if err != nil {
			return nil, fmt.Errorf("intent[%d] (%s): %w", i, in.Kind, err)
		}
		out = append(out, act)
	}
	return out, nil
}
