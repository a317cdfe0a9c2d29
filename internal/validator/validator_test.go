package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vassist/pkg/command"
)

func intent(kind command.Kind, slots map[string]string) command.Intent {
	return command.NewIntent("utterance", kind, slots, 0.9, command.SourceRules)
}

func TestValidate_Unknown(t *testing.T) {
	_, err := Validate(command.Unknown("mumble", command.SourceRules), command.Policy{})
	require.Error(t, err)
	assert.ErrorIs(t, err, command.ErrAmbiguousIntent)
	assert.EqualError(t, err, "ambiguous intent")
}

func TestValidate_MissingSlotsInDeclaredOrder(t *testing.T) {
	_, err := Validate(intent(command.KindSendMessage, map[string]string{"body": "  "}), command.Policy{})

	var rej *command.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, []string{"recipient", "body"}, rej.Missing)
	assert.Equal(t, "missing required slot(s): recipient, body", rej.Reason)
	assert.NotErrorIs(t, err, command.ErrAmbiguousIntent)
}

func TestValidate_OpenURL(t *testing.T) {
	act, err := Validate(intent(command.KindOpenURL, map[string]string{"target": " github "}), command.Policy{})
	require.NoError(t, err)
	assert.Equal(t, command.KindOpenURL, act.Kind)
	assert.Equal(t, map[string]string{"target": "github"}, act.Params)
	assert.False(t, act.Dangerous)
	assert.Equal(t, "utterance", act.Utterance)
}

func TestValidate_NoRequiredSlots(t *testing.T) {
	act, err := Validate(intent(command.KindTellTime, nil), command.Policy{})
	require.NoError(t, err)
	assert.Empty(t, act.Params)
}

func TestValidate_DangerousFlag(t *testing.T) {
	in := intent(command.KindSystemControl, map[string]string{"operation": "shutdown"})

	act, err := Validate(in, command.Policy{AllowExecution: true})
	require.NoError(t, err)
	assert.True(t, act.Dangerous)

	act, err = Validate(in, command.Policy{AllowExecution: true, AllowExecDangerous: true})
	require.NoError(t, err)
	assert.False(t, act.Dangerous)

	safe, err := Validate(intent(command.KindSearch, map[string]string{"query": "go"}), command.Policy{})
	require.NoError(t, err)
	assert.False(t, safe.Dangerous)
}

func TestValidate_Pure(t *testing.T) {
	in := intent(command.KindSearch, map[string]string{"query": "weather"})
	p := command.Policy{AllowExecution: true}

	a, errA := Validate(in, p)
	b, errB := Validate(in, p)
	assert.Equal(t, errA, errB)
	assert.True(t, a.Equal(b))

	a.Params["query"] = "changed"
	assert.Equal(t, "weather", in.Slots["query"], "action must not alias intent slots")
}

func TestValidate_RoundTrip(t *testing.T) {
	intents := []command.Intent{
		intent(command.KindOpenURL, map[string]string{"target": "  github "}),
		intent(command.KindSearch, map[string]string{"query": "weather", "extra": " "}),
		intent(command.KindSetTimer, map[string]string{"duration": "5 minutes", "label": "tea"}),
		intent(command.KindSendMessage, map[string]string{"recipient": "bob", "body": "hi there"}),
		intent(command.KindSystemControl, map[string]string{"operation": "mute"}),
		intent(command.KindTellTime, nil),
	}
	policies := []command.Policy{
		{},
		{AllowExecution: true},
		{AllowExecution: true, AllowExecDangerous: true},
	}

	for _, in := range intents {
		for _, p := range policies {
			act, err := Validate(in, p)
			require.NoError(t, err, in.Kind)

			again, err := Validate(command.NewIntent(in.Utterance, act.Kind, act.Params, in.Confidence, in.Source), p)
			require.NoError(t, err, in.Kind)
			assert.True(t, act.Equal(again), "%s under %+v", in.Kind, p)
		}
	}
}

func TestValidateAll(t *testing.T) {
	acts, err := ValidateAll([]command.Intent{
		intent(command.KindTellTime, nil),
		intent(command.KindSearch, map[string]string{"query": "go"}),
	}, command.Policy{})
	require.NoError(t, err)
	assert.Len(t, acts, 2)

	_, err = ValidateAll([]command.Intent{
		intent(command.KindTellTime, nil),
		command.Unknown("?", command.SourceRules),
	}, command.Policy{})
	assert.ErrorIs(t, err, command.ErrAmbiguousIntent)
	assert.Contains(t, err.Error(), "intent[1] (unknown)")
}
