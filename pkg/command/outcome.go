package command

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the terminal state of an action.
type Status string

const (
	StatusExecuted             Status = "executed"
	StatusDryRun               Status = "dry_run"
	StatusRejected             Status = "rejected"
	StatusConfirmationRequired Status = "confirmation_required"
)

// Outcome is what the surrounding interface reports to the user.
type Outcome struct {
	Status       Status      `json:"status"`
	Detail       string      `json:"detail"`
	Alternatives []Candidate `json:"alternatives,omitempty"`
}

func Executed(format string, args ...any) Outcome {
	return Outcome{Status: StatusExecuted, Detail: fmt.Sprintf(format, args...)}
}

func DryRun(format string, args ...any) Outcome {
	return Outcome{Status: StatusDryRun, Detail: fmt.Sprintf(format, args...)}
}

func Rejected(format string, args ...any) Outcome {
	return Outcome{Status: StatusRejected, Detail: fmt.Sprintf(format, args...)}
}

func NeedsConfirmation(format string, args ...any) Outcome {
	return Outcome{Status: StatusConfirmationRequired, Detail: fmt.Sprintf(format, args...)}
}

const (
	ReasonAmbiguous    = "ambiguous intent"
	ReasonUserDeclined = "user declined"
)

// ErrAmbiguousIntent matches rejections of unknown intents via errors.Is.
var ErrAmbiguousIntent = errors.New(ReasonAmbiguous)

// Rejection is a validation failure. It is surfaced to the user, never fatal.
type Rejection struct {
	Reason    string
	Missing   []string
	Ambiguous bool
}

func (r *Rejection) Error() string {
	return r.Reason
}

func (r *Rejection) Is(target error) bool {
	return r.Ambiguous && target == ErrAmbiguousIntent
}

// AmbiguousRejection is returned for intents of kind unknown.
func AmbiguousRejection() *Rejection {
	return &Rejection{Reason: ReasonAmbiguous, Ambiguous: true}
}

// MissingSlotsRejection names the absent slots in declaration order.
func MissingSlotsRejection(missing []string) *Rejection {
	return &Rejection{
		Reason:  "missing required slot(s): " + strings.Join(missing, ", "),
		Missing: append([]string(nil), missing...),
	}
}
