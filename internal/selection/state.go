// Package selection implements the expert-switch confirmation state machine.
//
// The turn routine is re-run from scratch on every user interaction, so the
// machine never carries memory of its own: every decision is a pure function
// of the incoming text, the classifier's suggestion, the current expert and
// the persisted State from the previous run.
package selection

import "fmt"

// Choice is the user's answer to a switch suggestion.
type Choice string

const (
	// ChoiceUnset means the user has not answered yet.
	ChoiceUnset Choice = ""
	// ChoiceUseSuggested accepts the suggested expert.
	ChoiceUseSuggested Choice = "use_suggested"
	// ChoiceKeepCurrent keeps the current expert.
	ChoiceKeepCurrent Choice = "keep_current"
)

// ParseChoice validates a wire value.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(s); c {
	case ChoiceUseSuggested, ChoiceKeepCurrent:
		return c, nil
	default:
		return ChoiceUnset, fmt.Errorf("invalid choice %q", s)
	}
}

// State is the persisted selection state of a session.
//
// MessageText correlates a state with the turn it belongs to. Pending
// states carry ChoiceUnset until the user acts; Processed marks a turn whose
// choice has been consumed so reruns with the same text do not ask again.
type State struct {
	Pending         bool   `json:"pending"`
	MessageText     string `json:"message_text,omitempty"`
	SuggestedExpert string `json:"suggested_expert,omitempty"`
	Choice          Choice `json:"choice,omitempty"`
	Processed       bool   `json:"processed"`
}

// Empty reports whether s is the initial state.
func (s State) Empty() bool { return s == State{} }

// WithChoice records the user's answer on a pending state.
func (s State) WithChoice(c Choice) State {
	s.Choice = c
	return s
}

// Action is the outcome of a resolution.
type Action int

const (
	// ProceedCurrent processes the message with the current expert.
	ProceedCurrent Action = iota
	// ProceedSuggested switches to the suggested expert, then processes.
	ProceedSuggested
	// AwaitChoice stops the turn until the user picks an option.
	AwaitChoice
)

func (a Action) String() string {
	switch a {
	case ProceedCurrent:
		return "proceed_current"
	case ProceedSuggested:
		return "proceed_suggested"
	case AwaitChoice:
		return "await_choice"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText decodes an action name.
func (a *Action) UnmarshalText(b []byte) error {
	for _, v := range []Action{ProceedCurrent, ProceedSuggested, AwaitChoice} {
		if v.String() == string(b) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("unknown action %q", b)
}

// Reason explains which rule produced a decision.
type Reason string

const (
	ReasonNoSuggestion      Reason = "no_suggestion"
	ReasonSameExpert        Reason = "same_expert"
	ReasonUnknownSuggestion Reason = "unknown_suggestion"
	ReasonAlreadyProcessed  Reason = "already_processed"
	ReasonAccepted          Reason = "accepted"
	ReasonDeclined          Reason = "declined"
	ReasonAwaiting          Reason = "awaiting_choice"
	ReasonNewSuggestion     Reason = "new_suggestion"
	ReasonStaleDiscarded    Reason = "stale_discarded"
)

// Decision is the result of Machine.Resolve.
type Decision struct {
	Action Action
	// Next is the state to persist after the turn.
	Next State
	// Target is the expert the turn should run with. For AwaitChoice it is
	// the suggestion being offered.
	Target string
	Reason Reason
	// Replay is set when the prior state already recorded this text as
	// processed; the message must not be sent to the processor again.
	Replay bool
}
