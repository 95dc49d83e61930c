package selection

import "log/slog"

// KnownExperts reports whether an expert key is registered.
type KnownExperts interface {
	Has(key string) bool
}

// Machine resolves a turn against the persisted selection state.
type Machine struct {
	experts KnownExperts
	logger  *slog.Logger
}

// NewMachine creates a machine validating suggestions against experts.
func NewMachine(experts KnownExperts, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{experts: experts, logger: logger}
}

// Resolve decides how the turn for userText proceeds. suggested is the
// classifier output ("" when nothing matched) and current the active expert.
//
// Rules are applied in order:
//  1. no usable suggestion (empty, equal to current, unknown): proceed current.
//  2. prior processed for the same text: replay, reset.
//  3. prior pending for the same text: honour the choice, or keep waiting.
//  4. otherwise: ask, with a fresh pending state.
//
// Resolve performs no I/O and is idempotent: re-evaluating with the same
// inputs yields the same decision.
func (m *Machine) Resolve(userText, suggested, current string, prior State) Decision {
	if prior.Pending && prior.MessageText != userText {
		m.logger.Info("discarding stale pending selection",
			"pending_text_len", len(prior.MessageText),
			"suggested_expert", prior.SuggestedExpert)
	}

	// Rule 1.
	switch {
	case suggested == "":
		return Decision{Action: ProceedCurrent, Target: current, Reason: ReasonNoSuggestion}
	case suggested == current:
		return Decision{Action: ProceedCurrent, Target: current, Reason: ReasonSameExpert}
	case m.experts == nil || !m.experts.Has(suggested):
		m.logger.Warn("classifier suggested unknown expert", "expert", suggested)
		return Decision{Action: ProceedCurrent, Target: current, Reason: ReasonUnknownSuggestion}
	}

	// Rule 2.
	if prior.Processed && prior.MessageText == userText {
		return Decision{Action: ProceedCurrent, Target: current, Reason: ReasonAlreadyProcessed, Replay: true}
	}

	// Rule 3.
	if prior.Pending && prior.MessageText == userText {
		switch prior.Choice {
		case ChoiceUseSuggested:
			target := prior.SuggestedExpert
			if target == "" {
				target = suggested
			}
			return Decision{
				Action: ProceedSuggested,
				Next:   processed(userText, target, ChoiceUseSuggested),
				Target: target,
				Reason: ReasonAccepted,
			}
		case ChoiceKeepCurrent:
			return Decision{
				Action: ProceedCurrent,
				Next:   processed(userText, prior.SuggestedExpert, ChoiceKeepCurrent),
				Target: current,
				Reason: ReasonDeclined,
			}
		default:
			return Decision{Action: AwaitChoice, Next: prior, Target: prior.SuggestedExpert, Reason: ReasonAwaiting}
		}
	}

	// Rule 4.
	reason := ReasonNewSuggestion
	if prior.Pending {
		reason = ReasonStaleDiscarded
	}
	return Decision{
		Action: AwaitChoice,
		Next: State{
			Pending:         true,
			MessageText:     userText,
			SuggestedExpert: suggested,
		},
		Target: suggested,
		Reason: reason,
	}
}

func processed(text, suggested string, c Choice) State {
	return State{
		MessageText:     text,
		SuggestedExpert: suggested,
		Choice:          c,
		Processed:       true,
	}
}
