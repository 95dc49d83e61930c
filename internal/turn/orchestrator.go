// Package turn runs one conversational turn: classify the message, resolve
// the selection state, apply any accepted switch, and hand the message to
// the processor for the resolved expert.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/conversation"
	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/history"
	"github.com/bladealex9848/expert-nexus/internal/metrics"
	"github.com/bladealex9848/expert-nexus/internal/processor"
	"github.com/bladealex9848/expert-nexus/internal/selection"
	"github.com/bladealex9848/expert-nexus/internal/session"
)

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoPendingChoice is returned when a choice arrives with nothing to answer.
	ErrNoPendingChoice = errors.New("no pending expert suggestion")
)

// Suggestion is what the presentation layer shows while awaiting a choice.
type Suggestion struct {
	MessageText string             `json:"message_text"`
	Suggested   expert.Descriptor  `json:"suggested"`
	Current     expert.Descriptor  `json:"current"`
	Choices     []selection.Choice `json:"choices"`
}

// SwitchInfo describes an expert change committed by a turn.
type SwitchInfo struct {
	From             string `json:"from"`
	To               string `json:"to"`
	Reason           string `json:"reason"`
	ContextPreserved bool   `json:"context_preserved"`
	DocumentsDropped int    `json:"documents_dropped"`
}

// Outcome is the result of a turn.
type Outcome struct {
	Action     selection.Action  `json:"action"`
	Reason     selection.Reason  `json:"reason"`
	Replay     bool              `json:"replay"`
	Expert     expert.Descriptor `json:"expert"`
	Reply      *domain.Message   `json:"reply,omitempty"`
	Suggestion *Suggestion       `json:"suggestion,omitempty"`
	Switch     *SwitchInfo       `json:"switch,omitempty"`
}

// Options tune an Orchestrator.
type Options struct {
	// PreserveOnSuggestion keeps attached documents when a suggested
	// switch is accepted.
	PreserveOnSuggestion bool
	Recorder             metrics.Recorder
	Logger               *slog.Logger
	Now                  func() time.Time
}

// Orchestrator evaluates turns against an in-memory session. It performs
// no persistence; Service wraps it with storage and locking.
type Orchestrator struct {
	catalog   *expert.Catalog
	machine   *selection.Machine
	policy    *conversation.Policy
	processor processor.Processor
	preserve  bool
	recorder  metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator wires the classifier, state machine and policy around p.
func NewOrchestrator(catalog *expert.Catalog, p processor.Processor, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		catalog:   catalog,
		machine:   selection.NewMachine(catalog.Registry, logger),
		policy:    conversation.NewPolicy(catalog.Registry),
		processor: p,
		preserve:  opts.PreserveOnSuggestion,
		recorder:  recorder,
		logger:    logger,
		now:       now,
	}
}

// Catalog returns the expert catalog.
func (o *Orchestrator) Catalog() *expert.Catalog { return o.catalog }

// Evaluate runs one turn for text. On success sess reflects the committed
// turn. When processing fails the error wraps processor.ErrProcessorFailure
// and sess is left exactly as it was, so the turn can be retried.
func (o *Orchestrator) Evaluate(ctx context.Context, sess *session.Session, text string) (Outcome, error) {
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}

	current := sess.CurrentExpert()
	suggested, _ := o.catalog.Classify(text)
	d := o.machine.Resolve(text, suggested, current, sess.Selection)
	o.recorder.ObserveTurn(d.Action.String(), d.Replay)

	if d.Replay {
		return o.replay(sess, d)
	}

	if d.Action == selection.AwaitChoice {
		out, err := o.await(sess, d)
		if err == nil {
			return out, nil
		}
		// The pending suggestion no longer names a known expert.
		o.logger.Warn("dropping pending suggestion", "session_key", sess.Key, "error", err)
		d = selection.Decision{Action: selection.ProceedCurrent, Target: current, Reason: selection.ReasonUnknownSuggestion}
	}

	return o.proceed(ctx, sess, text, d)
}

// Choose records the user's answer to the pending suggestion and resumes
// the turn it belongs to. A second choice for a turn that was already
// processed replays its reply without calling the processor.
func (o *Orchestrator) Choose(ctx context.Context, sess *session.Session, c selection.Choice) (Outcome, error) {
	prior := sess.Selection
	switch {
	case prior.Pending:
	case prior.Processed:
		o.recorder.ObserveTurn(selection.ProceedCurrent.String(), true)
		return o.replay(sess, selection.Decision{
			Action: selection.ProceedCurrent,
			Target: sess.CurrentExpert(),
			Reason: selection.ReasonAlreadyProcessed,
			Replay: true,
		})
	default:
		return Outcome{}, ErrNoPendingChoice
	}

	sess.Selection = prior.WithChoice(c)
	out, err := o.Evaluate(ctx, sess, prior.MessageText)
	if err != nil {
		sess.Selection = prior
		return Outcome{}, err
	}
	return out, nil
}

// SwitchExpert changes the expert on user request. The ledger only grows
// when the expert actually changes.
func (o *Orchestrator) SwitchExpert(sess *session.Session, key string, preserve bool) (SwitchInfo, error) {
	sw, err := o.policy.ApplySwitch(sess.Conversation, key, history.ReasonManualSwitch, preserve)
	if err != nil {
		return SwitchInfo{}, err
	}
	info := switchInfo(sw)
	if sw.Changed() {
		sess.Ledger.Append(key, history.ReasonManualSwitch, sw.ContextPreserved)
		o.recorder.ObserveSwitch(sw.From, sw.To, sw.Reason)
		sess.UpdatedAt = o.now()
	}
	return info, nil
}

// NewConversation clears the transcript and selection state and restarts
// the ledger on the current expert. Attached documents stay.
func (o *Orchestrator) NewConversation(sess *session.Session) {
	sess.Conversation.ClearMessages()
	sess.Selection = selection.State{}
	sess.Ledger.Reset(sess.CurrentExpert(), history.ReasonNewConversation)
	sess.UpdatedAt = o.now()
}

// CleanSession drops messages and documents. The ledger is kept.
func (o *Orchestrator) CleanSession(sess *session.Session) {
	sess.Conversation.ClearMessages()
	sess.Conversation.ClearDocuments()
	sess.Selection = selection.State{}
	sess.UpdatedAt = o.now()
}

func (o *Orchestrator) replay(sess *session.Session, d selection.Decision) (Outcome, error) {
	desc, err := o.catalog.Registry.Get(sess.CurrentExpert())
	if err != nil {
		return Outcome{}, err
	}
	sess.Selection = d.Next
	out := Outcome{Action: d.Action, Reason: d.Reason, Replay: true, Expert: desc}
	if last, ok := sess.Conversation.LastAssistantMessage(); ok {
		out.Reply = &last
	}
	return out, nil
}

func (o *Orchestrator) await(sess *session.Session, d selection.Decision) (Outcome, error) {
	suggested, err := o.catalog.Registry.Get(d.Target)
	if err != nil {
		return Outcome{}, err
	}
	current, err := o.catalog.Registry.Get(sess.CurrentExpert())
	if err != nil {
		return Outcome{}, err
	}
	sess.Selection = d.Next
	sess.UpdatedAt = o.now()
	return Outcome{
		Action: d.Action,
		Reason: d.Reason,
		Expert: current,
		Suggestion: &Suggestion{
			MessageText: d.Next.MessageText,
			Suggested:   suggested,
			Current:     current,
			Choices:     []selection.Choice{selection.ChoiceUseSuggested, selection.ChoiceKeepCurrent},
		},
	}, nil
}

func (o *Orchestrator) proceed(ctx context.Context, sess *session.Session, text string, d selection.Decision) (Outcome, error) {
	conv := sess.Conversation.Clone()
	ledger := sess.Ledger.Clone()

	var info *SwitchInfo
	if d.Action == selection.ProceedSuggested {
		sw, err := o.policy.ApplySwitch(conv, d.Target, history.ReasonSuggestionAccept, o.preserve)
		switch {
		case err != nil:
			o.logger.Warn("suggested switch rejected, keeping current expert",
				"session_key", sess.Key, "expert", d.Target, "error", err)
		case sw.Changed():
			ledger.Append(sw.To, sw.Reason, sw.ContextPreserved)
			i := switchInfo(sw)
			info = &i
		}
	}

	desc, err := o.catalog.Registry.Get(conv.CurrentExpert)
	if err != nil {
		return Outcome{}, fmt.Errorf("active expert: %w", err)
	}

	reply, err := o.processor.Process(ctx, processor.Request{
		SessionKey: sess.Key,
		Text:       text,
		Expert:     desc,
		History:    conv.Messages,
		Documents:  conv.DocumentList(),
	})
	if err != nil {
		if !errors.Is(err, processor.ErrProcessorFailure) {
			err = fmt.Errorf("%w: %w", processor.ErrProcessorFailure, err)
		}
		return Outcome{}, err
	}

	now := o.now()
	answer := domain.NewMessage(domain.RoleAssistant, reply, desc.Key, now)
	conv.Append(domain.NewMessage(domain.RoleUser, text, desc.Key, now), answer)

	sess.Conversation = conv
	sess.Ledger = ledger
	sess.Selection = d.Next
	sess.UpdatedAt = now
	if info != nil {
		o.recorder.ObserveSwitch(info.From, info.To, info.Reason)
	}

	return Outcome{
		Action: d.Action,
		Reason: d.Reason,
		Expert: desc,
		Reply:  &answer,
		Switch: info,
	}, nil
}

func switchInfo(sw conversation.Switch) SwitchInfo {
	return SwitchInfo{
		From:             sw.From,
		To:               sw.To,
		Reason:           sw.Reason,
		ContextPreserved: sw.ContextPreserved,
		DocumentsDropped: sw.DocumentsDropped,
	}
}
