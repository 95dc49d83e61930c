package selection

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type knownSet map[string]bool

func (k knownSet) Has(key string) bool { return k[key] }

func newTestMachine() *Machine {
	experts := knownSet{"asistente_virtual": true, "tutela": true, "tributaria": true}
	return NewMachine(experts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const text = "tengo una tutela pendiente"

func TestRuleOneProceedsCurrent(t *testing.T) {
	t.Parallel()
	m := newTestMachine()

	tests := []struct {
		name      string
		suggested string
		reason    Reason
	}{
		{"no suggestion", "", ReasonNoSuggestion},
		{"same expert", "asistente_virtual", ReasonSameExpert},
		{"unknown expert", "nonexistent", ReasonUnknownSuggestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := m.Resolve(text, tt.suggested, "asistente_virtual", State{})
			assert.Equal(t, ProceedCurrent, d.Action)
			assert.Equal(t, "asistente_virtual", d.Target)
			assert.True(t, d.Next.Empty())
			assert.Equal(t, tt.reason, d.Reason)
			assert.False(t, d.Replay)
		})
	}
}

func TestRuleFourAsks(t *testing.T) {
	t.Parallel()
	m := newTestMachine()

	d := m.Resolve(text, "tutela", "asistente_virtual", State{})
	require.Equal(t, AwaitChoice, d.Action)
	assert.Equal(t, State{Pending: true, MessageText: text, SuggestedExpert: "tutela"}, d.Next)
	assert.Equal(t, "tutela", d.Target)
	assert.Equal(t, ReasonNewSuggestion, d.Reason)
}

func TestAwaitingIsIdempotent(t *testing.T) {
	t.Parallel()
	m := newTestMachine()

	first := m.Resolve(text, "tutela", "asistente_virtual", State{})
	state := first.Next
	for range 5 {
		d := m.Resolve(text, "tutela", "asistente_virtual", state)
		assert.Equal(t, AwaitChoice, d.Action)
		assert.Equal(t, ReasonAwaiting, d.Reason)
		assert.Equal(t, state, d.Next)
		state = d.Next
	}
}

func TestRuleThreeHonoursChoice(t *testing.T) {
	t.Parallel()
	m := newTestMachine()
	pending := State{Pending: true, MessageText: text, SuggestedExpert: "tutela"}

	d := m.Resolve(text, "tutela", "asistente_virtual", pending.WithChoice(ChoiceUseSuggested))
	assert.Equal(t, ProceedSuggested, d.Action)
	assert.Equal(t, "tutela", d.Target)
	assert.True(t, d.Next.Processed)
	assert.False(t, d.Next.Pending)
	assert.Equal(t, text, d.Next.MessageText)
	assert.False(t, d.Replay)

	d = m.Resolve(text, "tutela", "asistente_virtual", pending.WithChoice(ChoiceKeepCurrent))
	assert.Equal(t, ProceedCurrent, d.Action)
	assert.Equal(t, "asistente_virtual", d.Target)
	assert.True(t, d.Next.Processed)
	assert.Equal(t, ReasonDeclined, d.Reason)
}

func TestRuleTwoNoDoubleCommit(t *testing.T) {
	t.Parallel()
	m := newTestMachine()
	pending := State{Pending: true, MessageText: text, SuggestedExpert: "tutela", Choice: ChoiceUseSuggested}

	d := m.Resolve(text, "tutela", "asistente_virtual", pending)
	require.Equal(t, ProceedSuggested, d.Action)

	// The same text once tutela is current: Rule 1 applies first, so the
	// message is a fresh turn rather than a replay.
	again := m.Resolve(text, "tutela", "tutela", d.Next)
	assert.Equal(t, ProceedCurrent, again.Action)
	assert.Equal(t, ReasonSameExpert, again.Reason)
	assert.False(t, again.Replay)
	assert.True(t, again.Next.Empty())

	// Keep-current path: suggestion still differs from current.
	kept := m.Resolve(text, "tutela", "asistente_virtual", pending.WithChoice(ChoiceKeepCurrent))
	again = m.Resolve(text, "tutela", "asistente_virtual", kept.Next)
	assert.Equal(t, ProceedCurrent, again.Action)
	assert.Equal(t, ReasonAlreadyProcessed, again.Reason)
	assert.True(t, again.Replay)
	assert.True(t, again.Next.Empty())
}

func TestStalePendingDiscarded(t *testing.T) {
	t.Parallel()
	m := newTestMachine()
	stale := State{Pending: true, MessageText: "otra pregunta sobre impuesto", SuggestedExpert: "tributaria"}

	d := m.Resolve(text, "tutela", "asistente_virtual", stale)
	assert.Equal(t, AwaitChoice, d.Action)
	assert.Equal(t, ReasonStaleDiscarded, d.Reason)
	assert.Equal(t, text, d.Next.MessageText)
	assert.Equal(t, "tutela", d.Next.SuggestedExpert)
	assert.Equal(t, ChoiceUnset, d.Next.Choice)
}

func TestProcessedForOtherTextIsIgnored(t *testing.T) {
	t.Parallel()
	m := newTestMachine()
	done := State{MessageText: "mensaje anterior", Processed: true, Choice: ChoiceKeepCurrent}

	d := m.Resolve(text, "tutela", "asistente_virtual", done)
	assert.Equal(t, AwaitChoice, d.Action)
	assert.False(t, d.Replay)
}

func TestParseChoice(t *testing.T) {
	t.Parallel()
	c, err := ParseChoice("use_suggested")
	require.NoError(t, err)
	assert.Equal(t, ChoiceUseSuggested, c)

	c, err = ParseChoice("keep_current")
	require.NoError(t, err)
	assert.Equal(t, ChoiceKeepCurrent, c)

	_, err = ParseChoice("")
	assert.Error(t, err)
	_, err = ParseChoice("maybe")
	assert.Error(t, err)
}

func TestActionText(t *testing.T) {
	t.Parallel()
	b, err := AwaitChoice.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "await_choice", string(b))
}

func TestActionTextRoundTrip(t *testing.T) {
	t.Parallel()
	var a Action
	require.NoError(t, a.UnmarshalText([]byte("proceed_suggested")))
	assert.Equal(t, ProceedSuggested, a)
	assert.Error(t, a.UnmarshalText([]byte("action(9)")))
}
