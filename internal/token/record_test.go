package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Classification(t *testing.T) {
	tests := []struct {
		state    State
		live     bool
		terminal bool
	}{
		{StatePending, true, false},
		{StateVerifying, true, false},
		{StateRedeemed, false, true},
		{StateAbandoned, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.True(t, tt.state.Valid())
			assert.Equal(t, tt.live, tt.state.Live())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}

	assert.False(t, State("spent").Valid())
}

func TestRecord_Transition(t *testing.T) {
	r := Record{ID: "tok", State: StatePending}

	require.NoError(t, r.Transition(StateVerifying))
	assert.Equal(t, StateVerifying, r.State)

	// Re-entering the current live state is allowed
	require.NoError(t, r.Transition(StateVerifying))

	require.NoError(t, r.Transition(StateRedeemed))
	assert.Equal(t, StateRedeemed, r.State)
}

func TestRecord_TransitionRejectsLeavingTerminal(t *testing.T) {
	for _, terminal := range []State{StateRedeemed, StateAbandoned} {
		r := Record{ID: "tok", State: terminal}
		for _, to := range []State{StatePending, StateVerifying, StateRedeemed, StateAbandoned} {
			err := r.Transition(to)
			assert.Error(t, err, "%s -> %s should fail", terminal, to)
			assert.Equal(t, terminal, r.State)
		}
	}
}

func TestRecord_TransitionRejectsBackToPending(t *testing.T) {
	r := Record{ID: "tok", State: StateVerifying}
	assert.Error(t, r.Transition(StatePending))
	assert.Error(t, r.Transition(State("bogus")))
}

func TestRecord_CloneDoesNotShareHandles(t *testing.T) {
	r := Record{ID: "tok", Handles: []string{"chat:1/msg:2"}}
	c := r.Clone()
	c.Handles[0] = "changed"
	assert.Equal(t, "chat:1/msg:2", r.Handles[0])
}

func TestID_StableAndTrimmed(t *testing.T) {
	a := ID("cashuAabc")
	b := ID("  cashuAabc\n")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, ID("cashuAabd"))
	assert.Equal(t, a, ID("cashu:cashuAabc"), "URI scheme is not part of the id")
	assert.Equal(t, a, ID(" cashu:cashuAabc "))
	assert.Equal(t, a[:12], ShortID(a))
}

func TestNormalizeText_NFC(t *testing.T) {
	decomposed := "Jose\u0301"
	assert.Equal(t, "Jos\u00e9", NormalizeText("  "+decomposed+" "))
}
