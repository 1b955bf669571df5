package team

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferredContextDataAndObservations(t *testing.T) {
	tc := NewTransferredContext(0, 0)

	tc.Set("story_theme", "the lake house")
	v, ok := tc.Get("story_theme")
	require.True(t, ok)
	assert.Equal(t, "the lake house", v)

	_, ok = tc.Get("missing")
	assert.False(t, ok)

	tc.AddObservations("first", "second")
	tc.AddObservations("third")
	assert.Equal(t, []string{"first", "second", "third"}, tc.Observations())

	// The returned slice is a copy.
	obs := tc.Observations()
	obs[0] = "mutated"
	assert.Equal(t, "first", tc.Observations()[0])
}

func TestTransferredContextBudget(t *testing.T) {
	tc := NewTransferredContext(1000, 20)

	tc.Charge(300, 5)
	tc.Charge(200, 2.5)

	tokens, cents := tc.Remaining()
	assert.Equal(t, 500, tokens)
	assert.Equal(t, 12.5, cents)

	// Budgets can go negative; callers decide what to do with that.
	tc.Charge(600, 15)
	tokens, cents = tc.Remaining()
	assert.Equal(t, -100, tokens)
	assert.Equal(t, -2.5, cents)
}

func TestTransferredContextSnapshot(t *testing.T) {
	tc := NewTransferredContext(1000, 20)
	tc.Set("k", "v")
	tc.AddObservations("one")

	snap := tc.snapshot()
	assert.Equal(t, 1, snap["observations"])
	assert.Equal(t, 1000, snap["remaining_tokens"])

	// Mutating the snapshot's data must not leak back.
	data, ok := snap["data"].(map[string]any)
	require.True(t, ok)
	data["k"] = "changed"
	v, _ := tc.Get("k")
	assert.Equal(t, "v", v)
}

func TestMessageLogBoundedHistory(t *testing.T) {
	var log messageLog
	for i := 0; i < maxMessageHistory+25; i++ {
		log.record("a", "b", MessageRequest, fmt.Sprintf("payload %d", i), nil)
	}

	msgs := log.all()
	require.Len(t, msgs, maxMessageHistory)

	// Oldest messages are dropped first.
	assert.Equal(t, "payload 25", msgs[0].Payload)
	assert.Equal(t, fmt.Sprintf("payload %d", maxMessageHistory+24), msgs[len(msgs)-1].Payload)
}

func TestMessageLogByAgent(t *testing.T) {
	var log messageLog
	log.record("orchestrator", "writer", MessageHandoff, "go", nil)
	log.record("writer", "orchestrator", MessageResponse, "done", nil)
	log.record("orchestrator", "critic", MessageRequest, "review", nil)

	writer := log.byAgent("writer")
	require.Len(t, writer, 2)
	assert.Equal(t, MessageHandoff, writer[0].Type)
	assert.Equal(t, MessageResponse, writer[1].Type)

	critic := log.byAgent("critic")
	require.Len(t, critic, 1)
	assert.Equal(t, "review", critic[0].Payload)
}

func TestMessageRecordStampsIDAndTime(t *testing.T) {
	var log messageLog
	m1 := log.record("a", "b", MessageHandoff, "x", nil)
	m2 := log.record("a", "b", MessageHandoff, "y", nil)

	assert.NotEmpty(t, m1.ID)
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.False(t, m1.Timestamp.IsZero())
}
