package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StampsIdentity(t *testing.T) {
	ev := New(TypeDraftCreated, map[string]string{"draft_id": "abc"})

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, TypeDraftCreated, ev.Type)
	assert.WithinDuration(t, time.Now().UTC(), ev.OccurredAt, time.Minute)
	assert.Equal(t, "abc", ev.Payload["draft_id"])
}

func TestMemory_RecordsInOrder(t *testing.T) {
	ctx := context.Background()
	pub := NewMemory()

	require.NoError(t, pub.Publish(ctx, New(TypeDraftCreated, map[string]string{"draft_id": "1"})))
	require.NoError(t, pub.Publish(ctx, New(TypeDraftCompleted, map[string]string{"draft_id": "1"})))

	got := pub.Events()
	require.Len(t, got, 2)
	assert.Equal(t, TypeDraftCreated, got[0].Type)
	assert.Equal(t, TypeDraftCompleted, got[1].Type)
	require.NoError(t, pub.Close())
}

func TestMemory_SnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	pub := NewMemory()
	payload := map[string]string{"draft_id": "1"}
	require.NoError(t, pub.Publish(ctx, New(TypeDraftSigned, payload)))

	// Neither the caller's map nor a returned snapshot may alias
	// published state.
	payload["draft_id"] = "mutated"
	first := pub.Events()
	first[0].Payload["draft_id"] = "also-mutated"

	got := pub.Events()
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Payload["draft_id"])
}

func TestStreamValues(t *testing.T) {
	ev := New(TypeValidationRequestPrepared, map[string]string{
		"chain_id": "11155111",
		"agent_id": "42",
	})

	values := streamValues(ev)
	assert.Equal(t, ev.ID.String(), values["id"])
	assert.Equal(t, "validation.request.prepared", values["type"])

	_, err := time.Parse(time.RFC3339Nano, values["occurred_at"].(string))
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &payload))
	assert.Equal(t, "42", payload["agent_id"])
}

func TestStreamValues_EmptyPayloadOmitted(t *testing.T) {
	values := streamValues(New(TypeDraftCreated, nil))
	_, ok := values["payload"]
	assert.False(t, ok)
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	_, err := NewRedisPublisher("not-a-redis-url", "", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
