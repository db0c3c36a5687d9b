package outbox

import (
	"testing"

	"gateway-service/internal/db"
	"gateway-service/internal/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKafkaMessagesKeysByIntent(t *testing.T) {
	intentID := uuid.New()
	events := []*db.OutboxEventEntity{
		{ID: uuid.New(), IntentID: intentID, EventType: event.TypeAuthorized, Payload: `{"a":1}`},
		{ID: uuid.New(), IntentID: intentID, EventType: event.TypeCaptured, Payload: `{"b":2}`},
	}

	msgs := toKafkaMessages(events)

	require.Len(t, msgs, 2)
	// same key so the partitioner keeps per-intent ordering
	assert.Equal(t, msgs[0].Key, msgs[1].Key)
	assert.Equal(t, intentID.String(), string(msgs[0].Key))
	assert.Equal(t, `{"a":1}`, string(msgs[0].Value))

	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "event-type", msgs[0].Headers[0].Key)
	assert.Equal(t, event.TypeAuthorized, string(msgs[0].Headers[0].Value))
	assert.Equal(t, event.TypeCaptured, string(msgs[1].Headers[0].Value))
}

func TestToKafkaMessagesEmpty(t *testing.T) {
	assert.Empty(t, toKafkaMessages(nil))
}
