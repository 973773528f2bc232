package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	p := New()

	id, err := p.Publish(context.Background(), "digitization-complete", map[string]any{"item_id": "item-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	_, err = p.Publish(context.Background(), "digitization-complete", map[string]any{"item_id": "item-2"})
	require.NoError(t, err)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "digitization-complete", msgs[0].Topic)
	require.Equal(t, map[string]any{"item_id": "item-1"}, msgs[0].Payload)
}

func TestMessagesReturnsCopy(t *testing.T) {
	p := New()
	_, err := p.Publish(context.Background(), "t", "payload")
	require.NoError(t, err)

	msgs := p.Messages()
	msgs[0].Topic = "mutated"
	require.Equal(t, "t", p.Messages()[0].Topic)
}
