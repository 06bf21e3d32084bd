package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "tender-runs", map[string]string{"run_id": "r1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "tender-runs", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "memory-2", msgs[1].ID)

	msgs[0].Topic = "modified"
	require.Equal(t, "tender-runs", pub.Messages()[0].Topic)
}

func TestPublisherFailure(t *testing.T) {
	t.Parallel()

	pub := &Publisher{Err: errors.New("topic not found")}
	_, err := pub.Publish(context.Background(), "t", nil)
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}
