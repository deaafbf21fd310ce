package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubcompat/internal/pub"
)

func TestOffsetsOnlyMoveForward(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	_, err := c.GetOffset(ctx, "orders", 0)
	require.ErrorIs(t, err, gocb.ErrDocumentNotFound)

	require.NoError(t, c.CommitOffset("orders", 0, 5))
	require.NoError(t, c.CommitOffset("orders", 0, 3))

	n, err := c.GetOffset(ctx, "orders", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestLeasesAreExclusive(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	require.NoError(t, c.InsertLease(ctx, "audit", "m1", 0))
	require.ErrorIs(t, c.InsertLease(ctx, "audit", "m1", 0), gocb.ErrDocumentExists)
	require.NoError(t, c.InsertLease(ctx, "billing", "m1", 0))

	require.NoError(t, c.DeleteLease(ctx, "audit", "m1"))
	require.NoError(t, c.DeleteLease(ctx, "audit", "m1"))
	require.NoError(t, c.InsertLease(ctx, "audit", "m1", 0))
}

func TestLoadMessagesInOffsetOrder(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	for _, off := range []uint64{2, 0, 1, 3} {
		require.NoError(t, c.InsertMessage(ctx, pub.Message{ID: pub.MessageKey("orders", 0, off), Topic: "orders", Offset: off}))
	}
	require.ErrorIs(t, c.InsertMessage(ctx, pub.Message{ID: pub.MessageKey("orders", 0, 0)}), gocb.ErrDocumentExists)

	msgs, err := c.LoadMessages(ctx, "orders", 0, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(1), msgs[0].Offset)
	assert.Equal(t, uint64(2), msgs[1].Offset)
}

func TestFailInjectsErrorsInOrder(t *testing.T) {
	c := NewController()
	boom := errors.New("boom")
	c.Fail(OpCommitOffset, boom)

	require.ErrorIs(t, c.CommitOffset("orders", 0, 1), boom)
	require.NoError(t, c.CommitOffset("orders", 0, 1))
}

func TestTopics(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	ok, err := c.TopicExists(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CreateTopic(ctx, "orders"))
	require.NoError(t, c.CreateTopic(ctx, "orders"))

	ok, err = c.TopicExists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)
}
