package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/memory"
)

func seed(t *testing.T, c *memory.Controller, topic string, n int) {
	t.Helper()
	for i := range n {
		off := uint64(i)
		require.NoError(t, c.InsertMessage(context.Background(), pub.Message{
			ID:     pub.MessageKey(topic, 0, off),
			Topic:  topic,
			Offset: off,
			Data:   []byte{byte(i)},
		}))
	}
	require.NoError(t, c.CommitOffset(topic, 0, uint64(n)))
}

type collector struct {
	mu   sync.Mutex
	seen []uint64
	fail map[uint64]int
}

func (c *collector) handle(_ context.Context, msg pub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail[msg.Offset] > 0 {
		c.fail[msg.Offset]--
		return errors.New("handler failed")
	}
	c.seen = append(c.seen, msg.Offset)
	return nil
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(memory.NewController(), nil, zaptest.NewLogger(t), 10)
	require.Error(t, err)

	_, err = NewConsumer(memory.NewController(), (&collector{}).handle, zaptest.NewLogger(t), 0)
	require.Error(t, err)
}

func TestPullHandlesBatchesAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	ctrl := memory.NewController()
	seed(t, ctrl, "orders", 5)

	col := &collector{}
	c, err := NewConsumer(ctrl, col.handle, zaptest.NewLogger(t), 3)
	require.NoError(t, err)

	n, err := c.Pull(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Pull(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Pull(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	cur, err := ctrl.GetCursor(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cur)
	assert.ElementsMatch(t, []uint64{0, 1, 2, 3, 4}, col.seen)
}

func TestFailedMessageIsRedelivered(t *testing.T) {
	ctx := context.Background()
	ctrl := memory.NewController()
	seed(t, ctrl, "orders", 3)

	col := &collector{fail: map[uint64]int{1: 1}}
	c, err := NewConsumer(ctrl, col.handle, zaptest.NewLogger(t), 10)
	require.NoError(t, err)

	n, err := c.Pull(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cur, err := ctrl.GetCursor(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur)

	// offset 2 is handled again along with the released offset 1
	n, err = c.Pull(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cur, err = ctrl.GetCursor(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cur)
}

func TestSubscriptionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	ctrl := memory.NewController()
	seed(t, ctrl, "orders", 2)

	a, b := &collector{}, &collector{}
	ca, err := NewConsumer(ctrl, a.handle, zaptest.NewLogger(t), 10)
	require.NoError(t, err)
	cb, err := NewConsumer(ctrl, b.handle, zaptest.NewLogger(t), 10)
	require.NoError(t, err)

	_, err = ca.Pull(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	_, err = cb.Pull(ctx, "orders", "billing", 0)
	require.NoError(t, err)

	assert.Len(t, a.seen, 2)
	assert.Len(t, b.seen, 2)
}

func TestAck(t *testing.T) {
	ctx := context.Background()
	ctrl := memory.NewController()
	c, err := NewConsumer(ctrl, (&collector{}).handle, zaptest.NewLogger(t), 10)
	require.NoError(t, err)

	msg := pub.Message{ID: pub.MessageKey("orders", 0, 4), Topic: "orders", Offset: 4}
	require.NoError(t, ctrl.InsertLease(ctx, "audit", msg.ID, msg.Offset))
	require.NoError(t, c.Ack(ctx, "audit", msg))

	cur, err := ctrl.GetCursor(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cur)
	require.NoError(t, ctrl.InsertLease(ctx, "audit", msg.ID, msg.Offset))
}
