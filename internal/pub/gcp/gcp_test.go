package gcp

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/producer"
)

const project = "test-project"

func newClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), project, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, srv
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestAdmin(t *testing.T) {
	client, _ := newClient(t)
	admin := NewAdmin(client, project)

	ok, err := admin.TopicExists(ctx(t), "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, admin.CreateTopic(ctx(t), "orders"))
	require.NoError(t, admin.CreateTopic(ctx(t), "orders"))

	ok, err = admin.TopicExists(ctx(t), "projects/test-project/topics/orders")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublisherPublishesDataAndAttributes(t *testing.T) {
	client, srv := newClient(t)
	require.NoError(t, NewAdmin(client, project).CreateTopic(ctx(t), "orders"))

	p, err := NewPublisher(client, project, pub.PublishSettings{CountThreshold: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := p.Publish(ctx(t), &pub.Message{
		Topic:      "orders",
		Data:       []byte("hello"),
		Attributes: map[string]string{pub.AttrKey: "customer-7"},
	})
	id, err := res.Get(ctx(t))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	p.Stop()

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", string(msgs[0].Data))
	assert.Equal(t, "customer-7", msgs[0].Attributes[pub.AttrKey])

	_, err = p.Publish(ctx(t), &pub.Message{Topic: "orders", Data: []byte("late")}).Get(ctx(t))
	require.ErrorIs(t, err, ErrStopped)
}

func TestPublisherMissingTopic(t *testing.T) {
	client, _ := newClient(t)

	p, err := NewPublisher(client, project, pub.DefaultPublishSettings(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer p.Stop()

	_, err = p.Publish(ctx(t), &pub.Message{Topic: "missing", Data: []byte("x")}).Get(ctx(t))
	require.ErrorIs(t, err, pub.ErrTopicNotFound)
}

func TestProducerOverPubSub(t *testing.T) {
	client, srv := newClient(t)

	p, err := producer.New(ctx(t), map[string]any{
		producer.PropProject:          project,
		producer.PropTopics:           "orders",
		producer.PropAutoCreateTopics: true,
		producer.PropValueSerializer:  "integer",
		producer.PropLingerMs:         1,
	}, NewFactory(client, project, zaptest.NewLogger(t)),
		producer.WithTopicAdmin(NewAdmin(client, project)),
		producer.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	res, err := p.Send(ctx(t), pub.NewRecord("orders", 123), nil)
	require.NoError(t, err)

	md, err := res.Get(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, 0, md.SerializedKeySize)
	assert.Equal(t, 4, md.SerializedValueSize)
	assert.NotEmpty(t, md.MessageID)

	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{0, 0, 0, 123}, msgs[0].Data)
	assert.Equal(t, "", msgs[0].Attributes[pub.AttrKey])
}

func TestProjectPropertySelectsProject(t *testing.T) {
	client, srv := newClient(t)

	// Factory and admin default to another project; the property wins.
	p, err := producer.New(ctx(t), map[string]any{
		producer.PropProject:          "billing-project",
		producer.PropTopics:           "invoices",
		producer.PropAutoCreateTopics: true,
		producer.PropLingerMs:         1,
	}, NewFactory(client, project, zaptest.NewLogger(t)),
		producer.WithTopicAdmin(NewAdmin(client, project)),
		producer.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	ok, err := NewAdmin(client, "billing-project").TopicExists(ctx(t), "invoices")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = NewAdmin(client, project).TopicExists(ctx(t), "invoices")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := p.Send(ctx(t), pub.NewRecord("invoices", []byte("inv-1")), nil)
	require.NoError(t, err)
	_, err = res.Get(ctx(t))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("inv-1"), msgs[0].Data)
}
