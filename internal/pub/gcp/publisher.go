// Package gcp is the Google Cloud Pub/Sub publish transport and topic admin.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pubcompat/internal/pub"
	"pubcompat/internal/validator"
)

// ErrStopped is returned for a publish issued after Stop.
var ErrStopped = errors.New("pubsub publisher stopped")

// Publisher is a pub.Publisher over one *pubsub.Publisher per topic, created
// on first use with the configured batching settings.
type Publisher struct {
	client   *pubsub.Client
	project  string
	settings pubsub.PublishSettings
	logger   *zap.Logger

	mu         sync.Mutex
	stopped    bool
	publishers map[string]*pubsub.Publisher
	waiting    sync.WaitGroup
}

// NewPublisher creates a publisher on client. Topics given by ID resolve
// against project.
func NewPublisher(client *pubsub.Client, project string, settings pub.PublishSettings, logger *zap.Logger) (*Publisher, error) {
	p := Publisher{
		client:     client,
		project:    project,
		settings:   publishSettings(settings),
		logger:     logger,
		publishers: make(map[string]*pubsub.Publisher),
	}

	if err := validator.Validate("gcp publisher", p.client, p.project, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate gcp publisher deps: %w", err)
	}
	p.logger = p.logger.Named("gcp-publisher").With(zap.String("project", project))

	return &p, nil
}

// NewFactory returns a pub.PublisherFactory building publishers on client.
// settings.Project, when set, replaces project.
func NewFactory(client *pubsub.Client, project string, logger *zap.Logger) pub.PublisherFactory {
	return func(_ context.Context, settings pub.PublishSettings) (pub.Publisher, error) {
		scoped := project
		if settings.Project != "" {
			scoped = settings.Project
		}
		return NewPublisher(client, scoped, settings, logger)
	}
}

// publishSettings maps the producer batching settings onto the client
// defaults. Retries are left to the client's own retry policy.
func publishSettings(s pub.PublishSettings) pubsub.PublishSettings {
	out := pubsub.DefaultPublishSettings
	if s.CountThreshold > 0 {
		out.CountThreshold = s.CountThreshold
	}
	if s.ByteThreshold > 0 {
		out.ByteThreshold = s.ByteThreshold
	}
	if s.DelayThreshold > 0 {
		out.DelayThreshold = s.DelayThreshold
	}
	if s.Timeout > 0 {
		out.Timeout = s.Timeout
	}
	return out
}

func topicName(project, topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", project, topic)
}

// Publish hands msg to the topic publisher. The key, partition, timestamp and
// header attributes travel as Pub/Sub message attributes.
func (p *Publisher) Publish(ctx context.Context, msg *pub.Message) *pub.PublishResult {
	if msg == nil || msg.Topic == "" {
		return pub.FailedPublish(fmt.Errorf("%w: message without topic", pub.ErrInvalidArgument))
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return pub.FailedPublish(ErrStopped)
	}
	t, ok := p.publishers[msg.Topic]
	if !ok {
		t = p.client.Publisher(topicName(p.project, msg.Topic))
		t.PublishSettings = p.settings
		p.publishers[msg.Topic] = t
	}
	p.waiting.Add(1)
	p.mu.Unlock()

	res := t.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})

	result, resolve := pub.NewPublishResult()
	go func() {
		defer p.waiting.Done()

		id, err := res.Get(context.Background())
		if err != nil {
			err = publishError(msg.Topic, err)
		}
		resolve(id, err)
	}()

	return result
}

func publishError(topic string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s: %w", pub.ErrTopicNotFound, topic, err)
	}
	return err
}

// Stop flushes and stops every topic publisher and waits for their results.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.waiting.Wait()
		return
	}
	p.stopped = true
	publishers := p.publishers
	p.mu.Unlock()

	for topic, t := range publishers {
		t.Stop()
		p.logger.Debug("stopped topic publisher", zap.String("topic", topic))
	}
	p.waiting.Wait()
}

var _ pub.Publisher = (*Publisher)(nil)
