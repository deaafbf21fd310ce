package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pubcompat/internal/pub"
)

// Admin implements pub.TopicAdmin with the topic admin client of a Pub/Sub client.
type Admin struct {
	client  *pubsub.Client
	project string
}

func NewAdmin(client *pubsub.Client, project string) *Admin {
	return &Admin{client: client, project: project}
}

func (a *Admin) TopicExists(ctx context.Context, topic string) (bool, error) {
	_, err := a.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicName(a.project, topic)})
	switch {
	case err == nil:
		return true, nil
	case status.Code(err) == codes.NotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to get topic %s: %w", topic, err)
	}
}

func (a *Admin) CreateTopic(ctx context.Context, topic string) error {
	_, err := a.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName(a.project, topic)})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

// InProject returns an admin for the same client scoped to project.
func (a *Admin) InProject(project string) pub.TopicAdmin {
	return &Admin{client: a.client, project: project}
}

var (
	_ pub.TopicAdmin    = (*Admin)(nil)
	_ pub.ProjectScoper = (*Admin)(nil)
)
