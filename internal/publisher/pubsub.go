// Package publisher sends request summaries to Google Cloud Pub/Sub.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/mcncl/log-request-id/internal/errors"
)

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error)
	Close() error
}

// PubSubPublisher implements the Publisher interface for Google Cloud Pub/Sub
type PubSubPublisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	topicID string
	owned   bool
}

// NewPubSubPublisher creates a client for projectID and a publisher for
// topicID. The topic must already exist.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.NewPublishError("failed to create pubsub client", err)
	}

	p, err := NewPubSubPublisherFromClient(ctx, client, topicID)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPubSubPublisherFromClient publishes through an existing client, which
// stays owned by the caller
func NewPubSubPublisherFromClient(ctx context.Context, client *pubsub.Client, topicID string) (*PubSubPublisher, error) {
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		topic.Stop()
		return nil, errors.NewPublishError("failed to check topic existence", err)
	}
	if !exists {
		topic.Stop()
		return nil, errors.NewConfigurationError(fmt.Sprintf("topic %s does not exist", topicID))
	}

	return &PubSubPublisher{
		client:  client,
		topic:   topic,
		topicID: topicID,
	}, nil
}

// TopicID returns the topic messages are sent to
func (p *PubSubPublisher) TopicID() string {
	return p.topicID
}

// Publish publishes data as JSON and waits for the server to acknowledge it
func (p *PubSubPublisher) Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", errors.NewValidationError(fmt.Sprintf("failed to marshal data: %v", err))
	}

	msg := &pubsub.Message{
		Data:       jsonData,
		Attributes: attributes,
	}

	result := p.topic.Publish(ctx, msg)
	msgID, err := result.Get(ctx)
	if err != nil {
		return "", errors.NewPublishError("failed to publish message", err)
	}

	return msgID, nil
}

// Close flushes pending messages and closes the client if this publisher created it
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
