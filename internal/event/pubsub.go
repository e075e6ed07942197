package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type PubSubConfig struct {
	ProjectID       string
	Topic           string
	CredentialsJSON string
}

// PubSubPublisher forwards events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSubPublisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub: project id and topic are required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pubsub: topic %q: %w", cfg.Topic, err)
	}
	if !ok {
		if topic, err = client.CreateTopic(ctx, cfg.Topic); err != nil {
			client.Close()
			return nil, fmt.Errorf("pubsub: create topic %q: %w", cfg.Topic, err)
		}
	}
	return &PubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

func (p *PubSubPublisher) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("pubsub: marshal event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	res := p.topic.Publish(context.Background(), &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": string(e.Type)},
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := res.Get(ctx); err != nil {
			p.logger.Warn("pubsub: publish failed", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}()
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
