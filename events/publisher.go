package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Publisher emits tournament lifecycle events as JSON over JetStream.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := p.client.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", slog.String("subject", subject))
	return nil
}
