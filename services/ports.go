package services

import "context"

// EventPublisher abstracts the message bus so services can be tested
// without a broker.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// BracketNotifier pushes live updates to connected spectators.
type BracketNotifier interface {
	NotifyRoom(roomID string, messageType string, payload interface{})
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	return nil
}

type NopNotifier struct{}

func (NopNotifier) NotifyRoom(roomID string, messageType string, payload interface{}) {}
