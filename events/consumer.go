package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// GameFinishedHandler applies a game result to the bracket. Returning nil
// acknowledges the message; duplicates must therefore be handled as no-ops.
type GameFinishedHandler func(ctx context.Context, payload GameFinishedPayload) error

// GameFinishedConsumer reads game.finished events from a durable JetStream
// consumer. Delivery is at-least-once: malformed payloads and errors the
// permanent predicate accepts are terminated, everything else is redelivered.
type GameFinishedConsumer struct {
	client    *Client
	handler   GameFinishedHandler
	permanent func(error) bool
	logger    *slog.Logger
}

func NewGameFinishedConsumer(client *Client, handler GameFinishedHandler, permanent func(error) bool, logger *slog.Logger) *GameFinishedConsumer {
	if permanent == nil {
		permanent = func(error) bool { return false }
	}
	return &GameFinishedConsumer{
		client:    client,
		handler:   handler,
		permanent: permanent,
		logger:    logger,
	}
}

func (c *GameFinishedConsumer) Start(ctx context.Context) (jetstream.ConsumeContext, error) {
	consumer, err := c.client.js.CreateOrUpdateConsumer(ctx, StreamGames, jetstream.ConsumerConfig{
		Name:          ConsumerGameFinished,
		Durable:       ConsumerGameFinished,
		FilterSubject: SubjectGameFinished,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create game.finished consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("consume game.finished: %w", err)
	}
	return cc, nil
}

func (c *GameFinishedConsumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var payload GameFinishedPayload
	if err := json.Unmarshal(msg.Data(), &payload); err != nil {
		c.logger.Error("dropping malformed game.finished event", slog.String("error", err.Error()))
		msg.Term()
		return
	}
	if payload.GameID == "" || payload.WinnerID == uuid.Nil {
		c.logger.Error("dropping incomplete game.finished event",
			slog.String("game_id", payload.GameID))
		msg.Term()
		return
	}

	if err := c.handler(ctx, payload); err != nil {
		if c.permanent(err) {
			c.logger.Error("dropping unprocessable game.finished event",
				slog.String("game_id", payload.GameID),
				slog.String("error", err.Error()))
			msg.Term()
			return
		}
		c.logger.Warn("game.finished handling failed, will retry",
			slog.String("game_id", payload.GameID),
			slog.String("error", err.Error()))
		msg.Nak()
		return
	}

	msg.Ack()
}
