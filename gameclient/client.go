package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var (
	ErrGameConflict    = errors.New("game already exists for match")
	ErrGameBadRequest  = errors.New("game service rejected request")
	ErrGameForbidden   = errors.New("game service denied access")
	ErrGameUnavailable = errors.New("game service unavailable")
)

// GameOrchestrator starts games on the external game service. CreateGame
// returns the identifier of the created game.
type GameOrchestrator interface {
	CreateGame(ctx context.Context, tournamentID, matchID, playerID, opponentID uuid.UUID) (string, error)
}

type HTTPGameClient struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
}

func NewHTTPGameClient(baseURL string) *HTTPGameClient {
	retry := DefaultRetryPolicy()
	retry.Retryable = func(err error) bool {
		return errors.Is(err, ErrGameUnavailable)
	}
	return &HTTPGameClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      retry,
	}
}

type createGameRequest struct {
	TournamentID string `json:"tournament_id"`
	MatchID      string `json:"match_id"`
	Player1ID    string `json:"player1_id"`
	Player2ID    string `json:"player2_id"`
}

type createGameResponse struct {
	GameID string `json:"game_id"`
}

func (c *HTTPGameClient) CreateGame(ctx context.Context, tournamentID, matchID, playerID, opponentID uuid.UUID) (string, error) {
	payload, err := json.Marshal(createGameRequest{
		TournamentID: tournamentID.String(),
		MatchID:      matchID.String(),
		Player1ID:    playerID.String(),
		Player2ID:    opponentID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal create game request: %w", err)
	}

	var gameID string
	err = c.retry.Do(ctx, func() error {
		id, reqErr := c.createGameOnce(ctx, payload)
		if reqErr != nil {
			return reqErr
		}
		gameID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return gameID, nil
}

func (c *HTTPGameClient) createGameOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/games", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build create game request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGameUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out createGameResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode create game response: %w", err)
		}
		if out.GameID == "" {
			return "", fmt.Errorf("game service returned empty game id")
		}
		return out.GameID, nil
	case resp.StatusCode == http.StatusConflict:
		return "", ErrGameConflict
	case resp.StatusCode == http.StatusBadRequest:
		return "", ErrGameBadRequest
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrGameForbidden
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrGameUnavailable, resp.StatusCode, string(body))
	}
}
