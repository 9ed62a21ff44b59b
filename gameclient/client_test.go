package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *HTTPGameClient {
	client := NewHTTPGameClient(baseURL)
	client.retry.InitialBackoff = time.Millisecond
	client.retry.MaxBackoff = 2 * time.Millisecond
	return client
}

func createGame(t *testing.T, client *HTTPGameClient) (string, error) {
	t.Helper()
	return client.CreateGame(context.Background(), uuid.New(), uuid.New(), uuid.New(), uuid.New())
}

func TestCreateGameSuccess(t *testing.T) {
	var gotBody createGameRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/games", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(createGameResponse{GameID: "game-42"})
	}))
	defer server.Close()

	gameID, err := createGame(t, testClient(server.URL))
	require.NoError(t, err)
	assert.Equal(t, "game-42", gameID)
	assert.NotEmpty(t, gotBody.TournamentID)
	assert.NotEmpty(t, gotBody.MatchID)
	assert.NotEqual(t, gotBody.Player1ID, gotBody.Player2ID)
}

func TestCreateGameConflictIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	_, err := createGame(t, testClient(server.URL))
	assert.ErrorIs(t, err, ErrGameConflict)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCreateGameBadRequestIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := createGame(t, testClient(server.URL))
	assert.ErrorIs(t, err, ErrGameBadRequest)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCreateGameForbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := createGame(t, testClient(server.URL))
	assert.ErrorIs(t, err, ErrGameForbidden)
}

func TestCreateGameRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(createGameResponse{GameID: "game-7"})
	}))
	defer server.Close()

	gameID, err := createGame(t, testClient(server.URL))
	require.NoError(t, err)
	assert.Equal(t, "game-7", gameID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCreateGameExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := createGame(t, testClient(server.URL))
	assert.ErrorIs(t, err, ErrGameUnavailable)
	assert.Equal(t, int32(DefaultRetryPolicy().MaxAttempts), hits.Load())
}

func TestCreateGameEmptyGameIDFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createGameResponse{})
	}))
	defer server.Close()

	_, err := createGame(t, testClient(server.URL))
	assert.Error(t, err)
}

func TestCreateGameUnreachableHost(t *testing.T) {
	_, err := createGame(t, testClient("http://127.0.0.1:1"))
	assert.ErrorIs(t, err, ErrGameUnavailable)
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	sentinel := errors.New("fatal")
	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Retryable:      func(err error) bool { return !errors.Is(err, sentinel) },
	}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    10,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
		Retryable:      func(error) bool { return true },
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}
