package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	StreamTournaments = "TOURNAMENTS"
	StreamGames       = "GAMES"

	SubjectTournamentCreated  = "tournament.created"
	SubjectPlayerRegistered   = "tournament.player.registered"
	SubjectTournamentStarted  = "tournament.started"
	SubjectTournamentFinished = "tournament.finished"
	SubjectGameFinished       = "game.finished"

	ConsumerGameFinished = "tournament-engine-game-finished"
)

type TournamentCreatedPayload struct {
	TournamentID    uuid.UUID `json:"tournament_id"`
	CreatorID       uuid.UUID `json:"creator_id"`
	Name            string    `json:"name"`
	MinParticipants int       `json:"min_participants"`
	MaxParticipants int       `json:"max_participants"`
	IsPublic        bool      `json:"is_public"`
	CreatedAt       time.Time `json:"created_at"`
}

type PlayerRegisteredPayload struct {
	TournamentID uuid.UUID `json:"tournament_id"`
	UserID       uuid.UUID `json:"user_id"`
	Participants int       `json:"participants"`
	JoinedAt     time.Time `json:"joined_at"`
}

// MatchPairing describes one first-round match announced when a
// tournament starts.
type MatchPairing struct {
	MatchID   uuid.UUID `json:"match_id"`
	Round     int       `json:"round"`
	Position  int       `json:"position"`
	Player1ID uuid.UUID `json:"player1_id"`
	Player2ID uuid.UUID `json:"player2_id"`
}

type TournamentStartedPayload struct {
	TournamentID uuid.UUID      `json:"tournament_id"`
	StartReason  string         `json:"start_reason"`
	BracketSize  int            `json:"bracket_size"`
	Rounds       int            `json:"rounds"`
	Pairings     []MatchPairing `json:"pairings"`
	StartedAt    time.Time      `json:"started_at"`
}

type TournamentFinishedPayload struct {
	TournamentID uuid.UUID   `json:"tournament_id"`
	WinnerID     uuid.UUID   `json:"winner_id"`
	RunnerUpID   *uuid.UUID  `json:"runner_up_id,omitempty"`
	Participants []uuid.UUID `json:"participants"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// GameFinishedPayload is the inbound result event from the game service.
// MatchID is optional; when absent the match is resolved by GameID.
type GameFinishedPayload struct {
	GameID       string     `json:"game_id"`
	TournamentID uuid.UUID  `json:"tournament_id"`
	MatchID      *uuid.UUID `json:"match_id,omitempty"`
	WinnerID     uuid.UUID  `json:"winner_id"`
	LoserID      uuid.UUID  `json:"loser_id"`
	FinishedAt   time.Time  `json:"finished_at"`
}
