package models

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchFinished   MatchStatus = "finished"
)

// Match is a single bracket node. It is addressed by (tournament, round,
// position) rather than by pointers to neighbours, which keeps the bracket
// acyclic and trivially serializable.
type Match struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	TournamentID  uuid.UUID   `json:"tournament_id" db:"tournament_id"`
	Round         int         `json:"round" db:"round"`
	MatchPosition int         `json:"match_position" db:"match_position"`
	Player1ID     *uuid.UUID  `json:"player1_id,omitempty" db:"player1_id"`
	Player2ID     *uuid.UUID  `json:"player2_id,omitempty" db:"player2_id"`
	Status        MatchStatus `json:"status" db:"status"`
	GameID        *string     `json:"game_id,omitempty" db:"game_id"`
	WinnerID      *uuid.UUID  `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}

// HasPlayer reports whether userID occupies one of the two player slots.
func (m *Match) HasPlayer(userID uuid.UUID) bool {
	if m.Player1ID != nil && *m.Player1ID == userID {
		return true
	}
	if m.Player2ID != nil && *m.Player2ID == userID {
		return true
	}
	return false
}

// PlayersReady reports whether both slots have been populated, either at
// generation time (round 1) or by propagation.
func (m *Match) PlayersReady() bool {
	return m.Player1ID != nil && m.Player2ID != nil
}

// SuccessorPosition returns the (round, position) address of the match the
// winner advances to. Odd positions feed the successor's first slot, even
// positions the second; the slot is returned as 1 or 2.
func (m *Match) SuccessorPosition() (round, position, slot int) {
	round = m.Round + 1
	position = (m.MatchPosition + 1) / 2
	slot = 2
	if m.MatchPosition%2 == 1 {
		slot = 1
	}
	return round, position, slot
}
