package models

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantStatus string

const (
	ParticipantJoined     ParticipantStatus = "joined"
	ParticipantEliminated ParticipantStatus = "eliminated"
	ParticipantWinner     ParticipantStatus = "winner"
)

// Participant is one user's registration in a tournament. At most one
// participant exists per (tournament, user) pair.
type Participant struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	TournamentID uuid.UUID         `json:"tournament_id" db:"tournament_id"`
	UserID       uuid.UUID         `json:"user_id" db:"user_id"`
	DisplayName  *string           `json:"display_name,omitempty" db:"display_name"`
	Status       ParticipantStatus `json:"status" db:"status"`
	JoinedAt     time.Time         `json:"joined_at" db:"joined_at"`
}
