package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BracketSnapshot is an append-only, versioned serialization of the full
// match tree, written whenever the bracket topology or any match status
// changes. It exists for audit and recovery and is never the live read path.
type BracketSnapshot struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TournamentID uuid.UUID       `json:"tournament_id" db:"tournament_id"`
	Version      int             `json:"version" db:"version"`
	State        json.RawMessage `json:"state" db:"state"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
