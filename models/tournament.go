package models

import (
	"time"

	"github.com/google/uuid"
)

// TournamentStatus represents tournament lifecycle states, matching the ENUM in the DB.
type TournamentStatus string

const (
	StatusRecruiting TournamentStatus = "recruiting"
	StatusInProgress TournamentStatus = "in_progress"
	StatusFinished   TournamentStatus = "finished"
)

// BracketType is the bracket format of a tournament. Only single elimination
// is supported.
type BracketType string

const (
	BracketSingleElimination BracketType = "single_elimination"
)

// StartReason records which trigger path started a tournament.
type StartReason string

const (
	StartReasonManual   StartReason = "manual"
	StartReasonAutoFull StartReason = "auto_full"
	StartReasonTimeout  StartReason = "timeout"
)

// Tournament is the aggregate root. Participants, matches and snapshots are
// owned by and only reachable through their tournament.
type Tournament struct {
	ID                  uuid.UUID        `json:"id" db:"id"`
	Name                string           `json:"name" db:"name"`
	CreatorID           uuid.UUID        `json:"creator_id" db:"creator_id"`
	Status              TournamentStatus `json:"status" db:"status"`
	BracketType         BracketType      `json:"bracket_type" db:"bracket_type"`
	MinParticipants     int              `json:"min_participants" db:"min_participants"`
	MaxParticipants     int              `json:"max_participants" db:"max_participants"`
	CurrentParticipants int              `json:"current_participants" db:"current_participants"`
	IsPublic            bool             `json:"is_public" db:"is_public"`
	PasscodeHash        *string          `json:"-" db:"passcode_hash"`
	ReadyToStart        bool             `json:"ready_to_start" db:"ready_to_start"`
	ReadyAt             *time.Time       `json:"ready_at,omitempty" db:"ready_at"`
	StartTimeoutAt      *time.Time       `json:"start_timeout_at,omitempty" db:"start_timeout_at"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	StartedAt           *time.Time       `json:"started_at,omitempty" db:"started_at"`
	FinishedAt          *time.Time       `json:"finished_at,omitempty" db:"finished_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`

	// Optional related entities, not mapped directly.
	Participants []*Participant `json:"participants,omitempty" db:"-"`
	Matches      []*Match       `json:"matches,omitempty" db:"-"`
}

// IsPowerOfTwo reports whether n is a positive power of two. Bracket sizes
// must satisfy this: a single-elimination tree only closes for 2^k seeds.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// StartableWith reports whether the tournament may start with the given
// participant count. Only the two configured sizes are startable; counts
// between them would require byes, which are not supported.
func (t *Tournament) StartableWith(count int) bool {
	return count == t.MinParticipants || count == t.MaxParticipants
}
