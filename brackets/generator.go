package brackets

import (
	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
)

type GenerateParams struct {
	TournamentID    uuid.UUID
	Participants    []*models.Participant
	MinParticipants int
	MaxParticipants int
}

// Bracket is the output of a generator: the full match list plus the
// serializable snapshot state describing it.
type Bracket struct {
	Size     int
	Rounds   int
	Seeds    []uuid.UUID
	Matches  []*models.Match
	Snapshot *SnapshotState
}

// Generator builds a bracket from an unordered participant list. It must be
// pure: no I/O and no randomness source held as state.
type Generator interface {
	Generate(params GenerateParams) (*Bracket, error)

	Name() string
}
