package brackets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
)

var (
	ErrNoParticipants      = errors.New("cannot generate bracket with zero participants")
	ErrNotEnoughSeeds      = errors.New("not enough participants for the minimum bracket size")
	ErrInvalidBracketSize  = errors.New("bracket sizes must be powers of two")
	ErrUnsupportedCapacity = errors.New("participant count does not match a supported bracket size")
)

type SingleEliminationGenerator struct {
}

func NewSingleEliminationGenerator() Generator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) Name() string {
	return "SingleElimination"
}

// Generate builds a seeded single-elimination bracket. Participants are
// shuffled with a cryptographically secure Fisher-Yates permutation (seeding
// fairness is a trust property, not a test convenience), the bracket size is
// resolved to max if enough participants are available and min otherwise, and
// the first size shuffled participants become the seeds. Round 1 pairs
// consecutive seeds; later rounds are created empty, to be filled one slot at
// a time by winner propagation.
func (g *SingleEliminationGenerator) Generate(params GenerateParams) (*Bracket, error) {
	n := len(params.Participants)
	if n == 0 {
		return nil, ErrNoParticipants
	}
	if !models.IsPowerOfTwo(params.MinParticipants) || !models.IsPowerOfTwo(params.MaxParticipants) {
		return nil, ErrInvalidBracketSize
	}

	size := params.MinParticipants
	if n >= params.MaxParticipants {
		size = params.MaxParticipants
	}
	if n < size {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughSeeds, n, size)
	}
	if n != params.MinParticipants && n != params.MaxParticipants {
		// A count between min and max would need byes; the Start use case
		// rejects these earlier, so reaching here is a caller bug.
		return nil, fmt.Errorf("%w: %d participants (supported: %d or %d)",
			ErrUnsupportedCapacity, n, params.MinParticipants, params.MaxParticipants)
	}

	shuffled := make([]*models.Participant, n)
	copy(shuffled, params.Participants)
	if err := secureShuffle(shuffled); err != nil {
		return nil, fmt.Errorf("failed to shuffle participants: %w", err)
	}

	seeds := make([]uuid.UUID, size)
	for i := 0; i < size; i++ {
		seeds[i] = shuffled[i].UserID
	}

	rounds := 0
	for s := size; s > 1; s >>= 1 {
		rounds++
	}

	matches := make([]*models.Match, 0, size-1)

	// Round 1: consecutive seed pairs, players pre-populated.
	for i := 0; i < size/2; i++ {
		p1 := seeds[2*i]
		p2 := seeds[2*i+1]
		matches = append(matches, &models.Match{
			ID:            uuid.New(),
			TournamentID:  params.TournamentID,
			Round:         1,
			MatchPosition: i + 1,
			Player1ID:     &p1,
			Player2ID:     &p2,
			Status:        models.MatchPending,
		})
	}

	// Rounds 2..log2(size): empty matches waiting on propagation.
	for r := 2; r <= rounds; r++ {
		count := size >> uint(r)
		for pos := 1; pos <= count; pos++ {
			matches = append(matches, &models.Match{
				ID:            uuid.New(),
				TournamentID:  params.TournamentID,
				Round:         r,
				MatchPosition: pos,
				Status:        models.MatchPending,
			})
		}
	}

	bracket := &Bracket{
		Size:    size,
		Rounds:  rounds,
		Seeds:   seeds,
		Matches: matches,
	}
	bracket.Snapshot = BuildSnapshotState(params.TournamentID, size, rounds, seeds, matches)
	return bracket, nil
}

// secureShuffle performs an in-place Fisher-Yates shuffle using crypto/rand,
// producing a uniform permutation.
func secureShuffle(participants []*models.Participant) error {
	for i := len(participants) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		k := int(j.Int64())
		participants[i], participants[k] = participants[k], participants[i]
	}
	return nil
}
