package brackets

import (
	"sort"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
)

// SnapshotState is the serialized form stored in a BracketSnapshot row. It
// carries everything a client or auditor needs for a consistent bracket view:
// the resolved size, round count, the seed order and every match's address,
// players, status and winner.
type SnapshotState struct {
	TournamentID uuid.UUID       `json:"tournament_id"`
	Size         int             `json:"size"`
	Rounds       int             `json:"rounds"`
	Seeds        []uuid.UUID     `json:"seeds,omitempty"`
	Matches      []SnapshotMatch `json:"matches"`
}

type SnapshotMatch struct {
	MatchID       uuid.UUID          `json:"match_id"`
	Round         int                `json:"round"`
	MatchPosition int                `json:"match_position"`
	Player1ID     *uuid.UUID         `json:"player1_id,omitempty"`
	Player2ID     *uuid.UUID         `json:"player2_id,omitempty"`
	Status        models.MatchStatus `json:"status"`
	GameID        *string            `json:"game_id,omitempty"`
	WinnerID      *uuid.UUID         `json:"winner_id,omitempty"`
}

// BuildSnapshotState serializes the current match set in bracket order
// (round ascending, position ascending within a round).
func BuildSnapshotState(tournamentID uuid.UUID, size, rounds int, seeds []uuid.UUID, matches []*models.Match) *SnapshotState {
	ordered := make([]*models.Match, len(matches))
	copy(ordered, matches)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Round != ordered[j].Round {
			return ordered[i].Round < ordered[j].Round
		}
		return ordered[i].MatchPosition < ordered[j].MatchPosition
	})

	state := &SnapshotState{
		TournamentID: tournamentID,
		Size:         size,
		Rounds:       rounds,
		Seeds:        seeds,
		Matches:      make([]SnapshotMatch, 0, len(ordered)),
	}
	for _, m := range ordered {
		state.Matches = append(state.Matches, SnapshotMatch{
			MatchID:       m.ID,
			Round:         m.Round,
			MatchPosition: m.MatchPosition,
			Player1ID:     m.Player1ID,
			Player2ID:     m.Player2ID,
			Status:        m.Status,
			GameID:        m.GameID,
			WinnerID:      m.WinnerID,
		})
	}
	return state
}

// SnapshotFromMatches rebuilds a snapshot state from persisted matches when
// the original size and round count are not at hand. Round 1 holds size/2
// matches, so size and the round count are recovered from the match layout.
func SnapshotFromMatches(tournamentID uuid.UUID, matches []*models.Match) *SnapshotState {
	size := 0
	rounds := 0
	for _, m := range matches {
		if m.Round == 1 {
			size += 2
		}
		if m.Round > rounds {
			rounds = m.Round
		}
	}
	return BuildSnapshotState(tournamentID, size, rounds, nil, matches)
}
