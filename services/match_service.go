package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/gameclient"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/storage"
)

type MatchResultInput struct {
	TournamentID uuid.UUID
	MatchID      *uuid.UUID
	GameID       string
	WinnerID     uuid.UUID
	FinishedAt   time.Time
}

type MatchService interface {
	PlayMatch(ctx context.Context, tournamentID, matchID, userID uuid.UUID) (*models.Match, error)
	CompleteMatch(ctx context.Context, input MatchResultInput) error
	ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]*models.Match, error)
	LatestSnapshot(ctx context.Context, tournamentID uuid.UUID) (*models.BracketSnapshot, error)
	ListSnapshots(ctx context.Context, tournamentID uuid.UUID) ([]*models.BracketSnapshot, error)
}

type matchService struct {
	txScope         repositories.TransactionScope
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	matchRepo       repositories.MatchRepository
	snapshotRepo    repositories.SnapshotRepository
	gameClient      gameclient.GameOrchestrator
	publisher       EventPublisher
	notifier        BracketNotifier
	archiver        storage.SnapshotArchiver
	clock           clockwork.Clock
	logger          *slog.Logger
}

func NewMatchService(
	txScope repositories.TransactionScope,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	matchRepo repositories.MatchRepository,
	snapshotRepo repositories.SnapshotRepository,
	gameClient gameclient.GameOrchestrator,
	publisher EventPublisher,
	notifier BracketNotifier,
	archiver storage.SnapshotArchiver,
	clock clockwork.Clock,
	logger *slog.Logger,
) MatchService {
	return &matchService{
		txScope:         txScope,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		matchRepo:       matchRepo,
		snapshotRepo:    snapshotRepo,
		gameClient:      gameClient,
		publisher:       publisher,
		notifier:        notifier,
		archiver:        archiver,
		clock:           clock,
		logger:          logger,
	}
}

// PlayMatch requests a game from the game service for a pending match and
// records the returned game id. Repeated calls for the same match return
// the already claimed game.
func (s *matchService) PlayMatch(ctx context.Context, tournamentID, matchID, userID uuid.UUID) (*models.Match, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("get tournament %s: %w", tournamentID, err)
	}
	if tournament.Status != models.StatusInProgress {
		return nil, ErrTournamentNotInProgress
	}

	match, err := s.getMatch(ctx, tournamentID, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasPlayer(userID) {
		return nil, ErrNotMatchParticipant
	}
	if match.Status == models.MatchFinished {
		return nil, ErrMatchAlreadyCompleted
	}
	if match.GameID != nil {
		return match, nil
	}
	if !match.PlayersReady() {
		return nil, ErrMatchPlayersNotReady
	}

	opponentID := *match.Player1ID
	if opponentID == userID {
		opponentID = *match.Player2ID
	}

	gameID, err := s.gameClient.CreateGame(ctx, tournamentID, match.ID, userID, opponentID)
	if err != nil {
		switch {
		case errors.Is(err, gameclient.ErrGameConflict):
			// Игра уже создана конкурентным вызовом, перечитываем матч.
			return s.recoverClaimedMatch(ctx, tournamentID, matchID)
		case errors.Is(err, gameclient.ErrGameBadRequest):
			return nil, fmt.Errorf("%w: game service rejected match parameters", ErrValidationFailed)
		default:
			return nil, fmt.Errorf("%w: %v", ErrGameServiceUnavailable, err)
		}
	}

	err = s.matchRepo.ClaimGame(ctx, nil, match.ID, gameID, s.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, repositories.ErrMatchAlreadyClaimed) {
			return s.recoverClaimedMatch(ctx, tournamentID, matchID)
		}
		return nil, fmt.Errorf("claim game for match %s: %w", match.ID, err)
	}

	match, err = s.matchRepo.GetByID(ctx, nil, match.ID)
	if err != nil {
		return nil, fmt.Errorf("reload match %s: %w", matchID, err)
	}

	s.notifier.NotifyRoom(tournamentID.String(), brackets.MessageMatchUpdated, match)
	s.logger.Info("game claimed for match",
		slog.String("tournament_id", tournamentID.String()),
		slog.String("match_id", match.ID.String()),
		slog.String("game_id", gameID))
	return match, nil
}

func (s *matchService) getMatch(ctx context.Context, tournamentID, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("get match %s: %w", matchID, err)
	}
	if match.TournamentID != tournamentID {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

func (s *matchService) recoverClaimedMatch(ctx context.Context, tournamentID, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.getMatch(ctx, tournamentID, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status == models.MatchFinished {
		return nil, ErrMatchAlreadyCompleted
	}
	if match.GameID != nil {
		return match, nil
	}
	return nil, ErrMatchAlreadyStarted
}

// CompleteMatch applies a game result: records the winner, eliminates the
// loser, advances the winner to the successor match and appends a bracket
// snapshot. Duplicate results are no-ops so event redelivery stays safe.
func (s *matchService) CompleteMatch(ctx context.Context, input MatchResultInput) error {
	var finished struct {
		payload  *events.TournamentFinishedPayload
		snapshot *models.BracketSnapshot
		match    *models.Match
	}

	err := s.txScope.WithinTransaction(ctx, func(exec repositories.SQLExecutor) error {
		tournament, err := s.tournamentRepo.GetByIDForUpdate(ctx, exec, input.TournamentID)
		if err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return ErrTournamentNotFound
			}
			return fmt.Errorf("lock tournament %s: %w", input.TournamentID, err)
		}

		match, err := s.resolveMatch(ctx, exec, input)
		if err != nil {
			return err
		}

		if match.Status == models.MatchFinished {
			if match.WinnerID != nil && *match.WinnerID != input.WinnerID {
				s.logger.Warn("conflicting result for finished match, keeping first",
					slog.String("match_id", match.ID.String()),
					slog.String("recorded_winner", match.WinnerID.String()),
					slog.String("reported_winner", input.WinnerID.String()))
			}
			return nil
		}
		if tournament.Status != models.StatusInProgress {
			return ErrTournamentNotInProgress
		}
		if !match.HasPlayer(input.WinnerID) {
			return ErrWinnerNotInMatch
		}

		finishedAt := input.FinishedAt
		if finishedAt.IsZero() {
			finishedAt = s.clock.Now().UTC()
		}
		if err := s.matchRepo.RecordResult(ctx, exec, match.ID, input.WinnerID, finishedAt); err != nil {
			if errors.Is(err, repositories.ErrMatchAlreadyFinished) {
				return nil
			}
			return fmt.Errorf("record result for match %s: %w", match.ID, err)
		}

		loserID := *match.Player1ID
		if loserID == input.WinnerID {
			loserID = *match.Player2ID
		}
		if err := s.participantRepo.UpdateStatusByUser(ctx, exec, input.TournamentID, loserID, models.ParticipantEliminated); err != nil {
			return fmt.Errorf("eliminate loser: %w", err)
		}

		maxRound, err := s.matchRepo.MaxRound(ctx, exec, input.TournamentID)
		if err != nil {
			return fmt.Errorf("resolve final round: %w", err)
		}

		if match.Round < maxRound {
			if err := s.advanceWinner(ctx, exec, match, input.WinnerID); err != nil {
				return err
			}
		} else {
			payload, err := s.finishTournament(ctx, exec, tournament, input.WinnerID, loserID, finishedAt)
			if err != nil {
				return err
			}
			finished.payload = payload
		}

		matches, err := s.matchRepo.ListByTournament(ctx, exec, input.TournamentID)
		if err != nil {
			return fmt.Errorf("list matches for snapshot: %w", err)
		}
		state, err := json.Marshal(brackets.SnapshotFromMatches(input.TournamentID, matches))
		if err != nil {
			return fmt.Errorf("encode bracket snapshot: %w", err)
		}
		snapshot, err := s.snapshotRepo.Create(ctx, exec, input.TournamentID, state)
		if err != nil {
			return fmt.Errorf("persist bracket snapshot: %w", err)
		}

		finished.snapshot = snapshot
		match.Status = models.MatchFinished
		match.WinnerID = &input.WinnerID
		match.FinishedAt = &finishedAt
		finished.match = match
		return nil
	})
	if err != nil {
		return err
	}
	if finished.match == nil {
		// Duplicate delivery, nothing changed.
		return nil
	}

	room := input.TournamentID.String()
	s.notifier.NotifyRoom(room, brackets.MessageMatchUpdated, finished.match)
	s.notifier.NotifyRoom(room, brackets.MessageBracketUpdated, json.RawMessage(finished.snapshot.State))
	s.archiveSnapshot(ctx, finished.snapshot)

	if finished.payload != nil {
		s.publishEvent(ctx, events.SubjectTournamentFinished, *finished.payload)
		s.notifier.NotifyRoom(room, brackets.MessageTournamentFinished, *finished.payload)
		s.logger.Info("tournament finished",
			slog.String("tournament_id", room),
			slog.String("winner_id", finished.payload.WinnerID.String()))
	}
	return nil
}

func (s *matchService) resolveMatch(ctx context.Context, exec repositories.SQLExecutor, input MatchResultInput) (*models.Match, error) {
	var match *models.Match
	var err error
	if input.MatchID != nil {
		match, err = s.matchRepo.GetByID(ctx, exec, *input.MatchID)
	} else {
		match, err = s.matchRepo.GetByGameID(ctx, exec, input.GameID)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("resolve match: %w", err)
	}
	if match.TournamentID != input.TournamentID {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

func (s *matchService) advanceWinner(ctx context.Context, exec repositories.SQLExecutor, match *models.Match, winnerID uuid.UUID) error {
	round, position, slot := match.SuccessorPosition()
	successor, err := s.matchRepo.GetByRoundPosition(ctx, exec, match.TournamentID, round, position)
	if err != nil {
		return fmt.Errorf("find successor match r%dp%d: %w", round, position, err)
	}

	err = s.matchRepo.FillPlayerSlot(ctx, exec, successor.ID, slot, winnerID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchSlotTaken) {
			occupied, readErr := s.matchRepo.GetByID(ctx, exec, successor.ID)
			if readErr == nil && occupied.HasPlayer(winnerID) {
				return nil
			}
			return fmt.Errorf("successor slot %d of match %s already taken: %w", slot, successor.ID, err)
		}
		return fmt.Errorf("advance winner to match %s: %w", successor.ID, err)
	}
	return nil
}

func (s *matchService) finishTournament(ctx context.Context, exec repositories.SQLExecutor, tournament *models.Tournament, winnerID, runnerUpID uuid.UUID, finishedAt time.Time) (*events.TournamentFinishedPayload, error) {
	if err := s.tournamentRepo.MarkFinished(ctx, exec, tournament.ID, finishedAt); err != nil {
		if errors.Is(err, repositories.ErrTournamentStateStale) {
			return nil, ErrTournamentNotInProgress
		}
		return nil, fmt.Errorf("mark tournament finished: %w", err)
	}
	if err := s.participantRepo.UpdateStatusByUser(ctx, exec, tournament.ID, winnerID, models.ParticipantWinner); err != nil {
		return nil, fmt.Errorf("mark winner: %w", err)
	}

	participants, err := s.participantRepo.ListByTournament(ctx, exec, tournament.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	userIDs := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}

	runnerUp := runnerUpID
	return &events.TournamentFinishedPayload{
		TournamentID: tournament.ID,
		WinnerID:     winnerID,
		RunnerUpID:   &runnerUp,
		Participants: userIDs,
		FinishedAt:   finishedAt,
	}, nil
}

func (s *matchService) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]*models.Match, error) {
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("list matches for %s: %w", tournamentID, err)
	}
	return matches, nil
}

func (s *matchService) LatestSnapshot(ctx context.Context, tournamentID uuid.UUID) (*models.BracketSnapshot, error) {
	snapshot, err := s.snapshotRepo.LatestByTournament(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrSnapshotNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("latest snapshot for %s: %w", tournamentID, err)
	}
	return snapshot, nil
}

func (s *matchService) ListSnapshots(ctx context.Context, tournamentID uuid.UUID) ([]*models.BracketSnapshot, error) {
	snapshots, err := s.snapshotRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", tournamentID, err)
	}
	return snapshots, nil
}

func (s *matchService) publishEvent(ctx context.Context, subject string, payload interface{}) {
	if err := s.publisher.Publish(ctx, subject, payload); err != nil {
		s.logger.Error("failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (s *matchService) archiveSnapshot(ctx context.Context, snapshot *models.BracketSnapshot) {
	if _, err := s.archiver.ArchiveSnapshot(ctx, snapshot.TournamentID, snapshot.Version, snapshot.State); err != nil {
		s.logger.Warn("failed to archive bracket snapshot",
			slog.String("tournament_id", snapshot.TournamentID.String()),
			slog.Int("version", snapshot.Version),
			slog.String("error", err.Error()))
	}
}
