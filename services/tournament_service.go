package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/storage"
	"github.com/Dosada05/tournament-engine/utils"
)

const (
	DefaultMinParticipants = 2
	DefaultMaxParticipants = 4
	MaxBracketCapacity     = 64
)

type CreateTournamentInput struct {
	CreatorID       uuid.UUID
	Name            string
	MinParticipants int
	MaxParticipants int
	IsPublic        bool
	Passcode        *string
}

type JoinTournamentInput struct {
	TournamentID uuid.UUID
	UserID       uuid.UUID
	DisplayName  *string
	Passcode     *string
}

type TournamentService interface {
	Create(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]*models.Tournament, error)
	Join(ctx context.Context, input JoinTournamentInput) (*models.Participant, error)
	Leave(ctx context.Context, tournamentID, userID uuid.UUID) error
	Start(ctx context.Context, tournamentID, actorID uuid.UUID, reason models.StartReason) error
}

type tournamentService struct {
	txScope         repositories.TransactionScope
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	matchRepo       repositories.MatchRepository
	snapshotRepo    repositories.SnapshotRepository
	generator       brackets.Generator
	publisher       EventPublisher
	notifier        BracketNotifier
	archiver        storage.SnapshotArchiver
	clock           clockwork.Clock
	logger          *slog.Logger
	autoStartWindow time.Duration
}

func NewTournamentService(
	txScope repositories.TransactionScope,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	matchRepo repositories.MatchRepository,
	snapshotRepo repositories.SnapshotRepository,
	generator brackets.Generator,
	publisher EventPublisher,
	notifier BracketNotifier,
	archiver storage.SnapshotArchiver,
	clock clockwork.Clock,
	logger *slog.Logger,
	autoStartWindow time.Duration,
) TournamentService {
	return &tournamentService{
		txScope:         txScope,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		matchRepo:       matchRepo,
		snapshotRepo:    snapshotRepo,
		generator:       generator,
		publisher:       publisher,
		notifier:        notifier,
		archiver:        archiver,
		clock:           clock,
		logger:          logger,
		autoStartWindow: autoStartWindow,
	}
}

func (s *tournamentService) Create(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tournament name is required", ErrValidationFailed)
	}

	min := input.MinParticipants
	if min == 0 {
		min = DefaultMinParticipants
	}
	max := input.MaxParticipants
	if max == 0 {
		max = DefaultMaxParticipants
	}
	if !models.IsPowerOfTwo(min) || !models.IsPowerOfTwo(max) || min > max || max > MaxBracketCapacity || min < 2 {
		return nil, fmt.Errorf("%w: min=%d max=%d", ErrInvalidParticipantBounds, min, max)
	}

	tournament := &models.Tournament{
		ID:              uuid.New(),
		CreatorID:       input.CreatorID,
		Name:            name,
		Status:          models.StatusRecruiting,
		BracketType:     models.BracketSingleElimination,
		MinParticipants: min,
		MaxParticipants: max,
		// Создатель сразу регистрируется первым участником.
		CurrentParticipants: 1,
		IsPublic:            input.IsPublic,
	}

	if !input.IsPublic {
		if input.Passcode == nil || *input.Passcode == "" {
			return nil, fmt.Errorf("%w: private tournament needs a passcode", ErrPasscodeRequired)
		}
		hash, err := utils.HashPasscode(*input.Passcode)
		if err != nil {
			return nil, fmt.Errorf("hash passcode: %w", err)
		}
		tournament.PasscodeHash = &hash
	}

	err := s.txScope.WithinTransaction(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.tournamentRepo.Create(ctx, exec, tournament); err != nil {
			if errors.Is(err, repositories.ErrTournamentNameConflict) {
				return ErrTournamentNameConflict
			}
			return fmt.Errorf("create tournament: %w", err)
		}
		participant := &models.Participant{
			ID:           uuid.New(),
			TournamentID: tournament.ID,
			UserID:       input.CreatorID,
			Status:       models.ParticipantJoined,
		}
		if err := s.participantRepo.Create(ctx, exec, participant); err != nil {
			return fmt.Errorf("register creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.SubjectTournamentCreated, events.TournamentCreatedPayload{
		TournamentID:    tournament.ID,
		CreatorID:       tournament.CreatorID,
		Name:            tournament.Name,
		MinParticipants: tournament.MinParticipants,
		MaxParticipants: tournament.MaxParticipants,
		IsPublic:        tournament.IsPublic,
		CreatedAt:       tournament.CreatedAt,
	})

	return tournament, nil
}

func (s *tournamentService) GetByID(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("get tournament %s: %w", id, err)
	}

	// Участники и матчи независимы, грузим параллельно.
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		participants, err := s.participantRepo.ListByTournament(gCtx, nil, id)
		if err != nil {
			return fmt.Errorf("list participants for %s: %w", id, err)
		}
		tournament.Participants = participants
		tournament.CurrentParticipants = len(participants)
		return nil
	})
	if tournament.Status != models.StatusRecruiting {
		g.Go(func() error {
			matches, err := s.matchRepo.ListByTournament(gCtx, nil, id)
			if err != nil {
				return fmt.Errorf("list matches for %s: %w", id, err)
			}
			tournament.Matches = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tournament, nil
}

func (s *tournamentService) List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]*models.Tournament, error) {
	tournaments, err := s.tournamentRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	return tournaments, nil
}

func (s *tournamentService) Join(ctx context.Context, input JoinTournamentInput) (*models.Participant, error) {
	var participant *models.Participant
	var startNow bool
	var joinedCount int

	err := s.txScope.WithinTransaction(ctx, func(exec repositories.SQLExecutor) error {
		tournament, err := s.tournamentRepo.GetByIDForUpdate(ctx, exec, input.TournamentID)
		if err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return ErrTournamentNotFound
			}
			return fmt.Errorf("lock tournament %s: %w", input.TournamentID, err)
		}
		if tournament.Status != models.StatusRecruiting {
			return ErrTournamentNotRecruiting
		}

		if !tournament.IsPublic {
			if input.Passcode == nil || *input.Passcode == "" {
				return ErrPasscodeRequired
			}
			if tournament.PasscodeHash == nil || !utils.CheckPasscode(*tournament.PasscodeHash, *input.Passcode) {
				return ErrInvalidPasscode
			}
		}

		count, err := s.participantRepo.CountByTournament(ctx, exec, tournament.ID)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if count >= tournament.MaxParticipants {
			return ErrTournamentFull
		}

		_, err = s.participantRepo.FindByUserAndTournament(ctx, exec, input.UserID, tournament.ID)
		if err == nil {
			return ErrAlreadyRegistered
		}
		if !errors.Is(err, repositories.ErrParticipantNotFound) {
			return fmt.Errorf("check existing registration: %w", err)
		}

		participant = &models.Participant{
			ID:           uuid.New(),
			TournamentID: tournament.ID,
			UserID:       input.UserID,
			DisplayName:  input.DisplayName,
			Status:       models.ParticipantJoined,
		}
		if err := s.participantRepo.Create(ctx, exec, participant); err != nil {
			if errors.Is(err, repositories.ErrParticipantConflict) {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("register participant: %w", err)
		}

		newCount := count + 1
		ready := newCount >= tournament.MinParticipants
		readyAt := tournament.ReadyAt
		timeoutAt := tournament.StartTimeoutAt
		if ready && readyAt == nil {
			now := s.clock.Now().UTC()
			readyAt = &now
			deadline := now.Add(s.autoStartWindow)
			timeoutAt = &deadline
		}
		if err := s.tournamentRepo.UpdateRecruitingState(ctx, exec, tournament.ID, newCount, ready, readyAt, timeoutAt); err != nil {
			return fmt.Errorf("update recruiting state: %w", err)
		}

		startNow = newCount == tournament.MaxParticipants
		joinedCount = newCount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.SubjectPlayerRegistered, events.PlayerRegisteredPayload{
		TournamentID: input.TournamentID,
		UserID:       input.UserID,
		Participants: joinedCount,
		JoinedAt:     participant.JoinedAt,
	})

	if startNow {
		if err := s.Start(ctx, input.TournamentID, input.UserID, models.StartReasonAutoFull); err != nil {
			// Турнир остаётся ready, sweeper подберёт его по таймауту.
			s.logger.Error("auto-start at capacity failed",
				slog.String("tournament_id", input.TournamentID.String()),
				slog.String("error", err.Error()))
		}
	}

	return participant, nil
}

func (s *tournamentService) Leave(ctx context.Context, tournamentID, userID uuid.UUID) error {
	return s.txScope.WithinTransaction(ctx, func(exec repositories.SQLExecutor) error {
		tournament, err := s.tournamentRepo.GetByIDForUpdate(ctx, exec, tournamentID)
		if err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return ErrTournamentNotFound
			}
			return fmt.Errorf("lock tournament %s: %w", tournamentID, err)
		}
		if tournament.Status != models.StatusRecruiting {
			return ErrTournamentNotRecruiting
		}

		participant, err := s.participantRepo.FindByUserAndTournament(ctx, exec, userID, tournamentID)
		if err != nil {
			if errors.Is(err, repositories.ErrParticipantNotFound) {
				return ErrParticipantNotFound
			}
			return fmt.Errorf("find registration: %w", err)
		}

		if tournament.CreatorID == userID {
			// Создатель уходит - турнир расформировывается.
			if err := s.matchRepo.DeleteByTournament(ctx, exec, tournamentID); err != nil {
				return fmt.Errorf("remove matches: %w", err)
			}
			if err := s.snapshotRepo.DeleteByTournament(ctx, exec, tournamentID); err != nil {
				return fmt.Errorf("remove snapshots: %w", err)
			}
			if err := s.participantRepo.DeleteByTournament(ctx, exec, tournamentID); err != nil {
				return fmt.Errorf("remove participants: %w", err)
			}
			if err := s.tournamentRepo.Delete(ctx, exec, tournamentID); err != nil {
				return fmt.Errorf("delete tournament: %w", err)
			}
			return nil
		}

		if err := s.participantRepo.Delete(ctx, exec, participant.ID); err != nil {
			return fmt.Errorf("remove participant: %w", err)
		}

		count, err := s.participantRepo.CountByTournament(ctx, exec, tournamentID)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}

		ready := count >= tournament.MinParticipants
		readyAt := tournament.ReadyAt
		timeoutAt := tournament.StartTimeoutAt
		if !ready {
			readyAt = nil
			timeoutAt = nil
		}
		if err := s.tournamentRepo.UpdateRecruitingState(ctx, exec, tournamentID, count, ready, readyAt, timeoutAt); err != nil {
			return fmt.Errorf("update recruiting state: %w", err)
		}
		return nil
	})
}

func (s *tournamentService) Start(ctx context.Context, tournamentID, actorID uuid.UUID, reason models.StartReason) error {
	var started struct {
		bracket  *brackets.Bracket
		snapshot *models.BracketSnapshot
		at       time.Time
	}

	err := s.txScope.WithinTransaction(ctx, func(exec repositories.SQLExecutor) error {
		tournament, err := s.tournamentRepo.GetByIDForUpdate(ctx, exec, tournamentID)
		if err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return ErrTournamentNotFound
			}
			return fmt.Errorf("lock tournament %s: %w", tournamentID, err)
		}
		if tournament.Status != models.StatusRecruiting {
			return ErrTournamentNotRecruiting
		}
		if reason == models.StartReasonManual && tournament.CreatorID != actorID {
			return ErrNotTournamentCreator
		}

		participants, err := s.participantRepo.ListByTournament(ctx, exec, tournamentID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if !tournament.StartableWith(len(participants)) {
			return fmt.Errorf("%w: have %d, need %d or %d",
				ErrInvalidStartCount, len(participants), tournament.MinParticipants, tournament.MaxParticipants)
		}

		bracket, err := s.generator.Generate(brackets.GenerateParams{
			TournamentID:    tournamentID,
			Participants:    participants,
			MinParticipants: tournament.MinParticipants,
			MaxParticipants: tournament.MaxParticipants,
		})
		if err != nil {
			return fmt.Errorf("generate bracket: %w", err)
		}

		if err := s.matchRepo.CreateBatch(ctx, exec, bracket.Matches); err != nil {
			return fmt.Errorf("persist bracket matches: %w", err)
		}

		state, err := json.Marshal(bracket.Snapshot)
		if err != nil {
			return fmt.Errorf("encode bracket snapshot: %w", err)
		}
		snapshot, err := s.snapshotRepo.Create(ctx, exec, tournamentID, state)
		if err != nil {
			return fmt.Errorf("persist bracket snapshot: %w", err)
		}

		now := s.clock.Now().UTC()
		if err := s.tournamentRepo.MarkStarted(ctx, exec, tournamentID, now); err != nil {
			if errors.Is(err, repositories.ErrTournamentStateStale) {
				return ErrTournamentNotRecruiting
			}
			return fmt.Errorf("mark tournament started: %w", err)
		}

		started.bracket = bracket
		started.snapshot = snapshot
		started.at = now
		return nil
	})
	if err != nil {
		return err
	}

	pairings := make([]events.MatchPairing, 0, len(started.bracket.Matches))
	for _, m := range started.bracket.Matches {
		if m.Round != 1 {
			continue
		}
		pairings = append(pairings, events.MatchPairing{
			MatchID:   m.ID,
			Round:     m.Round,
			Position:  m.MatchPosition,
			Player1ID: *m.Player1ID,
			Player2ID: *m.Player2ID,
		})
	}
	payload := events.TournamentStartedPayload{
		TournamentID: tournamentID,
		StartReason:  string(reason),
		BracketSize:  started.bracket.Size,
		Rounds:       started.bracket.Rounds,
		Pairings:     pairings,
		StartedAt:    started.at,
	}
	s.publishEvent(ctx, events.SubjectTournamentStarted, payload)
	s.notifier.NotifyRoom(tournamentID.String(), brackets.MessageTournamentStarted, payload)
	s.archiveSnapshot(ctx, started.snapshot)

	s.logger.Info("tournament started",
		slog.String("tournament_id", tournamentID.String()),
		slog.String("reason", string(reason)),
		slog.Int("bracket_size", started.bracket.Size))
	return nil
}

func (s *tournamentService) publishEvent(ctx context.Context, subject string, payload interface{}) {
	if err := s.publisher.Publish(ctx, subject, payload); err != nil {
		s.logger.Error("failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (s *tournamentService) archiveSnapshot(ctx context.Context, snapshot *models.BracketSnapshot) {
	if _, err := s.archiver.ArchiveSnapshot(ctx, snapshot.TournamentID, snapshot.Version, snapshot.State); err != nil {
		s.logger.Warn("failed to archive bracket snapshot",
			slog.String("tournament_id", snapshot.TournamentID.String()),
			slog.Int("version", snapshot.Version),
			slog.String("error", err.Error()))
	}
}
