package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/services"
)

// TournamentStarter is the part of the tournament service the sweeper needs.
type TournamentStarter interface {
	Start(ctx context.Context, tournamentID, actorID uuid.UUID, reason models.StartReason) error
}

// AutoStartScheduler periodically starts recruiting tournaments whose
// auto-start window has expired. Start itself re-validates the participant
// count under the tournament row lock, so a sweep racing a manual start or
// a join is safe.
type AutoStartScheduler struct {
	tournamentRepo repositories.TournamentRepository
	starter        TournamentStarter
	clock          clockwork.Clock
	logger         *slog.Logger
	interval       time.Duration
}

func NewAutoStartScheduler(
	tournamentRepo repositories.TournamentRepository,
	starter TournamentStarter,
	clock clockwork.Clock,
	logger *slog.Logger,
	interval time.Duration,
) *AutoStartScheduler {
	return &AutoStartScheduler{
		tournamentRepo: tournamentRepo,
		starter:        starter,
		clock:          clock,
		logger:         logger,
		interval:       interval,
	}
}

// Run blocks until ctx is cancelled. Sweeps never overlap because they run
// on a single goroutine.
func (s *AutoStartScheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auto-start scheduler running", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-start scheduler stopped")
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep starts every tournament whose start window expired. Failures are
// logged per tournament and never abort the rest of the sweep.
func (s *AutoStartScheduler) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()
	expired, err := s.tournamentRepo.ListStartTimedOut(ctx, now)
	if err != nil {
		s.logger.Error("auto-start sweep failed to list tournaments",
			slog.String("error", err.Error()))
		return
	}

	for _, tournament := range expired {
		err := s.starter.Start(ctx, tournament.ID, uuid.Nil, models.StartReasonTimeout)
		switch {
		case err == nil:
			s.logger.Info("tournament auto-started on timeout",
				slog.String("tournament_id", tournament.ID.String()))
		case errors.Is(err, services.ErrTournamentNotRecruiting):
			// Кто-то успел стартовать турнир между выборкой и блокировкой.
		case errors.Is(err, services.ErrInvalidStartCount):
			s.logger.Warn("timed out tournament is not startable, skipping",
				slog.String("tournament_id", tournament.ID.String()),
				slog.String("error", err.Error()))
		default:
			s.logger.Error("auto-start failed",
				slog.String("tournament_id", tournament.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}
