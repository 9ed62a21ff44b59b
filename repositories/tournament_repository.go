package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound     = errors.New("tournament not found")
	ErrTournamentNameConflict = errors.New("tournament name conflict for this creator")
	ErrTournamentStateStale   = errors.New("tournament state changed concurrently")
)

type ListTournamentsFilter struct {
	Status    *models.TournamentStatus
	CreatorID *uuid.UUID
	Limit     int
	Offset    int
}

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Tournament, error)
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]*models.Tournament, error)
	UpdateRecruitingState(ctx context.Context, exec SQLExecutor, id uuid.UUID, count int, ready bool, readyAt, startTimeoutAt *time.Time) error
	MarkStarted(ctx context.Context, exec SQLExecutor, id uuid.UUID, startedAt time.Time) error
	MarkFinished(ctx context.Context, exec SQLExecutor, id uuid.UUID, finishedAt time.Time) error
	Delete(ctx context.Context, exec SQLExecutor, id uuid.UUID) error
	ListStartTimedOut(ctx context.Context, now time.Time) ([]*models.Tournament, error)
}

const tournamentColumns = `
	id, name, creator_id, status, bracket_type, min_participants, max_participants,
	current_participants, is_public, passcode_hash, ready_to_start, ready_at,
	start_timeout_at, created_at, started_at, finished_at, updated_at`

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO tournaments (
			id, name, creator_id, status, bracket_type, min_participants, max_participants,
			current_participants, is_public, passcode_hash, ready_to_start
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		t.ID, t.Name, t.CreatorID, t.Status, t.BracketType, t.MinParticipants, t.MaxParticipants,
		t.CurrentParticipants, t.IsPublic, t.PasscodeHash, t.ReadyToStart,
	).Scan(&t.CreatedAt, &t.UpdatedAt)

	return r.handleTournamentError(err)
}

func scanTournament(row *sql.Row) (*models.Tournament, error) {
	t := &models.Tournament{}
	err := row.Scan(
		&t.ID, &t.Name, &t.CreatorID, &t.Status, &t.BracketType, &t.MinParticipants, &t.MaxParticipants,
		&t.CurrentParticipants, &t.IsPublic, &t.PasscodeHash, &t.ReadyToStart, &t.ReadyAt,
		&t.StartTimeoutAt, &t.CreatedAt, &t.StartedAt, &t.FinishedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Tournament, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	return scanTournament(executor.QueryRowContext(ctx, query, id))
}

// GetByIDForUpdate locks the tournament row for the rest of the transaction.
// This is the per-tournament serialization point for join/leave/start and
// match completion.
func (r *postgresTournamentRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Tournament, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1 FOR UPDATE`
	return scanTournament(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.CreatorID != nil {
		query += fmt.Sprintf(" AND creator_id = $%d", argID)
		args = append(args, *filter.CreatorID)
		argID++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := make([]*models.Tournament, 0)
	for rows.Next() {
		t := &models.Tournament{}
		if scanErr := rows.Scan(
			&t.ID, &t.Name, &t.CreatorID, &t.Status, &t.BracketType, &t.MinParticipants, &t.MaxParticipants,
			&t.CurrentParticipants, &t.IsPublic, &t.PasscodeHash, &t.ReadyToStart, &t.ReadyAt,
			&t.StartTimeoutAt, &t.CreatedAt, &t.StartedAt, &t.FinishedAt, &t.UpdatedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		tournaments = append(tournaments, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) UpdateRecruitingState(ctx context.Context, exec SQLExecutor, id uuid.UUID, count int, ready bool, readyAt, startTimeoutAt *time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE tournaments SET
			current_participants = $1,
			ready_to_start = $2,
			ready_at = $3,
			start_timeout_at = $4,
			updated_at = NOW()
		WHERE id = $5 AND status = $6`
	result, err := executor.ExecContext(ctx, query, count, ready, readyAt, startTimeoutAt, id, models.StatusRecruiting)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentStateStale)
}

// MarkStarted transitions recruiting -> in_progress. The status guard makes a
// double start lose the race at the database, not just in memory.
func (r *postgresTournamentRepository) MarkStarted(ctx context.Context, exec SQLExecutor, id uuid.UUID, startedAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE tournaments SET
			status = $1,
			started_at = $2,
			ready_to_start = FALSE,
			ready_at = NULL,
			start_timeout_at = NULL,
			updated_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := executor.ExecContext(ctx, query, models.StatusInProgress, startedAt, id, models.StatusRecruiting)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentStateStale)
}

func (r *postgresTournamentRepository) MarkFinished(ctx context.Context, exec SQLExecutor, id uuid.UUID, finishedAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE tournaments SET
			status = $1,
			finished_at = $2,
			updated_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := executor.ExecContext(ctx, query, models.StatusFinished, finishedAt, id, models.StatusInProgress)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentStateStale)
}

func (r *postgresTournamentRepository) Delete(ctx context.Context, exec SQLExecutor, id uuid.UUID) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM tournaments WHERE id = $1`, id)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) ListStartTimedOut(ctx context.Context, now time.Time) ([]*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + `
		FROM tournaments
		WHERE status = $1 AND start_timeout_at IS NOT NULL AND start_timeout_at <= $2
		ORDER BY start_timeout_at ASC`

	rows, err := r.db.QueryContext(ctx, query, models.StatusRecruiting, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query timed-out tournaments: %w", err)
	}
	defer rows.Close()

	var tournaments []*models.Tournament
	for rows.Next() {
		var t models.Tournament
		if scanErr := rows.Scan(
			&t.ID, &t.Name, &t.CreatorID, &t.Status, &t.BracketType, &t.MinParticipants, &t.MaxParticipants,
			&t.CurrentParticipants, &t.IsPublic, &t.PasscodeHash, &t.ReadyToStart, &t.ReadyAt,
			&t.StartTimeoutAt, &t.CreatedAt, &t.StartedAt, &t.FinishedAt, &t.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan timed-out tournament: %w", scanErr)
		}
		tournaments = append(tournaments, &t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" && pqErr.Constraint == "tournaments_creator_id_name_key" {
			return ErrTournamentNameConflict
		}
	}
	return err
}
