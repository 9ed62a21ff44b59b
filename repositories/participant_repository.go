package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrParticipantNotFound = errors.New("participant registration not found")
	ErrParticipantConflict = errors.New("user is already registered for this tournament")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error
	FindByUserAndTournament(ctx context.Context, exec SQLExecutor, userID, tournamentID uuid.UUID) (*models.Participant, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) ([]*models.Participant, error)
	CountByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) (int, error)
	UpdateStatusByUser(ctx context.Context, exec SQLExecutor, tournamentID, userID uuid.UUID, status models.ParticipantStatus) error
	Delete(ctx context.Context, exec SQLExecutor, id uuid.UUID) error
	DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO participants (id, tournament_id, user_id, display_name, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING joined_at`

	err := executor.QueryRowContext(ctx, query,
		p.ID, p.TournamentID, p.UserID, p.DisplayName, p.Status,
	).Scan(&p.JoinedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrParticipantConflict
		}
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

func (r *postgresParticipantRepository) FindByUserAndTournament(ctx context.Context, exec SQLExecutor, userID, tournamentID uuid.UUID) (*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, user_id, display_name, status, joined_at
		FROM participants
		WHERE user_id = $1 AND tournament_id = $2`

	p := &models.Participant{}
	err := executor.QueryRowContext(ctx, query, userID, tournamentID).
		Scan(&p.ID, &p.TournamentID, &p.UserID, &p.DisplayName, &p.Status, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *postgresParticipantRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) ([]*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, user_id, display_name, status, joined_at
		FROM participants
		WHERE tournament_id = $1
		ORDER BY joined_at ASC`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p := &models.Participant{}
		if scanErr := rows.Scan(&p.ID, &p.TournamentID, &p.UserID, &p.DisplayName, &p.Status, &p.JoinedAt); scanErr != nil {
			return nil, scanErr
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *postgresParticipantRepository) CountByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) (int, error) {
	executor := r.getExecutor(exec)
	var count int
	err := executor.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE tournament_id = $1`, tournamentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

func (r *postgresParticipantRepository) UpdateStatusByUser(ctx context.Context, exec SQLExecutor, tournamentID, userID uuid.UUID, status models.ParticipantStatus) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`UPDATE participants SET status = $1 WHERE tournament_id = $2 AND user_id = $3`,
		status, tournamentID, userID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresParticipantRepository) Delete(ctx context.Context, exec SQLExecutor, id uuid.UUID) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresParticipantRepository) DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) error {
	executor := r.getExecutor(exec)
	_, err := executor.ExecContext(ctx, `DELETE FROM participants WHERE tournament_id = $1`, tournamentID)
	return err
}
