package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
)

var ErrSnapshotNotFound = errors.New("bracket snapshot not found")

type SnapshotRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID, state json.RawMessage) (*models.BracketSnapshot, error)
	LatestByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) (*models.BracketSnapshot, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) ([]*models.BracketSnapshot, error)
	DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) error
}

type postgresSnapshotRepository struct {
	db *sql.DB
}

func NewPostgresSnapshotRepository(db *sql.DB) SnapshotRepository {
	return &postgresSnapshotRepository{db: db}
}

func (r *postgresSnapshotRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create appends the next snapshot version. Versions are allocated from the
// current maximum inside the caller's transaction; snapshots are never
// updated in place.
func (r *postgresSnapshotRepository) Create(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID, state json.RawMessage) (*models.BracketSnapshot, error) {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO bracket_snapshots (id, tournament_id, version, state)
		VALUES ($1, $2, (SELECT COALESCE(MAX(version), 0) + 1 FROM bracket_snapshots WHERE tournament_id = $2), $3)
		RETURNING version, created_at`

	snapshot := &models.BracketSnapshot{
		ID:           uuid.New(),
		TournamentID: tournamentID,
		State:        state,
	}
	err := executor.QueryRowContext(ctx, query, snapshot.ID, tournamentID, state).
		Scan(&snapshot.Version, &snapshot.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bracket snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *postgresSnapshotRepository) LatestByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) (*models.BracketSnapshot, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, version, state, created_at
		FROM bracket_snapshots
		WHERE tournament_id = $1
		ORDER BY version DESC
		LIMIT 1`

	s := &models.BracketSnapshot{}
	err := executor.QueryRowContext(ctx, query, tournamentID).
		Scan(&s.ID, &s.TournamentID, &s.Version, &s.State, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *postgresSnapshotRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) ([]*models.BracketSnapshot, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, version, state, created_at
		FROM bracket_snapshots
		WHERE tournament_id = $1
		ORDER BY version ASC`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*models.BracketSnapshot
	for rows.Next() {
		s := &models.BracketSnapshot{}
		if scanErr := rows.Scan(&s.ID, &s.TournamentID, &s.Version, &s.State, &s.CreatedAt); scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func (r *postgresSnapshotRepository) DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) error {
	executor := r.getExecutor(exec)
	_, err := executor.ExecContext(ctx, `DELETE FROM bracket_snapshots WHERE tournament_id = $1`, tournamentID)
	return err
}
