package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/google/uuid"
)

var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrMatchAlreadyClaimed  = errors.New("match already claimed by another game")
	ErrMatchAlreadyFinished = errors.New("match already finished")
	ErrMatchSlotTaken       = errors.New("match player slot already filled")
)

type MatchRepository interface {
	CreateBatch(ctx context.Context, exec SQLExecutor, matches []*models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Match, error)
	GetByGameID(ctx context.Context, exec SQLExecutor, gameID string) (*models.Match, error)
	GetByRoundPosition(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID, round, position int) (*models.Match, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) ([]*models.Match, error)
	MaxRound(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) (int, error)
	ClaimGame(ctx context.Context, exec SQLExecutor, matchID uuid.UUID, gameID string, startedAt time.Time) error
	RecordResult(ctx context.Context, exec SQLExecutor, matchID, winnerID uuid.UUID, finishedAt time.Time) error
	FillPlayerSlot(ctx context.Context, exec SQLExecutor, matchID uuid.UUID, slot int, playerID uuid.UUID) error
	DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) error
}

const matchColumns = `
	id, tournament_id, round, match_position, player1_id, player2_id,
	status, game_id, winner_id, created_at, started_at, finished_at`

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresMatchRepository) CreateBatch(ctx context.Context, exec SQLExecutor, matches []*models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO matches (id, tournament_id, round, match_position, player1_id, player2_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	for _, m := range matches {
		err := executor.QueryRowContext(ctx, query,
			m.ID, m.TournamentID, m.Round, m.MatchPosition, m.Player1ID, m.Player2ID, m.Status,
		).Scan(&m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert match r%dm%d: %w", m.Round, m.MatchPosition, err)
		}
	}
	return nil
}

func scanMatch(row *sql.Row) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID, &m.TournamentID, &m.Round, &m.MatchPosition, &m.Player1ID, &m.Player2ID,
		&m.Status, &m.GameID, &m.WinnerID, &m.CreatedAt, &m.StartedAt, &m.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + ` FROM matches WHERE id = $1`
	return scanMatch(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresMatchRepository) GetByGameID(ctx context.Context, exec SQLExecutor, gameID string) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + ` FROM matches WHERE game_id = $1`
	return scanMatch(executor.QueryRowContext(ctx, query, gameID))
}

func (r *postgresMatchRepository) GetByRoundPosition(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID, round, position int) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1 AND round = $2 AND match_position = $3`
	return scanMatch(executor.QueryRowContext(ctx, query, tournamentID, round, position))
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1 ORDER BY round ASC, match_position ASC`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		m := &models.Match{}
		if scanErr := rows.Scan(
			&m.ID, &m.TournamentID, &m.Round, &m.MatchPosition, &m.Player1ID, &m.Player2ID,
			&m.Status, &m.GameID, &m.WinnerID, &m.CreatedAt, &m.StartedAt, &m.FinishedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *postgresMatchRepository) MaxRound(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) (int, error) {
	executor := r.getExecutor(exec)
	var round int
	err := executor.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(round), 0) FROM matches WHERE tournament_id = $1`, tournamentID).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve max round: %w", err)
	}
	return round, nil
}

// ClaimGame attaches a game to a pending match. The WHERE clause is the
// compare-and-set: only one of two racing PlayMatch calls can flip the row,
// the other sees zero affected rows and re-reads.
func (r *postgresMatchRepository) ClaimGame(ctx context.Context, exec SQLExecutor, matchID uuid.UUID, gameID string, startedAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches SET
			status = $1,
			game_id = $2,
			started_at = $3
		WHERE id = $4 AND status = $5 AND game_id IS NULL`
	result, err := executor.ExecContext(ctx, query, models.MatchInProgress, gameID, startedAt, matchID, models.MatchPending)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchAlreadyClaimed)
}

// RecordResult finishes a match. The status guard makes duplicate completion
// deliveries lose at the database rather than re-running propagation.
func (r *postgresMatchRepository) RecordResult(ctx context.Context, exec SQLExecutor, matchID, winnerID uuid.UUID, finishedAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches SET
			status = $1,
			winner_id = $2,
			finished_at = $3
		WHERE id = $4 AND status <> $1`
	result, err := executor.ExecContext(ctx, query, models.MatchFinished, winnerID, finishedAt, matchID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchAlreadyFinished)
}

// FillPlayerSlot writes a propagated winner into one slot of a successor
// match. A slot is written at most once; overwriting is refused at the query
// level.
func (r *postgresMatchRepository) FillPlayerSlot(ctx context.Context, exec SQLExecutor, matchID uuid.UUID, slot int, playerID uuid.UUID) error {
	executor := r.getExecutor(exec)
	var query string
	switch slot {
	case 1:
		query = `UPDATE matches SET player1_id = $1 WHERE id = $2 AND player1_id IS NULL`
	case 2:
		query = `UPDATE matches SET player2_id = $1 WHERE id = $2 AND player2_id IS NULL`
	default:
		return fmt.Errorf("invalid player slot %d", slot)
	}
	result, err := executor.ExecContext(ctx, query, playerID, matchID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchSlotTaken)
}

func (r *postgresMatchRepository) DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID uuid.UUID) error {
	executor := r.getExecutor(exec)
	_, err := executor.ExecContext(ctx, `DELETE FROM matches WHERE tournament_id = $1`, tournamentID)
	return err
}
