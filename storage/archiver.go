package storage

import (
	"context"

	"github.com/google/uuid"
)

type ArchiveResult struct {
	Key      string
	Location string
	ETag     string
}

// SnapshotArchiver keeps an off-database copy of every bracket snapshot
// version for audit.
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, tournamentID uuid.UUID, version int, state []byte) (*ArchiveResult, error)
}

// NopArchiver is used when no object storage is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveSnapshot(ctx context.Context, tournamentID uuid.UUID, version int, state []byte) (*ArchiveResult, error) {
	return &ArchiveResult{}, nil
}
