package storage

import (
	"context"

	"paideia/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// Store persists training run history: per-epoch records, parameter
// checkpoints and run summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveEpochRecord(ctx context.Context, record model.EpochRecord) error
	EpochRecords(ctx context.Context, runID string) ([]model.EpochRecord, bool, error)
	SaveCheckpoint(ctx context.Context, record model.CheckpointRecord) error
	GetCheckpoint(ctx context.Context, id string) (model.CheckpointRecord, bool, error)
	Checkpoints(ctx context.Context, runID string) ([]model.CheckpointRecord, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	RunSummaries(ctx context.Context) ([]model.RunSummary, error)
}

// Resetter is implemented by stores that can drop all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
