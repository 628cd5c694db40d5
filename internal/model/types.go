package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// EpochRecord is the per-epoch training history row written by the epoch
// stats hook.
type EpochRecord struct {
	VersionedRecord
	RunID        string  `json:"run_id"`
	Epoch        int     `json:"epoch"`
	Iterations   int     `json:"iterations"`
	TrainLoss    float64 `json:"train_loss"`
	LearningRate float64 `json:"learning_rate"`
}

// CheckpointRecord snapshots the authoritative network parameters at an
// epoch boundary.
type CheckpointRecord struct {
	VersionedRecord
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	Epoch         int       `json:"epoch"`
	Parameters    []float64 `json:"parameters"`
	CreatedAtUnix int64     `json:"created_at_unix"`
}

// RunSummary describes one completed training run.
type RunSummary struct {
	VersionedRecord
	RunID          string  `json:"run_id"`
	Workers        int     `json:"workers"`
	Epochs         int     `json:"epochs"`
	Samples        int     `json:"samples"`
	FinalLoss      float64 `json:"final_loss"`
	BestValidation float64 `json:"best_validation"`
	HandlerName    string  `json:"handler_name"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}
