package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paideia/internal/model"
	"paideia/internal/nn"
	"paideia/internal/registry"
	"paideia/internal/storage"
)

// Checkpoint snapshots the authoritative network parameters every few
// epochs. It runs in the background against the snapshot registry, so a
// merge landing mid-write cannot tear the checkpoint.
type Checkpoint struct {
	store    storage.Store
	runID    string
	every    int
	requires []Hook
}

func NewCheckpoint(store storage.Store, runID string, every int, requires ...Hook) (*Checkpoint, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if every <= 0 {
		return nil, fmt.Errorf("checkpoint interval must be > 0")
	}
	return &Checkpoint{store: store, runID: runID, every: every, requires: requires}, nil
}

func (h *Checkpoint) Step() TimeStep           { return EveryN(ScaleEpoch, h.every) }
func (h *Checkpoint) InvokeInBackground() bool { return true }
func (h *Checkpoint) RequiredHooks() []Hook    { return h.requires }

func (h *Checkpoint) RequiredRegistryEntries() []string {
	return []string{KeyNetwork, KeyEpoch}
}

func (h *Checkpoint) FunctionallyEquals(other Hook) bool {
	o, ok := other.(*Checkpoint)
	return ok && o.store == h.store && o.runID == h.runID && o.every == h.every
}

func (h *Checkpoint) Invoke(reg *registry.Registry, _ *registry.Resolver) error {
	value, ok := reg.Get(KeyNetwork)
	if !ok {
		return fmt.Errorf("checkpoint: registry has no network")
	}
	network, ok := value.(*nn.Network)
	if !ok {
		return fmt.Errorf("checkpoint: unexpected network type %T", value)
	}
	epoch := 0
	if v, ok := reg.Get(KeyEpoch); ok {
		epoch, _ = v.(int)
	}

	record := model.CheckpointRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:            uuid.NewString(),
		RunID:         h.runID,
		Epoch:         epoch,
		Parameters:    network.Parameters(),
		CreatedAtUnix: time.Now().Unix(),
	}
	return h.store.SaveCheckpoint(context.Background(), record)
}
