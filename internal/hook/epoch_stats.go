package hook

import (
	"context"
	"fmt"

	"paideia/internal/model"
	"paideia/internal/nn"
	"paideia/internal/registry"
	"paideia/internal/storage"
)

// EpochStats records one history row per epoch: the epoch number, the
// highest iteration reached, the last published training loss and the
// current learning rate.
type EpochStats struct {
	store storage.Store
	runID string
}

func NewEpochStats(store storage.Store, runID string) (*EpochStats, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	return &EpochStats{store: store, runID: runID}, nil
}

func (h *EpochStats) Step() TimeStep { return EveryN(ScaleEpoch, 1) }
func (h *EpochStats) InvokeInBackground() bool { return false }
func (h *EpochStats) RequiredHooks() []Hook { return nil }
func (h *EpochStats) RequiredRegistryEntries() []string {
	return []string{KeyEpoch, KeyIteration, KeyOptimizer, KeyShared}
}

func (h *EpochStats) FunctionallyEquals(other Hook) bool {
	o, ok := other.(*EpochStats)
	return ok && o.store == h.store && o.runID == h.runID
}

func (h *EpochStats) Invoke(reg *registry.Registry, _ *registry.Resolver) error {
	record := model.EpochRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID: h.runID,
	}
	if epoch, ok := reg.Get(KeyEpoch); ok {
		record.Epoch, _ = epoch.(int)
	}
	if iteration, ok := reg.Get(KeyIteration); ok {
		record.Iterations, _ = iteration.(int)
	}
	if value, ok := reg.Get(KeyOptimizer); ok {
		if optimizer, ok := value.(*nn.SGD); ok {
			record.LearningRate = optimizer.LearningRate()
		}
	}
	if shared, ok := reg.Child(KeyShared); ok {
		if loss, ok := shared.Get(KeyTrainLoss); ok {
			record.TrainLoss, _ = loss.(float64)
		}
	}
	return h.store.SaveEpochRecord(context.Background(), record)
}
