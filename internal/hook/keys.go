package hook

// Reserved keys the operator publishes into its registry before emitting a
// time-scale event. The shared sub-registry is the canonical communication
// channel between hooks.
const (
	KeyNetwork   = "network"
	KeyOptimizer = "optimiser"
	KeyIterator  = "iterator"
	KeyTrainer   = "trainer"
	KeyEpoch     = "epoch"
	KeyIteration = "iteration"
	KeyShared    = "shared"

	// KeyTrainLoss is the shared-registry entry workers publish their most
	// recent batch loss under.
	KeyTrainLoss = "train_loss"
	// KeyValidationLoss is the shared-registry entry the validator hook
	// publishes to.
	KeyValidationLoss = "validation_loss"
)
