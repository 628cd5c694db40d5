package hook

import (
	"fmt"

	"paideia/internal/nn"
	"paideia/internal/registry"
)

// StepDecay multiplies the learning rate by a fixed factor every few
// epochs, never dropping below the floor.
type StepDecay struct {
	every  int
	factor float64
	floor  float64
}

func NewStepDecay(every int, factor, floor float64) (*StepDecay, error) {
	if every <= 0 {
		return nil, fmt.Errorf("decay interval must be > 0")
	}
	if factor <= 0 || factor >= 1 {
		return nil, fmt.Errorf("decay factor must be in (0, 1)")
	}
	if floor <= 0 {
		return nil, fmt.Errorf("learning rate floor must be > 0")
	}
	return &StepDecay{every: every, factor: factor, floor: floor}, nil
}

func (h *StepDecay) Step() TimeStep { return EveryN(ScaleEpoch, h.every) }
func (h *StepDecay) InvokeInBackground() bool { return false }
func (h *StepDecay) RequiredHooks() []Hook { return nil }
func (h *StepDecay) RequiredRegistryEntries() []string { return []string{KeyOptimizer} }

func (h *StepDecay) FunctionallyEquals(other Hook) bool {
	o, ok := other.(*StepDecay)
	return ok && o.every == h.every && o.factor == h.factor && o.floor == h.floor
}

func (h *StepDecay) Invoke(reg *registry.Registry, _ *registry.Resolver) error {
	value, ok := reg.Get(KeyOptimizer)
	if !ok {
		return fmt.Errorf("step decay: registry has no optimiser")
	}
	optimizer, ok := value.(*nn.SGD)
	if !ok {
		return fmt.Errorf("step decay: unexpected optimiser type %T", value)
	}
	next := optimizer.LearningRate() * h.factor
	if next < h.floor {
		next = h.floor
	}
	return optimizer.SetLearningRate(next)
}
