package hook

import (
	"fmt"

	"paideia/internal/data"
	"paideia/internal/nn"
	"paideia/internal/registry"
)

// Validator evaluates the network on a held-out set in the background and
// publishes the score into the shared registry. It reads a parameter
// snapshot, so a late result never blocks or corrupts training.
type Validator struct {
	inputs  [][]float64
	targets [][]float64
	every   int
}

func NewValidator(samples []data.Sample, every int) (*Validator, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("validation samples are required")
	}
	if every <= 0 {
		return nil, fmt.Errorf("validation interval must be > 0")
	}
	inputs, targets := data.Split(samples)
	return &Validator{inputs: inputs, targets: targets, every: every}, nil
}

func (h *Validator) Step() TimeStep { return EveryN(ScaleIteration, h.every) }
func (h *Validator) InvokeInBackground() bool { return true }
func (h *Validator) RequiredHooks() []Hook { return nil }
func (h *Validator) RequiredRegistryEntries() []string { return []string{KeyNetwork, KeyShared} }

func (h *Validator) FunctionallyEquals(other Hook) bool {
	o, ok := other.(*Validator)
	return ok && o.every == h.every && len(o.inputs) == len(h.inputs)
}

func (h *Validator) Invoke(reg *registry.Registry, _ *registry.Resolver) error {
	value, ok := reg.Get(KeyNetwork)
	if !ok {
		return fmt.Errorf("validator: registry has no network")
	}
	network, ok := value.(*nn.Network)
	if !ok {
		return fmt.Errorf("validator: unexpected network type %T", value)
	}
	loss, err := network.Loss(h.inputs, h.targets)
	if err != nil {
		return err
	}
	shared, ok := reg.Child(KeyShared)
	if !ok {
		return fmt.Errorf("validator: registry has no shared channel")
	}
	return shared.Set(KeyValidationLoss, loss)
}
