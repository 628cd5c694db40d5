package train

import (
	"fmt"
	"sync"

	"paideia/internal/nn"
	"paideia/internal/registry"
)

// NetworkMerger folds the parameter trees pushed by the workers at an epoch
// boundary back into the authoritative network.
type NetworkMerger interface {
	Merge(dst *nn.Network, pushed []*nn.Network) error
}

// DefaultMergePattern selects every per-layer parameter entry.
const DefaultMergePattern = "layers.*.*"

// AverageMerger replaces each parameter entry selected by the match
// identifier with the element-wise mean of the pushed copies. The merge is
// all-or-nothing: every entry is validated against every pushed network
// before anything is written.
type AverageMerger struct {
	handler nn.Handler
	pattern string

	// resolvers are cached per network registry: a resolver registers a
	// hierarchy listener on its root, so building one per Merge call would
	// pile listeners onto the registries over a long run.
	mu        sync.Mutex
	resolvers map[*registry.Registry]*registry.Resolver
}

func NewAverageMerger(handler nn.Handler, pattern string) (*AverageMerger, error) {
	if handler == nil {
		handler = nn.NewCPUHandler()
	}
	if pattern == "" {
		pattern = DefaultMergePattern
	}
	if _, err := registry.ParseMatchIdentifier(pattern); err != nil {
		return nil, err
	}
	return &AverageMerger{
		handler:   handler,
		pattern:   pattern,
		resolvers: make(map[*registry.Registry]*registry.Resolver),
	}, nil
}

func (m *AverageMerger) resolverFor(reg *registry.Registry) *registry.Resolver {
	m.mu.Lock()
	defer m.mu.Unlock()
	resolver, ok := m.resolvers[reg]
	if !ok {
		resolver = registry.NewResolver(reg)
		m.resolvers[reg] = resolver
	}
	return resolver
}

func (m *AverageMerger) Merge(dst *nn.Network, pushed []*nn.Network) error {
	if dst == nil {
		return ErrUnassignedNetwork
	}
	if len(pushed) == 0 {
		return fmt.Errorf("nothing to merge")
	}

	resolver := m.resolverFor(dst.Registry())
	matches, err := resolver.Resolve(m.pattern)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("merge pattern %q matched nothing", m.pattern)
	}

	sources := make([][][]float64, len(matches))
	for i, match := range matches {
		value, ok := match.Registry.Get(match.Key)
		if !ok {
			return fmt.Errorf("merge entry %s vanished", match.Identifier)
		}
		target, ok := value.([]float64)
		if !ok {
			return fmt.Errorf("merge entry %s is %T, not a parameter slice", match.Identifier, value)
		}
		sources[i] = make([][]float64, len(pushed))
		for j, network := range pushed {
			value, err := m.resolverFor(network.Registry()).ResolveGetSingle(match.Identifier)
			if err != nil {
				return fmt.Errorf("pushed network %d: %w", j, err)
			}
			source, ok := value.([]float64)
			if !ok || len(source) != len(target) {
				return fmt.Errorf("pushed network %d: entry %s does not line up", j, match.Identifier)
			}
			sources[i][j] = source
		}
	}

	alpha := 1.0 / float64(len(pushed))
	for i, match := range matches {
		value, _ := match.Registry.Get(match.Key)
		target := value.([]float64)
		merged := m.handler.Zeros(len(target))
		for _, source := range sources[i] {
			if err := m.handler.AddScaled(merged, alpha, source); err != nil {
				return err
			}
		}
		copy(target, merged)
	}
	return nil
}
