package train

import (
	"testing"

	"paideia/internal/nn"
)

func filledNetwork(t *testing.T, dims []int, value float64) *nn.Network {
	t.Helper()
	network, err := nn.NewNetwork(dims, 1)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	params := network.Parameters()
	for i := range params {
		params[i] = value
	}
	if err := network.SetParameters(params); err != nil {
		t.Fatalf("set parameters: %v", err)
	}
	return network
}

func TestAverageMergerAverages(t *testing.T) {
	dims := []int{2, 2, 1}
	dst := filledNetwork(t, dims, 0)
	a := filledNetwork(t, dims, 1)
	b := filledNetwork(t, dims, 3)

	merger, err := NewAverageMerger(nn.NewCPUHandler(), DefaultMergePattern)
	if err != nil {
		t.Fatalf("new merger: %v", err)
	}
	if err := merger.Merge(dst, []*nn.Network{a, b}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	for i, p := range dst.Parameters() {
		if p != 2 {
			t.Fatalf("parameter %d: expected 2, got %v", i, p)
		}
	}
}

func TestAverageMergerIsAllOrNothing(t *testing.T) {
	dst := filledNetwork(t, []int{2, 2, 1}, 5)
	good := filledNetwork(t, []int{2, 2, 1}, 1)
	mismatched := filledNetwork(t, []int{2, 3, 1}, 1)

	merger, err := NewAverageMerger(nn.NewCPUHandler(), DefaultMergePattern)
	if err != nil {
		t.Fatalf("new merger: %v", err)
	}
	if err := merger.Merge(dst, []*nn.Network{good, mismatched}); err == nil {
		t.Fatal("expected a shape mismatch error")
	}
	for i, p := range dst.Parameters() {
		if p != 5 {
			t.Fatalf("parameter %d changed to %v after failed merge", i, p)
		}
	}
}

func TestAverageMergerReusesResolvers(t *testing.T) {
	dims := []int{2, 2, 1}
	dst := filledNetwork(t, dims, 0)
	a := filledNetwork(t, dims, 1)
	b := filledNetwork(t, dims, 3)

	merger, err := NewAverageMerger(nn.NewCPUHandler(), DefaultMergePattern)
	if err != nil {
		t.Fatalf("new merger: %v", err)
	}
	for epoch := 0; epoch < 4; epoch++ {
		if err := merger.Merge(dst, []*nn.Network{a, b}); err != nil {
			t.Fatalf("merge %d: %v", epoch, err)
		}
	}

	// One resolver per distinct network registry, no matter how many epochs
	// merged; a resolver per call would pile listeners onto the registries.
	if got := len(merger.resolvers); got != 3 {
		t.Fatalf("expected 3 cached resolvers, got %d", got)
	}
	first := merger.resolverFor(dst.Registry())
	if merger.resolverFor(dst.Registry()) != first {
		t.Fatal("resolverFor must hand back the cached resolver")
	}
}

func TestAverageMergerRejectsBadPattern(t *testing.T) {
	if _, err := NewAverageMerger(nil, "layers..weights"); err == nil {
		t.Fatal("expected a parse error")
	}
}
