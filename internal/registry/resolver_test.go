package registry

import (
	"errors"
	"testing"
)

func buildTree(t *testing.T) *Registry {
	t.Helper()

	root := New("operator")
	layers := New("layers")
	layer0 := New("layer")
	layer1 := New("layer")

	if err := layer0.Set("weights", []float64{1, 2}); err != nil {
		t.Fatalf("set weights: %v", err)
	}
	if err := layer0.Set("bias", []float64{0}); err != nil {
		t.Fatalf("set bias: %v", err)
	}
	if err := layer1.Set("weights", []float64{3}); err != nil {
		t.Fatalf("set weights: %v", err)
	}
	if err := layers.Set("0", layer0); err != nil {
		t.Fatalf("set layer0: %v", err)
	}
	if err := layers.Set("1", layer1); err != nil {
		t.Fatalf("set layer1: %v", err)
	}
	if err := root.Set("layers", layers); err != nil {
		t.Fatalf("set layers: %v", err)
	}
	return root
}

func TestParseMatchIdentifierRejectsMalformed(t *testing.T) {
	for _, identifier := range []string{
		"",
		"a..b",
		"a.*<tag.b",
		"a.*tag>.b",
		"a.*<>x.b",
		"a.*<,>.b",
	} {
		if _, err := ParseMatchIdentifier(identifier); err == nil {
			t.Fatalf("expected parse error for %q", identifier)
		}
	}
	if _, err := ParseMatchIdentifier("a.*<t1,t2>.b"); err != nil {
		t.Fatalf("valid identifier rejected: %v", err)
	}
}

func TestResolveWildcardPaths(t *testing.T) {
	resolver := NewResolver(buildTree(t))

	matches, err := resolver.Resolve("layers.*.weights")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Identifier != "layers.0.weights" || matches[1].Identifier != "layers.1.weights" {
		t.Fatalf("unexpected identifiers: %v %v", matches[0].Identifier, matches[1].Identifier)
	}

	values, err := resolver.ResolveGet("layers.*.*")
	if err != nil {
		t.Fatalf("resolve get: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 parameter tensors, got %d", len(values))
	}
}

func TestResolveTagPredicate(t *testing.T) {
	root := New()
	tagged := New("tag")
	plain := New()
	if err := tagged.Set("b", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := plain.Set("b", 2); err != nil {
		t.Fatalf("set: %v", err)
	}
	mid := New()
	if err := mid.Set("x", tagged); err != nil {
		t.Fatalf("set x: %v", err)
	}
	if err := mid.Set("y", plain); err != nil {
		t.Fatalf("set y: %v", err)
	}
	if err := root.Set("a", mid); err != nil {
		t.Fatalf("set a: %v", err)
	}

	matches, err := NewResolver(root).Resolve("a.*<tag>.b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected only tagged subtree, got %d matches", len(matches))
	}
	if matches[0].Identifier != "a.x.b" {
		t.Fatalf("unexpected match: %s", matches[0].Identifier)
	}
}

func TestResolveGetSingleNotFound(t *testing.T) {
	resolver := NewResolver(buildTree(t))

	if _, err := resolver.ResolveGetSingle("layers.9.weights"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	value, err := resolver.ResolveGetSingle("layers.0.bias")
	if err != nil {
		t.Fatalf("resolve single: %v", err)
	}
	if len(value.([]float64)) != 1 {
		t.Fatalf("unexpected bias: %v", value)
	}
}

func TestResolveSetCreatesMissingLiteralEntries(t *testing.T) {
	root := buildTree(t)
	resolver := NewResolver(root)

	if err := resolver.ResolveSet("layers.*.frozen", true); err != nil {
		t.Fatalf("resolve set: %v", err)
	}
	layers, _ := root.Child("layers")
	for _, key := range []string{"0", "1"} {
		layer, _ := layers.Child(key)
		if frozen, ok := layer.Get("frozen"); !ok || frozen.(bool) != true {
			t.Fatalf("layer %s missing created entry", key)
		}
	}

	if err := resolver.ResolveSet("nope.*.x", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for uncreatable path, got: %v", err)
	}
}

func TestResolverCacheInvalidatedByHierarchyChange(t *testing.T) {
	root := buildTree(t)
	resolver := NewResolver(root)

	first, err := resolver.Resolve("layers.0.weights")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 match, got %d", len(first))
	}

	// Replace the layer registry; the cached result referred to it.
	layers, _ := root.Child("layers")
	replacement := New("layer")
	if err := replacement.Set("weights", []float64{9, 9}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := layers.Set("0", replacement); err != nil {
		t.Fatalf("replace layer: %v", err)
	}

	values, err := resolver.ResolveGet("layers.0.weights")
	if err != nil {
		t.Fatalf("resolve after replace: %v", err)
	}
	if len(values) != 1 || values[0].([]float64)[0] != 9 {
		t.Fatalf("stale cache: %v", values)
	}
}

func TestUnrestrictedTerminalWildcardIsNotCached(t *testing.T) {
	root := buildTree(t)
	resolver := NewResolver(root)

	before, err := resolver.ResolveGet("layers.0.*")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	layers, _ := root.Child("layers")
	layer0, _ := layers.Child("0")
	if err := layer0.Set("extra", 1.0); err != nil {
		t.Fatalf("set: %v", err)
	}
	after, err := resolver.ResolveGet("layers.0.*")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("terminal wildcard result was cached: before=%d after=%d", len(before), len(after))
	}
}
