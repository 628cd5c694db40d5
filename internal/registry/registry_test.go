package registry

import (
	"errors"
	"reflect"
	"testing"
)

func TestSetGetRemove(t *testing.T) {
	reg := New("operator")

	if err := reg.Set("epoch", 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok := reg.Get("epoch")
	if !ok || value.(int) != 3 {
		t.Fatalf("unexpected value: %v %v", value, ok)
	}
	if !reg.Contains("epoch") {
		t.Fatal("expected contains")
	}
	if !reg.Remove("epoch") {
		t.Fatal("expected remove to report prior entry")
	}
	if reg.Contains("epoch") {
		t.Fatal("expected entry gone")
	}
	if reg.Remove("epoch") {
		t.Fatal("expected second remove to be a no-op")
	}
}

func TestTypedKeysRejectIncompatibleWrites(t *testing.T) {
	reg := New()

	if err := reg.SetTyped("iteration", 1, reflect.TypeOf(int(0))); err != nil {
		t.Fatalf("set typed: %v", err)
	}
	if err := reg.Set("iteration", 2); err != nil {
		t.Fatalf("compatible rewrite: %v", err)
	}
	if err := reg.Set("iteration", "two"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got: %v", err)
	}
	value, _ := reg.Get("iteration")
	if value.(int) != 2 {
		t.Fatalf("rejected write must not clobber value, got %v", value)
	}
}

func TestTagsAndParent(t *testing.T) {
	root := New("operator")
	shared := New("shared", "trainer")

	if err := root.Set("shared", shared); err != nil {
		t.Fatalf("set child: %v", err)
	}
	if shared.Parent() != root {
		t.Fatal("child parent back-edge not set")
	}
	if !shared.HasTags("shared") || !shared.HasTags("shared", "trainer") {
		t.Fatal("tag superset check failed")
	}
	if shared.HasTags("shared", "operator") {
		t.Fatal("unexpected tag superset")
	}
	tags := shared.Tags()
	if len(tags) != 2 || tags[0] != "shared" || tags[1] != "trainer" {
		t.Fatalf("unexpected tags: %v", tags)
	}
}

func TestHierarchyListenersFireOnChildReplacement(t *testing.T) {
	root := New()
	first := New("a")
	second := New("b")

	type event struct {
		id       string
		previous *Registry
		next     *Registry
	}
	var events []event
	root.AddHierarchyListener(func(id string, previous, next *Registry) {
		events = append(events, event{id, previous, next})
	})

	if err := root.Set("child", first); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := root.Set("child", second); err != nil {
		t.Fatalf("replace: %v", err)
	}
	root.Remove("child")

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].previous != nil || events[0].next != first {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].previous != first || events[1].next != second {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].previous != second || events[2].next != nil {
		t.Fatalf("unexpected third event: %+v", events[2])
	}
}

func TestHierarchyChangesBubbleToAncestors(t *testing.T) {
	root := New()
	mid := New()
	if err := root.Set("mid", mid); err != nil {
		t.Fatalf("set mid: %v", err)
	}

	fired := 0
	root.AddHierarchyListener(func(string, *Registry, *Registry) { fired++ })

	if err := mid.Set("leaf", New()); err != nil {
		t.Fatalf("set leaf: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected bubbled notification, got %d", fired)
	}
}

func TestKeysAndValuesAreSortedSnapshots(t *testing.T) {
	reg := New()
	for _, key := range []string{"b", "a", "c"} {
		if err := reg.Set(key, key+"!"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	keys := reg.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	values := reg.Values()
	if len(values) != 3 || values[0].(string) != "a!" {
		t.Fatalf("unexpected values: %v", values)
	}
}
