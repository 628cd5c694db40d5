package train

import (
	"errors"
	"sync"
	"testing"

	"paideia/internal/hook"
	"paideia/internal/registry"
)

// recordHook is a named test hook. Two record hooks are functionally equal
// when they share a name.
type recordHook struct {
	name       string
	step       hook.TimeStep
	background bool
	requires   []hook.Hook
	entries    []string

	mu    sync.Mutex
	calls int
}

func namedHook(name string, step hook.TimeStep) *recordHook {
	return &recordHook{name: name, step: step}
}

func (h *recordHook) Step() hook.TimeStep { return h.step }
func (h *recordHook) InvokeInBackground() bool { return h.background }
func (h *recordHook) RequiredHooks() []hook.Hook { return h.requires }
func (h *recordHook) RequiredRegistryEntries() []string { return h.entries }

func (h *recordHook) FunctionallyEquals(other hook.Hook) bool {
	o, ok := other.(*recordHook)
	return ok && o.name == h.name
}

func (h *recordHook) Invoke(*registry.Registry, *registry.Resolver) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return nil
}

func (h *recordHook) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestAttachDeduplicatesFunctionallyEqualHooks(t *testing.T) {
	s := newScheduler(1)

	a := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))
	attached, err := s.Attach(a)
	if err != nil || !attached {
		t.Fatalf("first attach: attached=%v err=%v", attached, err)
	}

	duplicate := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))
	attached, err = s.Attach(duplicate)
	if err != nil {
		t.Fatalf("duplicate attach: %v", err)
	}
	if attached {
		t.Fatal("functionally equal hook must be deduplicated")
	}
	if s.Len() != 1 {
		t.Fatalf("expected one attached hook, got %d", s.Len())
	}
}

func TestAttachResolvesRequirementsToAttachedHooks(t *testing.T) {
	s := newScheduler(1)

	a := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))
	if _, err := s.Attach(a); err != nil {
		t.Fatalf("attach a: %v", err)
	}

	// b requires a fresh hook that functionally equals the attached one.
	b := namedHook("checkpoint", hook.EveryN(hook.ScaleEpoch, 1))
	b.requires = []hook.Hook{namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))}
	if _, err := s.Attach(b); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("requirement must resolve to the attached hook, got %d hooks", s.Len())
	}

	aIdx, err := s.InvocationIndex(a)
	if err != nil {
		t.Fatalf("index a: %v", err)
	}
	bIdx, err := s.InvocationIndex(b)
	if err != nil {
		t.Fatalf("index b: %v", err)
	}
	if aIdx >= bIdx {
		t.Fatalf("requirement must be invoked first: a=%d b=%d", aIdx, bIdx)
	}
}

func TestDetachCascadesImplicitRequirements(t *testing.T) {
	s := newScheduler(1)

	b := namedHook("checkpoint", hook.EveryN(hook.ScaleEpoch, 1))
	required := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))
	b.requires = []hook.Hook{required}
	if _, err := s.Attach(b); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("requirement must attach implicitly, got %d hooks", s.Len())
	}

	if err := s.Detach(required); !errors.Is(err, ErrRequiredByDependents) {
		t.Fatalf("expected ErrRequiredByDependents, got %v", err)
	}
	if err := s.Detach(b); err != nil {
		t.Fatalf("detach b: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("implicit requirement must cascade away, got %d hooks", s.Len())
	}
}

func TestExplicitAttachPinsImplicitRequirement(t *testing.T) {
	s := newScheduler(1)

	b := namedHook("checkpoint", hook.EveryN(hook.ScaleEpoch, 1))
	required := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))
	b.requires = []hook.Hook{required}
	if _, err := s.Attach(b); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	if attached, err := s.Attach(required); err != nil || attached {
		t.Fatalf("pinning attach: attached=%v err=%v", attached, err)
	}

	if err := s.Detach(b); err != nil {
		t.Fatalf("detach b: %v", err)
	}
	if !s.Attached(required) {
		t.Fatal("explicitly attached requirement must survive its dependent")
	}
}

func TestBackgroundTargetInheritance(t *testing.T) {
	s := newScheduler(1)

	b1 := namedHook("b1", hook.EveryN(hook.ScaleEpoch, 1))
	b1.background = true
	b2 := namedHook("b2", hook.EveryN(hook.ScaleEpoch, 1))
	b2.background = true
	b3 := namedHook("b3", hook.EveryN(hook.ScaleEpoch, 1))
	b3.background = true
	b3.requires = []hook.Hook{b1}

	for _, h := range []hook.Hook{b1, b2, b3} {
		if _, err := s.Attach(h); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}

	for i, h := range []hook.Hook{b1, b2, b3} {
		index, err := s.InvocationIndex(h)
		if err != nil {
			t.Fatalf("index: %v", err)
		}
		if index != i {
			t.Fatalf("hook %d: expected index %d, got %d", i, i, index)
		}
	}

	t1, _ := s.InvocationTarget(b1)
	t2, _ := s.InvocationTarget(b2)
	t3, _ := s.InvocationTarget(b3)
	if t1 == 0 || t2 == 0 {
		t.Fatalf("background hooks need non-zero targets: %d %d", t1, t2)
	}
	if t1 == t2 {
		t.Fatalf("independent background hooks must not share a target: %d", t1)
	}
	if t3 != t1 {
		t.Fatalf("dependent must inherit its requirement's target: got %d, want %d", t3, t1)
	}
}

func TestForegroundHooksUseTargetZero(t *testing.T) {
	s := newScheduler(1)
	h := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 1))
	if _, err := s.Attach(h); err != nil {
		t.Fatalf("attach: %v", err)
	}
	target, err := s.InvocationTarget(h)
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if target != 0 {
		t.Fatalf("foreground hook must run on target 0, got %d", target)
	}
}

func TestDetachReattachRestoresAssignments(t *testing.T) {
	s := newScheduler(1)

	b1 := namedHook("b1", hook.EveryN(hook.ScaleEpoch, 1))
	b1.background = true
	b2 := namedHook("b2", hook.EveryN(hook.ScaleEpoch, 1))
	b2.background = true
	b3 := namedHook("b3", hook.EveryN(hook.ScaleEpoch, 1))
	b3.background = true
	b3.requires = []hook.Hook{b1}
	for _, h := range []hook.Hook{b1, b2, b3} {
		if _, err := s.Attach(h); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	beforeIdx, _ := s.InvocationIndex(b3)
	beforeTarget, _ := s.InvocationTarget(b3)

	if err := s.Detach(b3); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := s.InvocationIndex(b3); !errors.Is(err, ErrUnknownHook) {
		t.Fatalf("expected ErrUnknownHook after detach, got %v", err)
	}
	if _, err := s.Attach(b3); err != nil {
		t.Fatalf("reattach: %v", err)
	}

	afterIdx, _ := s.InvocationIndex(b3)
	afterTarget, _ := s.InvocationTarget(b3)
	if afterIdx != beforeIdx || afterTarget != beforeTarget {
		t.Fatalf("reattach changed assignments: index %d->%d target %d->%d",
			beforeIdx, afterIdx, beforeTarget, afterTarget)
	}
}

func TestMarkDeadDetachesAfterEveryWorker(t *testing.T) {
	s := newScheduler(3)

	h := namedHook("stats", hook.EveryN(hook.ScaleIteration, 1))
	dependent := namedHook("checkpoint", hook.EveryN(hook.ScaleEpoch, 1))
	dependent.requires = []hook.Hook{h}
	if _, err := s.Attach(dependent); err != nil {
		t.Fatalf("attach: %v", err)
	}

	for worker := 0; worker < 2; worker++ {
		if err := s.MarkDead(h, worker); err != nil {
			t.Fatalf("mark dead on worker %d: %v", worker, err)
		}
		if !s.Attached(h) {
			t.Fatalf("hook must survive until every worker marked it dead (worker %d)", worker)
		}
	}
	if err := s.MarkDead(h, 2); err != nil {
		t.Fatalf("final mark dead: %v", err)
	}
	if s.Attached(h) {
		t.Fatal("hook must detach once dead on every worker")
	}
	if s.Attached(dependent) {
		t.Fatal("dependents of a dead hook must detach with it")
	}
}

func TestEjectOrdersByIndexAndExpires(t *testing.T) {
	s := newScheduler(1)

	first := namedHook("first", hook.EveryN(hook.ScaleEpoch, 1))
	second := namedHook("second", hook.NewTimeStep(hook.ScaleEpoch, 2, 2))
	second.requires = []hook.Hook{first}
	if _, err := s.Attach(first); err != nil {
		t.Fatalf("attach first: %v", err)
	}
	if _, err := s.Attach(second); err != nil {
		t.Fatalf("attach second: %v", err)
	}

	var fired [][]string
	for tick := 1; tick <= 5; tick++ {
		var names []string
		for _, e := range s.Eject(0, hook.ScaleEpoch) {
			names = append(names, e.hook.(*recordHook).name)
		}
		fired = append(fired, names)
	}

	// second fires on ticks 2 and 4 only, always after its requirement.
	want := [][]string{{"first"}, {"first", "second"}, {"first"}, {"first", "second"}, {"first"}}
	for tick, names := range want {
		if len(fired[tick]) != len(names) {
			t.Fatalf("tick %d: expected %v, got %v", tick+1, names, fired[tick])
		}
		for i := range names {
			if fired[tick][i] != names[i] {
				t.Fatalf("tick %d: expected %v, got %v", tick+1, names, fired[tick])
			}
		}
	}
	if !s.Attached(second) {
		t.Fatal("an expired schedule skips firing but the hook stays attached")
	}
	if !s.Attached(first) {
		t.Fatal("pinned requirement with live schedule must stay attached")
	}
}

func TestExpiredRequirementKeepsDependentsAlive(t *testing.T) {
	s := newScheduler(1)

	warmup := namedHook("warmup", hook.NewTimeStep(hook.ScaleEpoch, 1, 2))
	forever := namedHook("forever", hook.EveryN(hook.ScaleEpoch, 1))
	forever.requires = []hook.Hook{warmup}
	if _, err := s.Attach(warmup); err != nil {
		t.Fatalf("attach warmup: %v", err)
	}
	if _, err := s.Attach(forever); err != nil {
		t.Fatalf("attach forever: %v", err)
	}

	want := [][]string{{"warmup", "forever"}, {"warmup", "forever"}, {"forever"}, {"forever"}}
	for tick, names := range want {
		var fired []string
		for _, e := range s.Eject(0, hook.ScaleEpoch) {
			fired = append(fired, e.hook.(*recordHook).name)
		}
		if len(fired) != len(names) {
			t.Fatalf("tick %d: expected %v, got %v", tick+1, names, fired)
		}
		for i := range names {
			if fired[i] != names[i] {
				t.Fatalf("tick %d: expected %v, got %v", tick+1, names, fired)
			}
		}
	}
	if !s.Attached(warmup) || !s.Attached(forever) {
		t.Fatal("the expired requirement and its dependent must both stay attached")
	}
	if err := s.Detach(warmup); !errors.Is(err, ErrRequiredByDependents) {
		t.Fatalf("expired requirement still backs its dependents: %v", err)
	}
}

func TestEjectKeepsPerWorkerCountdowns(t *testing.T) {
	s := newScheduler(2)
	h := namedHook("stats", hook.EveryN(hook.ScaleEpoch, 2))
	if _, err := s.Attach(h); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if due := s.Eject(0, hook.ScaleEpoch); len(due) != 0 {
		t.Fatalf("worker 0 tick 1 must not fire, got %d", len(due))
	}
	// Worker 1 has its own countdown: its first tick must not fire either,
	// even though worker 0 already ticked once.
	if due := s.Eject(1, hook.ScaleEpoch); len(due) != 0 {
		t.Fatalf("worker 1 tick 1 must not fire, got %d", len(due))
	}
	if due := s.Eject(0, hook.ScaleEpoch); len(due) != 1 {
		t.Fatalf("worker 0 tick 2 must fire, got %d", len(due))
	}
}
