package train

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/essentials"

	"paideia/internal/hook"
)

// hookState is the scheduler's book-keeping for one attached hook.
type hookState struct {
	hook     hook.Hook
	index    int
	target   int
	implicit bool

	// requires holds the attached representatives of the hook's declared
	// requirements, dependents the reverse edges.
	requires   []hook.Hook
	dependents map[hook.Hook]struct{}

	// locals are the lazily created per-worker countdown copies; dead marks
	// workers that declared the hook dead via MarkDead.
	locals map[int]*hook.LocalTimeStep
	dead   map[int]struct{}
}

// ejection is one due hook, carrying the assignments that were current when
// it was ejected.
type ejection struct {
	hook   hook.Hook
	index  int
	target int
}

// scheduler owns one tier of hooks (the local tier with one countdown per
// worker, or the global tier with a single countdown). It deduplicates
// functionally equal hooks, attaches requirements implicitly, and assigns
// every hook an invocation index and an invocation target.
//
// Indices order invocation: requirements always carry a lower index than
// their dependents. Target 0 is the emitting thread; background hooks share
// the target of a background requirement so dependent work stays serial,
// and otherwise get a fresh target.
type scheduler struct {
	mu          sync.Mutex
	workerCount int
	order       []hook.Hook
	states      map[hook.Hook]*hookState
}

func newScheduler(workerCount int) *scheduler {
	return &scheduler{
		workerCount: workerCount,
		states:      make(map[hook.Hook]*hookState),
	}
}

// Attach adds a hook and, implicitly, its requirements. It reports false
// when a functionally equal hook was already attached.
func (s *scheduler) Attach(h hook.Hook) (bool, error) {
	if err := hook.Validate(h); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rep := s.findLocked(h); rep != nil {
		// An explicit attach pins a hook that was only pulled in as a
		// requirement, so it survives its dependents detaching.
		s.states[rep].implicit = false
		return false, nil
	}
	s.attachLocked(h, false)
	s.rebuildLocked()
	return true, nil
}

func (s *scheduler) attachLocked(h hook.Hook, implicit bool) hook.Hook {
	if rep := s.findLocked(h); rep != nil {
		if !implicit {
			s.states[rep].implicit = false
		}
		return rep
	}
	state := &hookState{
		hook:       h,
		implicit:   implicit,
		dependents: make(map[hook.Hook]struct{}),
		locals:     make(map[int]*hook.LocalTimeStep),
		dead:       make(map[int]struct{}),
	}
	s.states[h] = state
	s.order = append(s.order, h)
	for _, required := range h.RequiredHooks() {
		rep := s.attachLocked(required, true)
		state.requires = append(state.requires, rep)
		s.states[rep].dependents[h] = struct{}{}
	}
	return h
}

// Detach removes an explicitly detachable hook. Requirements that were only
// attached implicitly and have no other dependents are detached in cascade.
func (s *scheduler) Detach(h hook.Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.findLocked(h)
	if rep == nil {
		return fmt.Errorf("%w: %T", ErrUnknownHook, h)
	}
	if len(s.states[rep].dependents) > 0 {
		return fmt.Errorf("%w: %T", ErrRequiredByDependents, h)
	}
	s.detachLocked(rep)
	s.rebuildLocked()
	return nil
}

func (s *scheduler) detachLocked(h hook.Hook) {
	state, ok := s.states[h]
	if !ok {
		return
	}
	delete(s.states, h)
	for i, other := range s.order {
		if other == h {
			essentials.OrderedDelete(&s.order, i)
			break
		}
	}
	for _, required := range state.requires {
		reqState, ok := s.states[required]
		if !ok {
			continue
		}
		delete(reqState.dependents, h)
		if reqState.implicit && len(reqState.dependents) == 0 {
			s.detachLocked(required)
		}
	}
}

// forceDetachLocked removes a hook regardless of dependents, detaching the
// dependents first. Used when a hook dies on every worker.
func (s *scheduler) forceDetachLocked(h hook.Hook) {
	state, ok := s.states[h]
	if !ok {
		return
	}
	dependents := make([]hook.Hook, 0, len(state.dependents))
	for dependent := range state.dependents {
		dependents = append(dependents, dependent)
	}
	for _, dependent := range dependents {
		s.forceDetachLocked(dependent)
	}
	s.detachLocked(h)
}

// rebuildLocked reassigns invocation indices and targets from scratch by a
// post-order walk over the attach order, so every requirement is assigned
// before anything that depends on it.
func (s *scheduler) rebuildLocked() {
	nextIndex := 0
	nextTarget := 1
	assigned := make(map[hook.Hook]bool, len(s.order))

	var assign func(h hook.Hook)
	assign = func(h hook.Hook) {
		if assigned[h] {
			return
		}
		assigned[h] = true
		state := s.states[h]
		for _, required := range state.requires {
			assign(required)
		}
		state.index = nextIndex
		nextIndex++
		state.target = 0
		if h.InvokeInBackground() {
			for _, required := range state.requires {
				if t := s.states[required].target; t != 0 {
					state.target = t
					break
				}
			}
			if state.target == 0 {
				state.target = nextTarget
				nextTarget++
			}
		}
	}
	for _, h := range s.order {
		assign(h)
	}
}

// MarkDead records that a hook is no longer wanted on the given worker.
// Once every worker has marked it dead it is force-detached together with
// its dependents.
func (s *scheduler) MarkDead(h hook.Hook, workerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workerID < 0 || workerID >= s.workerCount {
		return fmt.Errorf("worker %d out of range", workerID)
	}
	rep := s.findLocked(h)
	if rep == nil {
		return fmt.Errorf("%w: %T", ErrUnknownHook, h)
	}
	s.markDeadLocked(rep, workerID)
	return nil
}

func (s *scheduler) markDeadLocked(h hook.Hook, workerID int) {
	state, ok := s.states[h]
	if !ok {
		return
	}
	state.dead[workerID] = struct{}{}
	if len(state.dead) == s.workerCount {
		s.forceDetachLocked(h)
		s.rebuildLocked()
	}
}

// Eject ticks every countdown on the given scale for the given worker and
// returns the due hooks sorted by invocation index. An expired schedule is
// skipped, never ejected again; the hook stays attached so its dependents
// keep their requirement edge. Only MarkDead detaches.
func (s *scheduler) Eject(workerID int, scale hook.TimeScale) []ejection {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []ejection
	for _, h := range s.order {
		if h.Step().Scale != scale {
			continue
		}
		state := s.states[h]
		if _, dead := state.dead[workerID]; dead {
			continue
		}
		local, ok := state.locals[workerID]
		if !ok {
			local = h.Step().Local()
			state.locals[workerID] = local
		}
		if local.Tick() {
			due = append(due, ejection{hook: h, index: state.index, target: state.target})
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].index < due[j].index })
	return due
}

// findLocked returns the attached representative that functionally equals h.
func (s *scheduler) findLocked(h hook.Hook) hook.Hook {
	if _, ok := s.states[h]; ok {
		return h
	}
	for _, attached := range s.order {
		if attached.FunctionallyEquals(h) {
			return attached
		}
	}
	return nil
}

func (s *scheduler) Attached(h hook.Hook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(h) != nil
}

func (s *scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Hooks returns the attached hooks in attach order. The slice is a copy.
func (s *scheduler) Hooks() []hook.Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hook.Hook(nil), s.order...)
}

func (s *scheduler) InvocationIndex(h hook.Hook) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.findLocked(h)
	if rep == nil {
		return 0, fmt.Errorf("%w: %T", ErrUnknownHook, h)
	}
	return s.states[rep].index, nil
}

func (s *scheduler) InvocationTarget(h hook.Hook) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.findLocked(h)
	if rep == nil {
		return 0, fmt.Errorf("%w: %T", ErrUnknownHook, h)
	}
	return s.states[rep].target, nil
}
