// Package hook defines the scheduled-callback contract of the training
// operator: the time-scale vocabulary, firing schedules, and the Hook
// capability interface, together with the built-in hooks.
package hook

import (
	"errors"
	"fmt"

	"paideia/internal/registry"
)

// TimeScale names a tick type on the training timeline.
type TimeScale string

const (
	ScaleIteration TimeScale = "iteration"
	ScaleEpoch     TimeScale = "epoch"
	ScaleStart     TimeScale = "start"
	ScaleStop      TimeScale = "stop"
)

// LiveForever marks a schedule that never expires.
const LiveForever = -1

var ErrInvalidHook = errors.New("invalid hook")

// TimeStep is a firing schedule: every Interval ticks of Scale, LiveTime
// times in total (LiveForever for no limit).
type TimeStep struct {
	Scale    TimeScale
	Interval int
	LiveTime int
}

func NewTimeStep(scale TimeScale, interval, liveTime int) TimeStep {
	return TimeStep{Scale: scale, Interval: interval, LiveTime: liveTime}
}

// EveryN is the common always-alive schedule.
func EveryN(scale TimeScale, interval int) TimeStep {
	return TimeStep{Scale: scale, Interval: interval, LiveTime: LiveForever}
}

func (t TimeStep) validate() error {
	switch t.Scale {
	case ScaleIteration, ScaleEpoch, ScaleStart, ScaleStop:
	default:
		return fmt.Errorf("unknown time scale %q", t.Scale)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %d", t.Interval)
	}
	if t.LiveTime < LiveForever || t.LiveTime == 0 {
		return fmt.Errorf("live time must be > 0 or LiveForever, got %d", t.LiveTime)
	}
	return nil
}

// LocalTimeStep is the live copy of a schedule the scheduler counts down.
type LocalTimeStep struct {
	TimeStep
	LocalInterval int
	LocalLiveTime int
}

// Local initializes the countdown copy.
func (t TimeStep) Local() *LocalTimeStep {
	return &LocalTimeStep{
		TimeStep:      t,
		LocalInterval: t.Interval,
		LocalLiveTime: t.LiveTime,
	}
}

// Tick advances the countdown by one tick of the schedule's scale and
// reports whether the hook is due. Expired schedules never fire again.
func (l *LocalTimeStep) Tick() bool {
	if l.LocalLiveTime == 0 {
		return false
	}
	l.LocalInterval--
	if l.LocalInterval > 0 {
		return false
	}
	if l.LocalLiveTime > 0 {
		l.LocalLiveTime--
	}
	l.LocalInterval = l.Interval
	return true
}

// Expired reports whether the schedule has used up its live time.
func (l *LocalTimeStep) Expired() bool {
	return l.LocalLiveTime == 0
}

// Hook is a scheduled callback attached to a training operator. Hooks must
// be pointer-backed so the operator can use them as map keys and track
// identity across attach and detach.
type Hook interface {
	// Step returns the hook's firing schedule.
	Step() TimeStep
	// InvokeInBackground reports whether the hook runs on the task pool
	// instead of the emitting thread.
	InvokeInBackground() bool
	// RequiredHooks lists hooks this one depends on; they are attached
	// implicitly and invoked before this hook within a shared target.
	RequiredHooks() []Hook
	// RequiredRegistryEntries lists the match identifiers snapshotted for
	// background invocation.
	RequiredRegistryEntries() []string
	// FunctionallyEquals reports whether the other hook produces the same
	// observable effect. Must be reflexive and symmetric.
	FunctionallyEquals(other Hook) bool
	// Invoke runs the hook against the given registry and resolver.
	Invoke(reg *registry.Registry, resolver *registry.Resolver) error
}

// OperatorAware hooks receive their operator back-reference immediately
// before invocation.
type OperatorAware interface {
	SetOperator(operator any)
}

// Validate checks a hook at attach time: schedule sanity, parseable
// required registry entries, and an acyclic required-hook graph.
func Validate(h Hook) error {
	if h == nil {
		return fmt.Errorf("%w: nil hook", ErrInvalidHook)
	}
	if err := h.Step().validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHook, err)
	}
	for _, entry := range h.RequiredRegistryEntries() {
		if _, err := registry.ParseMatchIdentifier(entry); err != nil {
			return fmt.Errorf("%w: required registry entry: %v", ErrInvalidHook, err)
		}
	}
	if err := checkRequiredCycle(h, map[Hook]bool{}, map[Hook]bool{}); err != nil {
		return err
	}
	return nil
}

func checkRequiredCycle(h Hook, visiting, done map[Hook]bool) error {
	if done[h] {
		return nil
	}
	if visiting[h] {
		return fmt.Errorf("%w: required-hook cycle through %T", ErrInvalidHook, h)
	}
	visiting[h] = true
	for _, required := range h.RequiredHooks() {
		if required == nil {
			return fmt.Errorf("%w: nil required hook on %T", ErrInvalidHook, h)
		}
		if err := checkRequiredCycle(required, visiting, done); err != nil {
			return err
		}
	}
	delete(visiting, h)
	done[h] = true
	return nil
}
