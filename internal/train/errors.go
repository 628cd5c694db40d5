// Package train implements the data-parallel training operator: worker
// lifecycle, epoch and iteration progress barriers, parameter merging, and
// the two-tier hook scheduler.
package train

import "errors"

var (
	// ErrBadState rejects a lifecycle transition that is not legal from the
	// operator's current state.
	ErrBadState = errors.New("bad operator state")
	// ErrRequiredByDependents rejects detaching a hook that other attached
	// hooks still require.
	ErrRequiredByDependents = errors.New("hook required by dependents")
	// ErrTooManyPushers reports more progress pushes in one epoch than there
	// are workers.
	ErrTooManyPushers = errors.New("more pushers than workers")
	// ErrUnknownHook reports a lookup for a hook that is not attached.
	ErrUnknownHook = errors.New("unknown hook")
	// ErrUnassignedNetwork reports an operator configured without a network.
	ErrUnassignedNetwork = errors.New("no network assigned")
)
