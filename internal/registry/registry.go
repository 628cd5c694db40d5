// Package registry implements the hierarchical, tagged key/value store that
// training components use as their invocation context, together with a
// wildcard- and tag-aware resolver over it.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

var (
	ErrNotFound     = errors.New("registry entry not found")
	ErrTypeMismatch = errors.New("registry value type mismatch")
)

// HierarchyListener observes replacement of child registries. previous and
// next may be nil when a plain value takes part in the replacement.
type HierarchyListener func(identifier string, previous, next *Registry)

type entry struct {
	value any
	typ   reflect.Type
}

// Registry is a mapping from string keys to values, where a value may itself
// be a registry, forming a tree. Each registry carries a set of tags naming
// its role and a parent back-edge. The parent edge is a lookup only; a
// registry never owns its parent.
type Registry struct {
	mu        sync.RWMutex
	tags      map[string]struct{}
	parent    *Registry
	entries   map[string]entry
	listeners []HierarchyListener
}

func New(tags ...string) *Registry {
	tagSet := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
	}
	return &Registry{
		tags:    tagSet,
		entries: make(map[string]entry),
	}
}

// Get returns the value stored under key.
func (r *Registry) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. If the key was previously associated with a
// type, the value must be assignable to it.
func (r *Registry) Set(key string, value any) error {
	return r.set(key, value, nil)
}

// SetTyped stores value under key and associates the key with typ. Future
// writes whose dynamic type is not assignable to typ are rejected.
func (r *Registry) SetTyped(key string, value any, typ reflect.Type) error {
	if typ == nil {
		return fmt.Errorf("associated type is required")
	}
	return r.set(key, value, typ)
}

func (r *Registry) set(key string, value any, typ reflect.Type) error {
	r.mu.Lock()

	prev, existed := r.entries[key]
	associated := typ
	if associated == nil && existed {
		associated = prev.typ
	}
	if associated != nil && value != nil {
		if !reflect.TypeOf(value).AssignableTo(associated) {
			r.mu.Unlock()
			return fmt.Errorf("%w: key %s wants %s, got %T", ErrTypeMismatch, key, associated, value)
		}
	}
	r.entries[key] = entry{value: value, typ: associated}

	prevChild, _ := prev.value.(*Registry)
	nextChild, _ := value.(*Registry)
	if nextChild != nil {
		nextChild.setParent(r)
	}
	var listeners []HierarchyListener
	if prevChild != nil || nextChild != nil {
		listeners = append(listeners, r.listeners...)
	}
	parent := r.parent
	r.mu.Unlock()

	if prevChild != nil || nextChild != nil {
		notifyHierarchyChange(listeners, parent, key, prevChild, nextChild)
	}
	return nil
}

// SetLink stores child under key without adopting it: the child keeps its
// existing parent edge. This grafts a live sub-registry into a detached
// tree, so a background snapshot can expose a shared channel that still
// belongs to its original hierarchy.
func (r *Registry) SetLink(key string, child *Registry) error {
	if child == nil {
		return fmt.Errorf("linked child is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.entries[key]
	if existed && prev.typ != nil {
		if !reflect.TypeOf(child).AssignableTo(prev.typ) {
			return fmt.Errorf("%w: key %s wants %s, got %T", ErrTypeMismatch, key, prev.typ, child)
		}
	}
	r.entries[key] = entry{value: child, typ: prev.typ}
	return nil
}

// Remove deletes key. Removing a child registry notifies hierarchy
// listeners with a nil replacement.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	prev, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, key)

	prevChild, _ := prev.value.(*Registry)
	var listeners []HierarchyListener
	if prevChild != nil {
		listeners = append(listeners, r.listeners...)
	}
	parent := r.parent
	r.mu.Unlock()

	if prevChild != nil {
		notifyHierarchyChange(listeners, parent, key, prevChild, nil)
	}
	return true
}

// notifyHierarchyChange fires the local listeners and bubbles the change up
// the parent chain so that a resolver bound to the root observes changes in
// any sub-registry.
func notifyHierarchyChange(listeners []HierarchyListener, parent *Registry, identifier string, previous, next *Registry) {
	for _, listener := range listeners {
		listener(identifier, previous, next)
	}
	for parent != nil {
		parent.mu.RLock()
		up := append([]HierarchyListener(nil), parent.listeners...)
		grand := parent.parent
		parent.mu.RUnlock()
		for _, listener := range up {
			listener(identifier, previous, next)
		}
		parent = grand
	}
}

func (r *Registry) Contains(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[key]
	return ok
}

// Keys returns a sorted snapshot of the keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := maps.Keys(r.entries)
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Values returns a snapshot of the stored values in key order.
func (r *Registry) Values() []any {
	r.mu.RLock()
	keys := maps.Keys(r.entries)
	entries := make(map[string]entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	values := make([]any, 0, len(keys))
	for _, key := range keys {
		values = append(values, entries[key].value)
	}
	return values
}

func (r *Registry) Parent() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parent
}

func (r *Registry) setParent(parent *Registry) {
	r.mu.Lock()
	r.parent = parent
	r.mu.Unlock()
}

// Tags returns a sorted snapshot of the registry's tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	tags := maps.Keys(r.tags)
	r.mu.RUnlock()

	sort.Strings(tags)
	return tags
}

// HasTags reports whether the registry's tag set is a superset of want.
func (r *Registry) HasTags(want ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tag := range want {
		if _, ok := r.tags[tag]; !ok {
			return false
		}
	}
	return true
}

func (r *Registry) AddHierarchyListener(listener HierarchyListener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, listener)
	r.mu.Unlock()
}

// Child returns the sub-registry stored under key, if any.
func (r *Registry) Child(key string) (*Registry, bool) {
	value, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	child, ok := value.(*Registry)
	return child, ok
}
