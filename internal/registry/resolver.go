package registry

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// A match identifier is a dotted path. Each segment may contain the wildcard
// '*' (any run of characters) and may carry a tag predicate '*<t1,t2>' that
// restricts which sub-registries the walk descends into at that level.
type segment struct {
	raw          string
	re           *regexp.Regexp
	tags         []string
	unrestricted bool
}

// ParseMatchIdentifier compiles a match identifier into its per-level
// segments. Malformed tag predicates are rejected.
func ParseMatchIdentifier(identifier string) ([]segment, error) {
	if identifier == "" {
		return nil, fmt.Errorf("match identifier is empty")
	}
	parts := strings.Split(identifier, ".")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("match identifier %q: %w", identifier, err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func parseSegment(raw string) (segment, error) {
	if raw == "" {
		return segment{}, fmt.Errorf("empty segment")
	}
	pattern := raw
	var tags []string

	open := strings.IndexByte(raw, '<')
	end := strings.IndexByte(raw, '>')
	switch {
	case open < 0 && end < 0:
	case open < 0 || end < open:
		return segment{}, fmt.Errorf("malformed tag predicate in segment %q", raw)
	case end != len(raw)-1:
		return segment{}, fmt.Errorf("unclosed tag predicate in segment %q", raw)
	default:
		pattern = raw[:open]
		for _, tag := range strings.Split(raw[open+1:end], ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				return segment{}, fmt.Errorf("empty tag in segment %q", raw)
			}
			tags = append(tags, tag)
		}
	}

	re, err := regexp.Compile("^" + wildcardToRegexp(pattern) + "$")
	if err != nil {
		return segment{}, fmt.Errorf("compile segment %q: %w", raw, err)
	}
	return segment{
		raw:          raw,
		re:           re,
		tags:         tags,
		unrestricted: pattern == "*" && len(tags) == 0,
	}, nil
}

func wildcardToRegexp(pattern string) string {
	pieces := strings.Split(pattern, "*")
	quoted := make([]string, len(pieces))
	for i, piece := range pieces {
		quoted[i] = regexp.QuoteMeta(piece)
	}
	return strings.Join(quoted, ".*")
}

// Match is a single resolution result: the registry owning the matched key.
type Match struct {
	Identifier string
	Registry   *Registry
	Key        string
}

// unmatchedPrefix records a registry reached at the final level whose local
// segment matched no key. ResolveSet uses it to create missing entries.
type unmatchedPrefix struct {
	registry *Registry
	segment  segment
}

type resolved struct {
	identifier string
	matches    []Match
	referred   map[*Registry]struct{}
	unmatched  []unmatchedPrefix
	cacheable  bool
}

// Resolver binds to a root registry and answers match-identifier lookups,
// caching results until a hierarchy change touches a referred registry.
type Resolver struct {
	root *Registry

	mu      sync.Mutex
	cache   map[string]*resolved
	pending []*Registry
}

func NewResolver(root *Registry) *Resolver {
	if root == nil {
		root = New()
	}
	r := &Resolver{
		root:  root,
		cache: make(map[string]*resolved),
	}
	root.AddHierarchyListener(func(_ string, previous, next *Registry) {
		r.mu.Lock()
		if previous != nil {
			r.pending = append(r.pending, previous)
		}
		if next != nil {
			r.pending = append(r.pending, next)
		}
		r.mu.Unlock()
	})
	return r
}

func (r *Resolver) Root() *Registry {
	return r.root
}

// Resolve returns every (registry, key) pair the identifier matches.
func (r *Resolver) Resolve(identifier string) ([]Match, error) {
	result, err := r.resolve(identifier)
	if err != nil {
		return nil, err
	}
	return append([]Match(nil), result.matches...), nil
}

// ResolveGet returns the values of every match, in match order.
func (r *Resolver) ResolveGet(identifier string) ([]any, error) {
	result, err := r.resolve(identifier)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(result.matches))
	for _, match := range result.matches {
		if value, ok := match.Registry.Get(match.Key); ok {
			values = append(values, value)
		}
	}
	return values, nil
}

// ResolveGetSingle returns the value of the first match and fails with
// ErrNotFound when the identifier matches nothing.
func (r *Resolver) ResolveGetSingle(identifier string) (any, error) {
	result, err := r.resolve(identifier)
	if err != nil {
		return nil, err
	}
	for _, match := range result.matches {
		if value, ok := match.Registry.Get(match.Key); ok {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
}

// ResolveSet writes value into every matched entry. When nothing matches,
// missing literal entries are created under the recorded terminal prefixes.
func (r *Resolver) ResolveSet(identifier string, value any) error {
	result, err := r.resolve(identifier)
	if err != nil {
		return err
	}
	if len(result.matches) > 0 {
		for _, match := range result.matches {
			if err := match.Registry.Set(match.Key, value); err != nil {
				return err
			}
		}
		return nil
	}
	created := false
	for _, prefix := range result.unmatched {
		if strings.ContainsAny(prefix.segment.raw, "*<") {
			continue
		}
		if err := prefix.registry.Set(prefix.segment.raw, value); err != nil {
			return err
		}
		created = true
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrNotFound, identifier)
	}
	r.invalidate(identifier)
	return nil
}

func (r *Resolver) invalidate(identifier string) {
	r.mu.Lock()
	delete(r.cache, identifier)
	r.mu.Unlock()
}

func (r *Resolver) resolve(identifier string) (*resolved, error) {
	r.mu.Lock()
	r.drainPendingLocked()
	if cached, ok := r.cache[identifier]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	segments, err := ParseMatchIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	result := &resolved{
		identifier: identifier,
		referred:   make(map[*Registry]struct{}),
	}
	walk(r.root, segments, 0, "", result)
	last := segments[len(segments)-1]
	result.cacheable = len(result.matches) > 0 && !last.unrestricted

	if result.cacheable {
		r.mu.Lock()
		r.drainPendingLocked()
		r.cache[identifier] = result
		r.mu.Unlock()
	}
	return result, nil
}

// drainPendingLocked applies queued hierarchy-change notifications, dropping
// every cached result whose referred set contains a replaced registry.
func (r *Resolver) drainPendingLocked() {
	if len(r.pending) == 0 {
		return
	}
	for key, cached := range r.cache {
		for _, changed := range r.pending {
			if _, ok := cached.referred[changed]; ok {
				delete(r.cache, key)
				break
			}
		}
	}
	r.pending = r.pending[:0]
}

func walk(reg *Registry, segments []segment, level int, prefix string, result *resolved) {
	seg := segments[level]
	lastLevel := level == len(segments)-1

	matchedAny := false
	for _, key := range reg.Keys() {
		if !seg.re.MatchString(key) {
			continue
		}
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if lastLevel {
			matchedAny = true
			result.matches = append(result.matches, Match{
				Identifier: full,
				Registry:   reg,
				Key:        key,
			})
			for ancestor := reg; ancestor != nil; ancestor = ancestor.Parent() {
				result.referred[ancestor] = struct{}{}
			}
			continue
		}
		value, ok := reg.Get(key)
		if !ok {
			continue
		}
		child, ok := value.(*Registry)
		if !ok {
			continue
		}
		if len(seg.tags) > 0 && !child.HasTags(seg.tags...) {
			continue
		}
		matchedAny = true
		walk(child, segments, level+1, full, result)
	}

	if lastLevel && !matchedAny {
		result.unmatched = append(result.unmatched, unmatchedPrefix{registry: reg, segment: seg})
	}
}
