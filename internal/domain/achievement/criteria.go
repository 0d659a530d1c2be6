package achievement

import (
	"sort"
	"sync"
)

// Predicate is a pure condition over a stats snapshot.
type Predicate func(StatsSnapshot) bool

// Criterion names known to the default registry.
const (
	CriterionSocialButterfly = "social_butterfly"
	CriterionEventOrganizer  = "event_organizer"
	CriterionKnowledgeSharer = "knowledge_sharer"
	CriterionCampusExplorer  = "campus_explorer"
)

// Registry maps criterion names to predicates. New achievements are added by
// registering a predicate and a catalog entry; the evaluator never changes.
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{predicates: make(map[string]Predicate)}
}

// Register adds or replaces a predicate.
func (r *Registry) Register(name string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = p
}

// Has reports whether the name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.predicates[name]
	return ok
}

// Satisfied evaluates the named criterion. Unknown names are never satisfied.
func (r *Registry) Satisfied(name string, stats StatsSnapshot) bool {
	r.mu.RLock()
	p, ok := r.predicates[name]
	r.mu.RUnlock()
	if !ok || p == nil {
		return false
	}
	return p(stats)
}

// Names returns the registered criterion names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.predicates))
	for name := range r.predicates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AtLeast builds a threshold predicate over one counter.
func AtLeast(counter func(StatsSnapshot) int, threshold int) Predicate {
	return func(s StatsSnapshot) bool {
		return counter(s) >= threshold
	}
}

// DefaultRegistry returns a registry with the built-in campus criteria.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CriterionSocialButterfly, AtLeast(func(s StatsSnapshot) int { return s.ConnectionsCount }, 10))
	r.Register(CriterionEventOrganizer, AtLeast(func(s StatsSnapshot) int { return s.EventsCreated }, 5))
	r.Register(CriterionKnowledgeSharer, AtLeast(func(s StatsSnapshot) int { return s.ResourcesUploaded }, 10))
	r.Register(CriterionCampusExplorer, AtLeast(func(s StatsSnapshot) int { return s.EventsAttended }, 20))
	return r
}
