package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileExt is the extension of mapping files; the base name is the source entity.
const FileExt = ".yaml"

// Registry answers schema lookups by source or target entity name.
// It is safe for concurrent use; Put replaces a definition atomically.
type Registry struct {
	mu       sync.RWMutex
	bySource map[string]*Schema
	byTarget map[string]*Schema
	casters  CasterSet
}

// NewRegistry creates an empty registry validating casters against set.
func NewRegistry(set CasterSet) *Registry {
	return &Registry{
		bySource: make(map[string]*Schema),
		byTarget: make(map[string]*Schema),
		casters:  set,
	}
}

// LoadDir loads {dir}/{entity}.yaml for every entity. A missing or invalid
// definition fails the whole load.
func LoadDir(dir, database string, entities []string, set CasterSet) (*Registry, error) {
	r := NewRegistry(set)
	for _, entity := range entities {
		path := filepath.Join(dir, entity+FileExt)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrSchemaNotFound, entity, path)
		}
		s, err := LoadFile(path, entity, database)
		if err != nil {
			return nil, err
		}
		if err := r.Put(s.WithVersioning()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Put validates and stores s, replacing any previous definition of the same source.
func (r *Registry) Put(s *Schema) error {
	if err := s.Validate(r.casters); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if other, ok := r.byTarget[s.Target]; ok && other.Source != s.Source {
		return fmt.Errorf("table %s is already mapped from %s", s.Target, other.Source)
	}
	if prev, ok := r.bySource[s.Source]; ok {
		delete(r.byTarget, prev.Target)
	}
	r.bySource[s.Source] = s
	r.byTarget[s.Target] = s
	return nil
}

// BySource returns the schema of a source entity.
func (r *Registry) BySource(entity string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.bySource[entity]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: source %s", ErrSchemaNotFound, entity)
}

// ByTarget returns the schema of a target table.
func (r *Registry) ByTarget(table string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byTarget[table]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: table %s", ErrSchemaNotFound, table)
}

// Sources returns the registered source entities, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySource))
	for name := range r.bySource {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Targets returns the registered target tables, sorted.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTarget))
	for name := range r.byTarget {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AllowedEntities returns sync minus exclude, keeping the order of sync.
func AllowedEntities(sync, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	out := make([]string, 0, len(sync))
	for _, e := range sync {
		if _, ok := skip[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// CheckAllowed returns ErrEntityNotAllowed for any name outside allowed.
func CheckAllowed(names, allowed []string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, n := range names {
		if _, ok := set[n]; !ok {
			return fmt.Errorf("%w: %s (allowed: %v)", ErrEntityNotAllowed, n, allowed)
		}
	}
	return nil
}
