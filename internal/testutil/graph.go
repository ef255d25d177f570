package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/fagpt/fagpt/internal/graph"
)

// FakeGraph is an in-memory knowledge-graph store. It implements the
// writer interface used by ingestion and the reader interface used by the
// query pipeline, with the same merge-by-key semantics as the real store.
//
// Thread-safe for concurrent use.
type FakeGraph struct {
	mu       sync.Mutex
	entities map[string]graph.Entity
	edges    []graph.Relationship
	FailWith error // when set, every method fails with this error
}

// NewFakeGraph creates an empty in-memory graph.
func NewFakeGraph() *FakeGraph {
	return &FakeGraph{entities: make(map[string]graph.Entity)}
}

// UpsertEntity merges an entity by key.
func (f *FakeGraph) UpsertEntity(_ context.Context, e graph.Entity, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	existing, ok := f.entities[e.Key]
	if !ok {
		f.entities[e.Key] = e
		return nil
	}
	if existing.Properties == nil {
		existing.Properties = make(map[string]any)
	}
	for k, v := range e.Properties {
		existing.Properties[k] = v
	}
	if e.Type != "" {
		existing.Type = e.Type
	}
	f.entities[e.Key] = existing
	return nil
}

// UpsertRelationship records an edge; duplicates by (source, target, type)
// collapse to one.
func (f *FakeGraph) UpsertRelationship(_ context.Context, r graph.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	for _, e := range f.edges {
		if e.SourceKey == r.SourceKey && e.TargetKey == r.TargetKey && e.Type == r.Type {
			return nil
		}
	}
	f.edges = append(f.edges, r)
	return nil
}

// Neighborhood returns entities whose key contains term, case-insensitive,
// with their one-hop connections in both directions.
func (f *FakeGraph) Neighborhood(_ context.Context, term string, limit int) ([]graph.EntityContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	if limit <= 0 {
		limit = 10
	}

	var contexts []graph.EntityContext
	lower := strings.ToLower(term)
	for key, ent := range f.entities {
		if !strings.Contains(strings.ToLower(key), lower) {
			continue
		}
		ec := graph.EntityContext{Entity: ent}
		for _, edge := range f.edges {
			switch key {
			case edge.SourceKey:
				ec.Connections = append(ec.Connections, graph.Connection{
					Relation: edge.Type,
					Target:   f.entities[edge.TargetKey],
				})
			case edge.TargetKey:
				ec.Connections = append(ec.Connections, graph.Connection{
					Relation: edge.Type,
					Target:   f.entities[edge.SourceKey],
				})
			}
		}
		contexts = append(contexts, ec)
		if len(contexts) >= limit {
			break
		}
	}
	return contexts, nil
}

// CountEntities returns the number of stored entities.
func (f *FakeGraph) CountEntities(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return 0, f.FailWith
	}
	return int64(len(f.entities)), nil
}

// Clear removes all entities and edges.
func (f *FakeGraph) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.entities = make(map[string]graph.Entity)
	f.edges = nil
	return nil
}

// Entity returns a stored entity and whether it exists.
func (f *FakeGraph) Entity(key string) (graph.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[key]
	return e, ok
}

// EdgeCount returns the number of stored relationships.
func (f *FakeGraph) EdgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edges)
}
