package graph

// Entity is a knowledge-graph node: a domain concept (weapon system,
// procedure, ammunition, publication, ...) identified by a domain key.
// Identity is the key, not a surrogate ID: re-ingesting overlapping
// documents merges into the same node instead of duplicating it.
type Entity struct {
	Key        string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship is a directed, typed edge between two entities, carrying the
// provenance of the element it was extracted from.
type Relationship struct {
	SourceKey string `json:"source"`
	TargetKey string `json:"target"`
	Type      string `json:"type"`
	SourceDoc string `json:"-"`
	Page      int    `json:"-"`
}

// Connection is one edge out of (or into) a matched entity.
type Connection struct {
	Relation string
	Target   Entity
}

// EntityContext is one matched entity with its one-hop neighborhood.
// ConnectionCount over a slice of these is the number of
// (entity, relation, entity) triples available to the response generator.
type EntityContext struct {
	Entity      Entity
	Connections []Connection
}

// TripleCount returns the total number of one-hop triples in the contexts.
func TripleCount(contexts []EntityContext) int {
	n := 0
	for i := range contexts {
		n += len(contexts[i].Connections)
	}
	return n
}
