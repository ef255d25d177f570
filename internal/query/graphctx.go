package query

import (
	"context"

	"github.com/fagpt/fagpt/internal/graph"
)

// GraphReader is the knowledge-graph surface the query pipeline needs.
type GraphReader interface {
	Neighborhood(ctx context.Context, term string, limit int) ([]graph.EntityContext, error)
}

// fetchGraphContext looks up each key entity's one-hop neighborhood and
// merges the results, deduplicated by entity key. A graph store failure
// degrades to empty context: the query still answers from retrieved
// elements, and the metadata records the degradation.
func (e *Engine) fetchGraphContext(ctx context.Context, intent Intent) (contexts []graph.EntityContext, degraded bool) {
	if !intent.NeedsGraph || e.graph == nil {
		return nil, false
	}

	seen := make(map[string]bool)
	for _, term := range intent.KeyEntities {
		found, err := e.graph.Neighborhood(ctx, term, e.graphEntityLimit)
		if err != nil {
			e.logger.Warn("graph context unavailable, answering without it",
				"entity", term,
				"error", err)
			return nil, true
		}
		for _, ec := range found {
			if seen[ec.Entity.Key] {
				continue
			}
			seen[ec.Entity.Key] = true
			contexts = append(contexts, ec)
			if len(contexts) >= e.graphEntityLimit {
				return contexts, false
			}
		}
	}
	return contexts, false
}
