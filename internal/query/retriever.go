package query

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/fagpt/fagpt/internal/element"
	"github.com/fagpt/fagpt/internal/vectorstore"
)

// visualBoost is added to image candidates' similarity when the query is
// explicitly visual. A boost instead of a text exclusion keeps sparse
// image corpora from producing zero results.
const visualBoost = 0.05

// Candidate is one retrieved element moving through rerank and generation.
type Candidate struct {
	Element    element.Element
	Similarity float64 // cosine similarity from retrieval, with intent boost
	Judgment   float64 // model relevance judgment, set by rerank
	Judged     bool    // false when the judgment call failed
	Final      float64 // combined rank score
}

// Searcher is the vector-store surface retrieval needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error)
}

// retrieve embeds the query and returns the nearest elements as candidates,
// similarity descending. Text-bearing types are always searched; image
// elements join only when the intent asks for them. An empty store or an
// unmatched query returns an empty slice, not an error.
func (e *Engine) retrieve(ctx context.Context, queryText string, intent Intent) ([]Candidate, error) {
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(queryText, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}

	types := []element.Type{element.TypeText, element.TypeTable, element.TypeTitle}
	if intent.NeedsImages || intent.Type == IntentVisual {
		types = append(types, element.TypeImage)
	}

	searchCtx := ctx
	if e.searchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, e.searchTimeout)
		defer cancel()
	}

	results, err := e.search.Search(searchCtx, resp.Embeddings[0].Embedding,
		vectorstore.WithLimit(e.retrieveTopK),
		vectorstore.WithTypes(types...),
	)
	if err != nil {
		return nil, fmt.Errorf("searching elements: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		sim := r.Similarity
		if intent.Type == IntentVisual && r.Element.Type == element.TypeImage {
			sim += visualBoost
		}
		candidates = append(candidates, Candidate{
			Element:    r.Element,
			Similarity: sim,
			Final:      sim,
		})
	}
	return candidates, nil
}
