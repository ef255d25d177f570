package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/fagpt/fagpt/internal/element"
	"github.com/fagpt/fagpt/internal/graph"
)

// minExtractContentLength is the minimum element content length worth an
// extraction call. Short fragments (captions, stray headings) produce noise
// entities and waste inference time.
const minExtractContentLength = 100

// maxExtractResponseBytes limits LLM response size before JSON parsing.
const maxExtractResponseBytes = 64 * 1024

// extractionPrompt instructs the LLM to mine entities and relationships
// from one document element. Types must be bare identifiers because they
// become graph labels.
const extractionPrompt = `You are a knowledge extraction system for technical documents. Extract the entities and relationships stated in the text below.

Rules:
- Extract only facts stated in the text; do not infer or generalize
- Entity "id" is the entity's canonical name as written in the text
- Entity "type" is a single word such as Equipment, Component, Specification, Procedure, Organization, Measurement
- Relationship "type" is an uppercase identifier such as HAS_COMPONENT, HAS_SPEC, PART_OF, USES, MEASURED_IN
- Every relationship must connect two extracted entities by their ids
- Types contain only letters, digits and underscores

Output format: a single JSON object.
Example: {"entities": [{"id": "M777 Howitzer", "type": "Equipment", "properties": {"caliber": "155mm"}}], "relationships": [{"source": "M777 Howitzer", "target": "155mm projectile", "type": "USES"}]}

Text:
%s

Extract as JSON:`

// extraction is the shape of one LLM extraction response.
type extraction struct {
	Entities      []graph.Entity       `json:"entities"`
	Relationships []graph.Relationship `json:"relationships"`
}

// extractGraph mines one element's content for knowledge-graph facts.
// Only text-bearing elements with enough content are worth a call; others
// return empty without touching the model.
func extractGraph(ctx context.Context, g *genkit.Genkit, modelName string, el *element.Element) ([]graph.Entity, []graph.Relationship, error) {
	if el.Type != element.TypeText && el.Type != element.TypeTable {
		return nil, nil, nil
	}
	if len(el.Content) < minExtractContentLength {
		return nil, nil, nil
	}

	resp, err := genkit.Generate(ctx, g,
		ai.WithModelName(modelName),
		ai.WithPrompt(fmt.Sprintf(extractionPrompt, el.Content)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("generating extraction: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, nil, nil
	}
	if len(text) > maxExtractResponseBytes {
		return nil, nil, fmt.Errorf("extraction response too large: %d bytes", len(text))
	}
	text = stripCodeFences(text)

	var out extraction
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, nil, fmt.Errorf("parsing extraction result: %w (raw: %q)", err, truncate(text, 200))
	}

	entities := out.Entities[:0]
	known := make(map[string]bool, len(out.Entities))
	for _, e := range out.Entities {
		e.Key = strings.TrimSpace(e.Key)
		if e.Key == "" || known[e.Key] {
			continue
		}
		known[e.Key] = true
		entities = append(entities, e)
	}

	rels := out.Relationships[:0]
	for _, r := range out.Relationships {
		// Drop dangling relationships; endpoints must come from this element.
		if !known[r.SourceKey] || !known[r.TargetKey] {
			continue
		}
		r.SourceDoc = el.SourceDoc
		r.Page = el.Page
		rels = append(rels, r)
	}

	return entities, rels, nil
}

// stripCodeFences removes ```json ... ``` wrapping from LLM output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
