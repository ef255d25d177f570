package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// IntentType classifies what kind of answer a query wants.
type IntentType string

// Known intent types. The model is asked to pick one; anything else is
// normalized to factual.
const (
	IntentFactual    IntentType = "factual"
	IntentVisual     IntentType = "visual"
	IntentProcedural IntentType = "procedural"
	IntentComparative IntentType = "comparative"
)

// Valid reports whether t is a known intent type.
func (t IntentType) Valid() bool {
	switch t {
	case IntentFactual, IntentVisual, IntentProcedural, IntentComparative:
		return true
	}
	return false
}

// Intent is the analyzed shape of a user query. It steers retrieval
// filtering, graph context fetching and image handling downstream.
type Intent struct {
	Type        IntentType `json:"type"`
	NeedsGraph  bool       `json:"needs_kg"`
	NeedsImages bool       `json:"needs_images"`
	KeyEntities []string   `json:"key_entities"`
}

// DefaultIntent is the fallback when intent analysis fails. Deliberately
// conservative: no graph traversal and no image retrieval on a guess.
func DefaultIntent() Intent {
	return Intent{Type: IntentFactual, KeyEntities: []string{}}
}

// intentPrompt asks for the four-field classification as strict JSON.
const intentPrompt = `Classify this question about technical documents.

Respond with a single JSON object with exactly these fields:
- "type": one of "factual", "visual", "procedural", "comparative"
- "needs_kg": true if answering benefits from entity relationships (components, specifications, part hierarchies)
- "needs_images": true if the answer likely lives in a figure, diagram or photo
- "key_entities": the named entities mentioned in the question, as written

Question: %s

JSON:`

// analyzeIntent classifies the query with one model call, retrying once on
// endpoint failure. A well-formed call with unparseable output returns
// ErrIntentParse; the engine falls back to DefaultIntent.
func analyzeIntent(ctx context.Context, g *genkit.Genkit, modelName, query string) (Intent, error) {
	prompt := fmt.Sprintf(intentPrompt, query)

	resp, err := genkit.Generate(ctx, g,
		ai.WithModelName(modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		// One retry; intent is advisory and transient endpoint hiccups
		// are common with local inference servers.
		resp, err = genkit.Generate(ctx, g,
			ai.WithModelName(modelName),
			ai.WithPrompt(prompt),
		)
		if err != nil {
			return Intent{}, fmt.Errorf("intent inference: %w", err)
		}
	}

	return parseIntent(resp.Text())
}

// parseIntent validates the model's output into a well-formed Intent.
func parseIntent(raw string) (Intent, error) {
	text := stripCodeFences(strings.TrimSpace(raw))
	if text == "" {
		return Intent{}, fmt.Errorf("%w: empty response", ErrIntentParse)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(text), &intent); err != nil {
		return Intent{}, fmt.Errorf("%w: %v (raw: %q)", ErrIntentParse, err, truncate(text, 200))
	}

	intent.Type = IntentType(strings.ToLower(string(intent.Type)))
	if !intent.Type.Valid() {
		intent.Type = IntentFactual
	}
	if intent.KeyEntities == nil {
		intent.KeyEntities = []string{}
	}
	// Drop blank entities; they would match everything in the graph.
	entities := intent.KeyEntities[:0]
	for _, e := range intent.KeyEntities {
		if e = strings.TrimSpace(e); e != "" {
			entities = append(entities, e)
		}
	}
	intent.KeyEntities = entities
	return intent, nil
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
