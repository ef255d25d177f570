package query

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/fagpt/fagpt/internal/element"
	"github.com/fagpt/fagpt/internal/graph"
)

// noContentResponse is returned without a model call when retrieval finds
// nothing. Fabricating an answer from an empty context would be worse than
// admitting the gap.
const noContentResponse = "No relevant information was found in the ingested documents for this question."

// generationPrompt wraps the assembled context and the question.
const generationPrompt = `Answer the question using only the document excerpts and knowledge graph facts below. Cite the source document when you state a fact. If the excerpts do not contain the answer, say so.

%s

Question: %s

Answer:`

// Metadata is the contract surface reported with every answer. UI and
// logging layers depend on these fields.
type Metadata struct {
	Intent         Intent `json:"intent"`
	RetrievedCount int    `json:"retrieved_count"`
	TripleCount    int    `json:"kg_triples"`
	GraphDegraded  bool   `json:"graph_degraded,omitempty"`
}

// Answer is the query pipeline's result.
type Answer struct {
	Text     string
	Images   [][]byte // image payloads of image candidates, first is primary
	Metadata Metadata
}

// generate composes the final prompt from the reranked candidates and graph
// context and calls the generation model. Image candidates' payloads ride
// along: the first is attached to the model call, all are returned to the
// caller for display.
func (e *Engine) generate(ctx context.Context, queryText string, candidates []Candidate, graphCtx []graph.EntityContext) (string, [][]byte, error) {
	contextText := buildContext(candidates, graphCtx)

	var images [][]byte
	for i := range candidates {
		if candidates[i].Element.HasImage() {
			images = append(images, candidates[i].Element.ImageData)
		}
	}

	parts := []*ai.Part{}
	if len(images) > 0 {
		// One image per call keeps local vision models reliable; the
		// rest are still surfaced to the caller.
		part, err := imagePart(images[0])
		if err == nil {
			parts = append(parts, part)
		} else {
			e.logger.Warn("skipping image attachment", "error", err)
		}
	}
	parts = append(parts, ai.NewTextPart(fmt.Sprintf(generationPrompt, contextText, queryText)))

	modelName := e.modelName
	if len(parts) > 1 {
		modelName = e.visionModel
	}

	if e.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.inferenceTimeout)
		defer cancel()
	}

	resp, err := genkit.Generate(ctx, e.g,
		ai.WithModelName(modelName),
		ai.WithMessages(ai.NewUserMessage(parts...)),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: e.temperature}),
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", nil, fmt.Errorf("%w: model returned empty response", ErrGeneration)
	}
	return text, images, nil
}

// buildContext renders candidates and graph triples into the prompt's
// context block. Each excerpt is tagged with its type and source document
// so the model can cite provenance.
func buildContext(candidates []Candidate, graphCtx []graph.EntityContext) string {
	var sb strings.Builder

	sb.WriteString("Document excerpts:\n")
	for i := range candidates {
		el := &candidates[i].Element
		content := el.Content
		if el.Type == element.TypeImage {
			if desc := el.Analysis["description"]; desc != "" {
				content = desc
			}
		}
		fmt.Fprintf(&sb, "[%s from %s, page %d]\n%s\n\n",
			strings.ToUpper(string(el.Type)), el.SourceDoc, el.Page, content)
	}

	if len(graphCtx) > 0 {
		sb.WriteString("Knowledge graph facts:\n")
		for _, ec := range graphCtx {
			for _, conn := range ec.Connections {
				fmt.Fprintf(&sb, "- %s %s %s\n", ec.Entity.Key, conn.Relation, conn.Target.Key)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// imagePart wraps raw image bytes as a data-URL media part.
func imagePart(data []byte) (*ai.Part, error) {
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("payload is not an image (detected %s)", mediaType)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return ai.NewMediaPart(mediaType, "data:"+mediaType+";base64,"+encoded), nil
}
