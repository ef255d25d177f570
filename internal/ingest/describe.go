package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/fagpt/fagpt/internal/element"
)

// describePrompt asks the vision model for a retrieval-oriented description.
// The description becomes the image's embedding text, so it must name what
// the figure shows rather than how it looks.
const describePrompt = `Describe this figure from a technical document for a search index. Name the equipment, components, labels and measurements it shows. Two to four sentences, no preamble.`

// describeImage runs the vision model over one image element and stores the
// resulting description in the element's analysis map. Elements without image
// payloads are left untouched.
func describeImage(ctx context.Context, g *genkit.Genkit, visionModel string, el *element.Element) error {
	if !el.HasImage() {
		return nil
	}

	part, err := imagePart(el.ImageData)
	if err != nil {
		return fmt.Errorf("element %s: %w", el.ID, err)
	}

	resp, err := genkit.Generate(ctx, g,
		ai.WithModelName(visionModel),
		ai.WithMessages(ai.NewUserMessage(part, ai.NewTextPart(describePrompt))),
	)
	if err != nil {
		return fmt.Errorf("describing element %s: %w", el.ID, err)
	}

	desc := strings.TrimSpace(resp.Text())
	if desc == "" {
		return fmt.Errorf("describing element %s: empty description", el.ID)
	}

	if el.Analysis == nil {
		el.Analysis = make(map[string]string, 1)
	}
	el.Analysis["description"] = desc
	return nil
}

// imagePart wraps raw image bytes as a data-URL media part.
// Content type comes from magic bytes, not metadata.
func imagePart(data []byte) (*ai.Part, error) {
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("payload is not an image (detected %s)", mediaType)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return ai.NewMediaPart(mediaType, "data:"+mediaType+";base64,"+encoded), nil
}
