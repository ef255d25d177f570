// Package element defines the core content model shared by the ingestion and
// query pipelines.
//
// A Document is one source file. Parsing splits it into Elements: typed units
// of content (text paragraph, image, table, title) with page position and a
// single fixed-dimension embedding. Elements are written once during
// ingestion and are read-only afterward.
package element

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an extracted element.
type Type string

// Element types produced by the parser.
const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeTable Type = "table"
	TypeTitle Type = "title"
)

// Valid reports whether t is one of the known element types.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeTable, TypeTitle:
		return true
	}
	return false
}

// BBox is an element's bounding box on its page, in page coordinates.
type BBox struct {
	Left   float64 `json:"l"`
	Top    float64 `json:"t"`
	Right  float64 `json:"r"`
	Bottom float64 `json:"b"`
}

// Document represents one source file registered by ingestion.
// Immutable once processing completes; the query path never mutates it.
type Document struct {
	ID        uuid.UUID
	Filename  string
	Path      string
	Parsed    bool
	PageCount int
}

// Element is one extracted unit of document content.
//
// Invariant: exactly one Type, and exactly one Embedding whose length matches
// the deployment's configured vector dimension. Content holds text for
// text/table/title elements; ImageData holds the raw image payload for image
// elements (Content may then carry the vision model's description).
type Element struct {
	ID        uuid.UUID
	SourceDoc string
	Type      Type
	Page      int
	BBox      BBox
	Content   string
	ImageData []byte
	Embedding []float32
	Analysis  map[string]string
	Metadata  map[string]string
	CreatedAt time.Time
}

// HasImage reports whether the element carries an image payload.
func (e *Element) HasImage() bool {
	return e.Type == TypeImage && len(e.ImageData) > 0
}

// EmbeddingText returns the text that should be embedded for this element.
// Image elements embed their vision analysis description rather than raw
// pixels, keeping every element in the same text embedding space.
func (e *Element) EmbeddingText() string {
	if e.Type == TypeImage {
		if desc, ok := e.Analysis["description"]; ok && desc != "" {
			return desc
		}
	}
	return e.Content
}
