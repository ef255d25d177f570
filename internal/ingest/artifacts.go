package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fagpt/fagpt/internal/element"
)

// writeArtifacts exports a document's extracted elements to disk for
// inspection: images as files, everything else in one elements.json.
// Artifacts are a debugging aid; the store is the source of truth, so
// callers treat failures here as warnings.
func writeArtifacts(dir string, doc element.Document, elements []element.Element) error {
	docDir := filepath.Join(dir, sanitizeDirName(doc.Filename))
	if err := os.MkdirAll(docDir, 0o750); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	type record struct {
		ID       string            `json:"id"`
		Type     element.Type      `json:"type"`
		Page     int               `json:"page"`
		BBox     element.BBox      `json:"bbox"`
		Content  string            `json:"content,omitempty"`
		Analysis map[string]string `json:"analysis,omitempty"`
		Image    string            `json:"image,omitempty"`
	}

	records := make([]record, 0, len(elements))
	for i := range elements {
		el := &elements[i]
		rec := record{
			ID:       el.ID.String(),
			Type:     el.Type,
			Page:     el.Page,
			BBox:     el.BBox,
			Content:  el.Content,
			Analysis: el.Analysis,
		}
		if el.HasImage() {
			name := fmt.Sprintf("page%03d_%s.png", el.Page, el.ID)
			if err := os.WriteFile(filepath.Join(docDir, name), el.ImageData, 0o640); err != nil {
				return fmt.Errorf("writing image artifact: %w", err)
			}
			rec.Image = name
		}
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling elements: %w", err)
	}
	if err := os.WriteFile(filepath.Join(docDir, "elements.json"), data, 0o640); err != nil {
		return fmt.Errorf("writing elements.json: %w", err)
	}
	return nil
}

// quarantine moves an unprocessable file into the quarantine directory.
func quarantine(dir, path string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating quarantine dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("moving %s to quarantine: %w", path, err)
	}
	return nil
}

// sanitizeDirName makes a filename safe as a directory component.
func sanitizeDirName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
}
