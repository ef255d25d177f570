package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/fagpt/fagpt/internal/element"
	"github.com/fagpt/fagpt/internal/log"
	"github.com/fagpt/fagpt/internal/parse"
	"github.com/fagpt/fagpt/internal/testutil"
)

// fakeParser returns canned elements keyed by filename.
type fakeParser struct {
	elements map[string][]element.Element
	err      error
}

func (f *fakeParser) ParseFile(_ context.Context, path string) (element.Document, []element.Element, error) {
	if f.err != nil {
		return element.Document{}, nil, f.err
	}
	name := filepath.Base(path)
	els, ok := f.elements[name]
	if !ok {
		return element.Document{}, nil, fmt.Errorf("%s: %w", name, parse.ErrNoElements)
	}
	out := make([]element.Element, len(els))
	copy(out, els)
	for i := range out {
		out[i].ID = uuid.New()
		out[i].SourceDoc = name
	}
	return element.Document{ID: uuid.New(), Filename: name, Path: path, Parsed: true, PageCount: 1}, out, nil
}

// fakeVectors records ReplaceDocument calls.
type fakeVectors struct {
	docs    map[string][]element.Element
	cleared bool
	err     error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{docs: make(map[string][]element.Element)}
}

func (f *fakeVectors) ReplaceDocument(_ context.Context, sourceDoc string, elements []element.Element) error {
	if f.err != nil {
		return f.err
	}
	f.docs[sourceDoc] = elements
	return nil
}

func (f *fakeVectors) Clear(_ context.Context) error {
	f.cleared = true
	f.docs = make(map[string][]element.Element)
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	llm      *testutil.MockLLM
	vectors  *fakeVectors
	graph    *testutil.FakeGraph
	dataDir  string
}

func newPipelineFixture(t *testing.T, parser Parser) *pipelineFixture {
	t.Helper()

	g := genkit.Init(context.Background())
	llm := testutil.NewMockLLM("{}")
	llm.Register(g, "mock/text")
	llm.Register(g, "mock/vision")
	llm.AddResponse("describe this figure", "Cutaway diagram of the M777 breech assembly with labeled parts.")
	llm.AddResponse("knowledge extraction system", `{
		"entities": [
			{"id": "M777 Howitzer", "type": "Equipment"},
			{"id": "Maximum Range", "type": "Specification"}
		],
		"relationships": [
			{"source": "M777 Howitzer", "target": "Maximum Range", "type": "HAS_SPEC"}
		]
	}`)

	vectors := newFakeVectors()
	fakeGraph := testutil.NewFakeGraph()
	dataDir := t.TempDir()

	pipeline, err := New(Config{
		Genkit:      g,
		Embedder:    testutil.NewMockEmbedder(8).Define(g),
		Parser:      parser,
		Vectors:     vectors,
		Graph:       fakeGraph,
		ModelName:   "mock/text",
		VisionModel: "mock/vision",
		DataDir:     dataDir,
		Logger:      log.NewNop(),
	})
	if err != nil {
		t.Fatalf("creating pipeline: %v", err)
	}
	return &pipelineFixture{pipeline: pipeline, llm: llm, vectors: vectors, graph: fakeGraph, dataDir: dataDir}
}

// tinyPNG is a real PNG header so content-type detection sees an image.
var tinyPNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func manualElements() []element.Element {
	return []element.Element{
		{Type: element.TypeTitle, Page: 1, Content: "Field Artillery Manual Cannon Gunnery"},
		{Type: element.TypeText, Page: 7, Content: rangeParagraph},
		{Type: element.TypeImage, Page: 8, ImageData: tinyPNG},
	}
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.7 stub"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngestFile(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"tc3-09.81.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)
	path := writePDF(t, t.TempDir(), "tc3-09.81.pdf")

	n, entities, rels, err := fx.pipeline.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 3 {
		t.Errorf("ingested %d elements, want 3", n)
	}
	if entities != 2 || rels != 1 {
		t.Errorf("extraction counts = %d entities, %d relationships, want 2 and 1", entities, rels)
	}

	stored := fx.vectors.docs["tc3-09.81.pdf"]
	if len(stored) != 3 {
		t.Fatalf("stored %d elements, want 3", len(stored))
	}
	for _, el := range stored {
		if len(el.Embedding) != 8 {
			t.Errorf("element %s embedding dim = %d, want 8", el.ID, len(el.Embedding))
		}
	}

	// The image element embeds its vision description.
	var image *element.Element
	for i := range stored {
		if stored[i].Type == element.TypeImage {
			image = &stored[i]
		}
	}
	if image == nil {
		t.Fatal("image element missing from store")
	}
	if image.Analysis["description"] == "" {
		t.Error("image element has no vision description")
	}
	if image.EmbeddingText() != image.Analysis["description"] {
		t.Error("image embedding text is not its description")
	}

	// Graph facts extracted from the long text element.
	if _, ok := fx.graph.Entity("M777 Howitzer"); !ok {
		t.Error("entity M777 Howitzer not written to graph")
	}
	if fx.graph.EdgeCount() != 1 {
		t.Errorf("graph edge count = %d, want 1", fx.graph.EdgeCount())
	}

	// Best-effort artifacts on disk.
	if _, err := os.Stat(filepath.Join(fx.dataDir, "artifacts", "tc3-09.81.pdf", "elements.json")); err != nil {
		t.Errorf("elements.json artifact missing: %v", err)
	}
}

func TestIngestFile_IdempotentEntityUpserts(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"tc3-09.81.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)
	path := writePDF(t, t.TempDir(), "tc3-09.81.pdf")

	ctx := context.Background()
	for range 2 {
		if _, _, _, err := fx.pipeline.IngestFile(ctx, path); err != nil {
			t.Fatalf("IngestFile: %v", err)
		}
	}

	count, err := fx.graph.CountEntities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("entity count after double ingest = %d, want 2", count)
	}
	if fx.graph.EdgeCount() != 1 {
		t.Errorf("edge count after double ingest = %d, want 1", fx.graph.EdgeCount())
	}
	if len(fx.vectors.docs["tc3-09.81.pdf"]) != 3 {
		t.Errorf("stored elements = %d, want 3 (replaced, not appended)", len(fx.vectors.docs["tc3-09.81.pdf"]))
	}
}

func TestIngestFile_GraphFailureDoesNotFailDocument(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"tc3-09.81.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)
	fx.graph.FailWith = errors.New("neo4j unreachable")
	path := writePDF(t, t.TempDir(), "tc3-09.81.pdf")

	n, _, _, err := fx.pipeline.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("graph outage must not fail ingestion: %v", err)
	}
	if n != 3 {
		t.Errorf("ingested %d elements, want 3", n)
	}
	if len(fx.vectors.docs["tc3-09.81.pdf"]) != 3 {
		t.Error("vector store write was lost")
	}
}

func TestIngestFile_FailedDescriptionDropsImage(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"tc3-09.81.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)
	fx.llm.ClearResponses()
	fx.llm.AddError("describe this figure", errors.New("vision model unavailable"))
	fx.llm.AddResponse("knowledge extraction system", `{"entities": [], "relationships": []}`)
	path := writePDF(t, t.TempDir(), "tc3-09.81.pdf")

	n, _, _, err := fx.pipeline.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 2 {
		t.Errorf("ingested %d elements, want 2 (image dropped)", n)
	}
	for _, el := range fx.vectors.docs["tc3-09.81.pdf"] {
		if el.Type == element.TypeImage {
			t.Error("undescribed image element was stored")
		}
	}
}

func TestIngestDir(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"a.pdf": manualElements(),
		"c.pdf": manualElements(),
		// b.pdf parses to nothing and must be quarantined.
	}}
	fx := newPipelineFixture(t, parser)

	dir := t.TempDir()
	writePDF(t, dir, "a.pdf")
	writePDF(t, dir, "b.pdf")
	writePDF(t, dir, "c.pdf")
	writePDF(t, dir, "notes.txt") // ignored: not a PDF

	report, err := fx.pipeline.IngestDir(context.Background(), dir, 0, false)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if report.Documents != 2 {
		t.Errorf("documents = %d, want 2", report.Documents)
	}
	if report.Elements != 6 {
		t.Errorf("elements = %d, want 6", report.Elements)
	}
	if len(report.Quarantined) != 1 {
		t.Fatalf("quarantined = %v, want 1 entry", report.Quarantined)
	}
	if len(report.Failed) != 0 {
		t.Errorf("failed = %v, want none", report.Failed)
	}

	// b.pdf moved out of the input dir into quarantine.
	if _, err := os.Stat(filepath.Join(dir, "b.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Error("b.pdf still present in input directory")
	}
	if _, err := os.Stat(filepath.Join(fx.dataDir, "quarantine", "b.pdf")); err != nil {
		t.Errorf("b.pdf missing from quarantine: %v", err)
	}
}

func TestIngestDir_Limit(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"a.pdf": manualElements(),
		"b.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)

	dir := t.TempDir()
	writePDF(t, dir, "a.pdf")
	writePDF(t, dir, "b.pdf")

	report, err := fx.pipeline.IngestDir(context.Background(), dir, 1, false)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if report.Documents != 1 {
		t.Errorf("documents = %d, want 1", report.Documents)
	}
}

func TestIngestDir_VisionOutageIsNotQuarantined(t *testing.T) {
	// A document whose only elements are images loses everything when the
	// vision model is down. That is an infra failure worth retrying, not
	// the document's fault.
	parser := &fakeParser{elements: map[string][]element.Element{
		"figures.pdf": {{Type: element.TypeImage, Page: 1, ImageData: tinyPNG}},
	}}
	fx := newPipelineFixture(t, parser)
	fx.llm.ClearResponses()
	fx.llm.AddError("describe this figure", errors.New("vision model unavailable"))

	dir := t.TempDir()
	path := writePDF(t, dir, "figures.pdf")

	if _, _, _, err := fx.pipeline.IngestFile(context.Background(), path); !errors.Is(err, ErrNoUsableElements) {
		t.Fatalf("IngestFile err = %v, want ErrNoUsableElements", err)
	}

	report, err := fx.pipeline.IngestDir(context.Background(), dir, 0, false)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if len(report.Failed) != 1 {
		t.Errorf("failed = %v, want 1 entry", report.Failed)
	}
	if len(report.Quarantined) != 0 {
		t.Errorf("quarantined = %v, want none", report.Quarantined)
	}
	// The file stays put for a later retry.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("figures.pdf was moved out of the input directory: %v", err)
	}
}

func TestIngestDir_StopOnError(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"a.pdf": manualElements(),
		// b.pdf parses to nothing.
		"c.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)

	dir := t.TempDir()
	writePDF(t, dir, "a.pdf")
	writePDF(t, dir, "b.pdf")
	writePDF(t, dir, "c.pdf")

	report, err := fx.pipeline.IngestDir(context.Background(), dir, 0, true)
	if err == nil {
		t.Fatal("expected error when stopOnError is set")
	}
	if report.Documents != 1 {
		t.Errorf("documents = %d, want 1 (run aborted at b.pdf)", report.Documents)
	}
	// c.pdf was never attempted.
	if _, ok := fx.vectors.docs["c.pdf"]; ok {
		t.Error("c.pdf ingested after abort")
	}
}

func TestIngestDir_EmptyDir(t *testing.T) {
	fx := newPipelineFixture(t, &fakeParser{})
	if _, err := fx.pipeline.IngestDir(context.Background(), t.TempDir(), 0, false); err == nil {
		t.Error("expected error for directory with no PDFs")
	}
}

func TestClear(t *testing.T) {
	parser := &fakeParser{elements: map[string][]element.Element{
		"a.pdf": manualElements(),
	}}
	fx := newPipelineFixture(t, parser)
	path := writePDF(t, t.TempDir(), "a.pdf")

	ctx := context.Background()
	if _, _, _, err := fx.pipeline.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := fx.pipeline.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !fx.vectors.cleared {
		t.Error("vector store not cleared")
	}
	count, err := fx.graph.CountEntities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("graph entity count after clear = %d, want 0", count)
	}
}
