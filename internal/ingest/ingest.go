// Package ingest turns PDF documents into searchable elements and
// knowledge-graph facts.
//
// The pipeline for one document: parse into elements, describe image
// elements with the vision model, embed every element, replace the
// document's rows in the vector store, then mine text elements for graph
// facts. The vector store write is the commit point; artifact export and
// graph writes after it are best-effort and only logged on failure, so a
// flaky graph never loses a document's searchable content.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/sync/errgroup"

	"github.com/fagpt/fagpt/internal/element"
	"github.com/fagpt/fagpt/internal/graph"
	"github.com/fagpt/fagpt/internal/parse"
)

// maxDescribeConcurrency bounds parallel vision calls during ingestion.
// Local inference servers degrade badly past a handful of in-flight
// requests.
const maxDescribeConcurrency = 4

// embedBatchSize is how many elements go into one embedding request.
const embedBatchSize = 32

// ErrNoUsableElements marks a document that parsed fine but whose elements
// were all dropped later in the pipeline, for example when every image
// description call failed. Unlike parse.ErrNoElements this does not condemn
// the document itself: the batch runner records it as a failure to retry
// rather than quarantining the file.
var ErrNoUsableElements = errors.New("no usable elements after processing")

// Parser converts one document file into its elements.
type Parser interface {
	ParseFile(ctx context.Context, path string) (element.Document, []element.Element, error)
}

// VectorStore persists embedded elements.
type VectorStore interface {
	ReplaceDocument(ctx context.Context, sourceDoc string, elements []element.Element) error
	Clear(ctx context.Context) error
}

// GraphWriter persists extracted knowledge-graph facts.
type GraphWriter interface {
	UpsertEntity(ctx context.Context, e graph.Entity, sourceDoc string, page int) error
	UpsertRelationship(ctx context.Context, r graph.Relationship) error
	Clear(ctx context.Context) error
}

// Report summarizes one ingestion run.
type Report struct {
	Documents     int
	Elements      int
	Entities      int
	Relationships int
	Quarantined   []string
	Failed        []string
}

// Pipeline ingests documents into the vector store and knowledge graph.
type Pipeline struct {
	g           *genkit.Genkit
	embedder    ai.Embedder
	parser      Parser
	vectors     VectorStore
	graph       GraphWriter
	modelName   string
	visionModel string
	dataDir     string
	logger      *slog.Logger
}

// Config carries the Pipeline's dependencies and tuning.
type Config struct {
	Genkit      *genkit.Genkit
	Embedder    ai.Embedder
	Parser      Parser
	Vectors     VectorStore
	Graph       GraphWriter
	ModelName   string // text model, used for graph extraction
	VisionModel string // vision model, used for image description
	DataDir     string // artifacts and quarantine live under here
	Logger      *slog.Logger
}

// New creates an ingestion pipeline. All dependencies except Logger are
// required.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Genkit == nil:
		return nil, errors.New("genkit instance is required")
	case cfg.Embedder == nil:
		return nil, errors.New("embedder is required")
	case cfg.Parser == nil:
		return nil, errors.New("parser is required")
	case cfg.Vectors == nil:
		return nil, errors.New("vector store is required")
	case cfg.Graph == nil:
		return nil, errors.New("graph writer is required")
	case cfg.ModelName == "":
		return nil, errors.New("model name is required")
	case cfg.VisionModel == "":
		return nil, errors.New("vision model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		g:           cfg.Genkit,
		embedder:    cfg.Embedder,
		parser:      cfg.Parser,
		vectors:     cfg.Vectors,
		graph:       cfg.Graph,
		modelName:   cfg.ModelName,
		visionModel: cfg.VisionModel,
		dataDir:     cfg.DataDir,
		logger:      logger,
	}, nil
}

// IngestFile processes one PDF end to end. The returned element count
// reflects what was committed to the vector store; the extraction counts
// cover knowledge-graph facts upserted from this document.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (elems, entities, rels int, err error) {
	doc, elements, err := p.parser.ParseFile(ctx, path)
	if err != nil {
		return 0, 0, 0, err
	}

	if err := p.describeImages(ctx, elements); err != nil {
		return 0, 0, 0, err
	}
	elements, err = p.embedElements(ctx, elements)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(elements) == 0 {
		return 0, 0, 0, fmt.Errorf("%s: %w", doc.Filename, ErrNoUsableElements)
	}
	if err := p.vectors.ReplaceDocument(ctx, doc.Filename, elements); err != nil {
		return 0, 0, 0, fmt.Errorf("storing %s: %w", doc.Filename, err)
	}

	if p.dataDir != "" {
		if err := writeArtifacts(filepath.Join(p.dataDir, "artifacts"), doc, elements); err != nil {
			p.logger.Warn("artifact export failed",
				"source_doc", doc.Filename,
				"error", err)
		}
	}

	entities, rels = p.extractFacts(ctx, elements)
	p.logger.Info("ingested document",
		"source_doc", doc.Filename,
		"elements", len(elements),
		"entities", entities,
		"relationships", rels)
	return len(elements), entities, rels, nil
}

// IngestDir processes every PDF directly under dir, lexicographically.
// limit > 0 caps how many files are attempted. One bad document does not
// stop the run: unparseable files are quarantined, other failures are
// recorded in the report, and processing continues. With stopOnError set,
// the first failure of either kind aborts the run and is returned alongside
// the partial report.
func (p *Pipeline) IngestDir(ctx context.Context, dir string, limit int, stopOnError bool) (*Report, error) {
	paths, err := listPDFs(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no PDF files in %s", dir)
	}
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	report := &Report{}
	for _, path := range paths {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		n, entities, rels, err := p.IngestFile(ctx, path)
		switch {
		case err == nil:
			report.Documents++
			report.Elements += n
			report.Entities += entities
			report.Relationships += rels
			continue
		case isUnprocessable(err):
			p.logger.Warn("quarantining unprocessable document",
				"path", path,
				"error", err)
			if qErr := p.quarantineFile(path); qErr != nil {
				p.logger.Error("quarantine failed", "path", path, "error", qErr)
				report.Failed = append(report.Failed, path)
			} else {
				report.Quarantined = append(report.Quarantined, path)
			}
		default:
			p.logger.Error("ingestion failed",
				"path", path,
				"error", err)
			report.Failed = append(report.Failed, path)
		}
		if stopOnError {
			return report, fmt.Errorf("ingesting %s: %w", path, err)
		}
	}
	return report, nil
}

// Clear wipes the vector store and the knowledge graph.
func (p *Pipeline) Clear(ctx context.Context) error {
	if err := p.vectors.Clear(ctx); err != nil {
		return fmt.Errorf("clearing vector store: %w", err)
	}
	if err := p.graph.Clear(ctx); err != nil {
		return fmt.Errorf("clearing knowledge graph: %w", err)
	}
	return nil
}

// describeImages runs the vision model over every image element. A failed
// description drops the image from the ingest set rather than failing the
// document; an image with no description cannot be embedded or retrieved.
func (p *Pipeline) describeImages(ctx context.Context, elements []element.Element) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxDescribeConcurrency)

	for i := range elements {
		el := &elements[i]
		if !el.HasImage() {
			continue
		}
		eg.Go(func() error {
			if err := describeImage(gctx, p.g, p.visionModel, el); err != nil {
				p.logger.Warn("image description failed",
					"source_doc", el.SourceDoc,
					"page", el.Page,
					"error", err)
				el.Content = "" // nothing to embed; filtered below
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// embedElements embeds every element in batches, returning the elements
// that had something to embed. Image elements whose description failed
// have no embedding text and are dropped here.
func (p *Pipeline) embedElements(ctx context.Context, elements []element.Element) ([]element.Element, error) {
	embeddable := make([]element.Element, 0, len(elements))
	for _, el := range elements {
		if el.EmbeddingText() != "" {
			embeddable = append(embeddable, el)
		}
	}

	for start := 0; start < len(embeddable); start += embedBatchSize {
		end := min(start+embedBatchSize, len(embeddable))
		batch := embeddable[start:end]

		docs := make([]*ai.Document, len(batch))
		for i := range batch {
			docs[i] = ai.DocumentFromText(batch[i].EmbeddingText(), nil)
		}
		resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		if err != nil {
			return nil, fmt.Errorf("embedding elements: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d elements", len(resp.Embeddings), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = resp.Embeddings[i].Embedding
		}
	}
	return embeddable, nil
}

// extractFacts mines text elements for graph facts and writes them.
// Best-effort: failures are logged per element, never propagated.
func (p *Pipeline) extractFacts(ctx context.Context, elements []element.Element) (entities, rels int) {
	for i := range elements {
		el := &elements[i]
		ents, relationships, err := extractGraph(ctx, p.g, p.modelName, el)
		if err != nil {
			p.logger.Warn("graph extraction failed",
				"source_doc", el.SourceDoc,
				"page", el.Page,
				"error", err)
			continue
		}
		for _, e := range ents {
			if err := p.graph.UpsertEntity(ctx, e, el.SourceDoc, el.Page); err != nil {
				p.logger.Warn("entity write failed", "entity", e.Key, "error", err)
				continue
			}
			entities++
		}
		for _, r := range relationships {
			if err := p.graph.UpsertRelationship(ctx, r); err != nil {
				p.logger.Warn("relationship write failed",
					"source", r.SourceKey,
					"target", r.TargetKey,
					"error", err)
				continue
			}
			rels++
		}
	}
	return entities, rels
}

func (p *Pipeline) quarantineFile(path string) error {
	if p.dataDir == "" {
		return errors.New("no data directory configured")
	}
	return quarantine(filepath.Join(p.dataDir, "quarantine"), path)
}

// isUnprocessable reports whether the document itself is at fault, as
// opposed to a transient infrastructure failure worth retrying later.
func isUnprocessable(err error) bool {
	return errors.Is(err, parse.ErrNoElements) || errors.Is(err, parse.ErrUnsupportedFormat)
}

// listPDFs returns the PDF files directly under dir, sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("input directory %s does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
