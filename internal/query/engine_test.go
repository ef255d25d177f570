package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fagpt/fagpt/internal/element"
	"github.com/fagpt/fagpt/internal/graph"
	"github.com/fagpt/fagpt/internal/vectorstore"
)

func storedText(content string, sim float64) vectorstore.Result {
	return vectorstore.Result{
		Element: element.Element{
			ID:        uuid.New(),
			SourceDoc: "tc3-09.81.pdf",
			Type:      element.TypeText,
			Content:   content,
		},
		Similarity: sim,
	}
}

func TestAsk_MaximumRangeScenario(t *testing.T) {
	search := &fakeSearcher{results: []vectorstore.Result{
		storedText("The M777 has a maximum range of 30000 meters", 0.93),
		storedText("The howitzer crew consists of five soldiers.", 0.41),
	}}
	fx := newEngineFixture(t, search)

	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": false, "needs_images": false, "key_entities": ["M777"]}`)
	fx.llm.AddResponse("rate how relevant", "0.9")
	fx.llm.AddResponse("answer the question",
		"The M777 has a maximum range of 30000 meters [TEXT from tc3-09.81.pdf].")

	answer, err := fx.engine.Ask(context.Background(), "What is the maximum range of the M777?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(answer.Text, "30000") && !strings.Contains(answer.Text, "30,000") {
		t.Errorf("answer %q does not state the range", answer.Text)
	}
	if answer.Metadata.RetrievedCount != 2 {
		t.Errorf("retrieved count = %d, want 2", answer.Metadata.RetrievedCount)
	}
	if answer.Metadata.Intent.Type != IntentFactual {
		t.Errorf("intent = %s, want factual", answer.Metadata.Intent.Type)
	}

	// The generation prompt must carry the top element's content with
	// its provenance tag.
	calls := fx.llm.Calls()
	last := calls[len(calls)-1]
	if !strings.Contains(last.UserMessage, "maximum range of 30000 meters") {
		t.Error("generation prompt missing retrieved content")
	}
	if !strings.Contains(last.UserMessage, "[TEXT from tc3-09.81.pdf") {
		t.Error("generation prompt missing provenance tag")
	}
}

func TestAsk_EmptyStore(t *testing.T) {
	fx := newEngineFixture(t, &fakeSearcher{})
	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": false, "needs_images": false, "key_entities": []}`)

	answer, err := fx.engine.Ask(context.Background(), "What is the maximum range of the M777?")
	if err != nil {
		t.Fatalf("Ask on empty store: %v", err)
	}
	if answer.Metadata.RetrievedCount != 0 {
		t.Errorf("retrieved count = %d, want 0", answer.Metadata.RetrievedCount)
	}
	if !strings.Contains(strings.ToLower(answer.Text), "no relevant information") {
		t.Errorf("answer %q does not indicate nothing was found", answer.Text)
	}
	// No generation call should happen with nothing to ground it.
	for _, call := range fx.llm.Calls() {
		if strings.Contains(strings.ToLower(call.UserMessage), "answer the question") {
			t.Error("generation was called with an empty candidate list")
		}
	}
}

func TestAsk_MalformedIntentFallsBack(t *testing.T) {
	search := &fakeSearcher{results: []vectorstore.Result{
		storedText("The M777 has a maximum range of 30000 meters", 0.93),
	}}
	fx := newEngineFixture(t, search)

	fx.llm.AddResponse("classify this question", "I cannot classify this.")
	fx.llm.AddResponse("rate how relevant", "0.8")
	fx.llm.AddResponse("answer the question", "The maximum range is 30000 meters.")

	answer, err := fx.engine.Ask(context.Background(), "What is the maximum range of the M777?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Metadata.Intent.Type != IntentFactual {
		t.Errorf("intent = %s, want default factual", answer.Metadata.Intent.Type)
	}
	if answer.Metadata.Intent.NeedsGraph || answer.Metadata.Intent.NeedsImages {
		t.Error("default intent must not enable graph or image retrieval")
	}
}

func TestAsk_GraphIntentWithNoMatchingEntities(t *testing.T) {
	search := &fakeSearcher{results: []vectorstore.Result{
		storedText("The breech assembly locks the round in the chamber.", 0.80),
	}}
	fx := newEngineFixture(t, search)

	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": true, "needs_images": false, "key_entities": ["recoil mechanism"]}`)
	fx.llm.AddResponse("rate how relevant", "0.7")
	fx.llm.AddResponse("answer the question", "The breech assembly locks the round.")

	answer, err := fx.engine.Ask(context.Background(), "How does the breech assembly interact with the recoil mechanism?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Metadata.TripleCount != 0 {
		t.Errorf("triple count = %d, want 0 for empty graph", answer.Metadata.TripleCount)
	}
	if answer.Metadata.GraphDegraded {
		t.Error("empty graph match is not a degradation")
	}
	if answer.Text == "" {
		t.Error("answer must still be generated from text candidates")
	}
}

func TestAsk_GraphStoreFailureDegrades(t *testing.T) {
	search := &fakeSearcher{results: []vectorstore.Result{
		storedText("The breech assembly locks the round in the chamber.", 0.80),
	}}
	fx := newEngineFixture(t, search)
	fx.graph.FailWith = errors.New("neo4j unreachable")

	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": true, "needs_images": false, "key_entities": ["breech assembly"]}`)
	fx.llm.AddResponse("rate how relevant", "0.7")
	fx.llm.AddResponse("answer the question", "The breech assembly locks the round.")

	answer, err := fx.engine.Ask(context.Background(), "What does the breech assembly do?")
	if err != nil {
		t.Fatalf("graph outage must not fail the query: %v", err)
	}
	if !answer.Metadata.GraphDegraded {
		t.Error("metadata must record graph degradation")
	}
	if answer.Metadata.TripleCount != 0 {
		t.Errorf("triple count = %d, want 0", answer.Metadata.TripleCount)
	}
}

func TestAsk_GraphContextReachesPrompt(t *testing.T) {
	search := &fakeSearcher{results: []vectorstore.Result{
		storedText("The M777 has a maximum range of 30000 meters", 0.93),
	}}
	fx := newEngineFixture(t, search)

	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(fx.graph.UpsertEntity(ctx, graph.Entity{Key: "M777 Howitzer", Type: "Equipment"}, "tc3-09.81.pdf", 1))
	must(fx.graph.UpsertEntity(ctx, graph.Entity{Key: "Maximum Range", Type: "Specification"}, "tc3-09.81.pdf", 1))
	must(fx.graph.UpsertRelationship(ctx, graph.Relationship{
		SourceKey: "M777 Howitzer", TargetKey: "Maximum Range", Type: "HAS_SPEC",
	}))

	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": true, "needs_images": false, "key_entities": ["M777"]}`)
	fx.llm.AddResponse("rate how relevant", "0.9")
	fx.llm.AddResponse("answer the question", "The maximum range is 30000 meters.")

	answer, err := fx.engine.Ask(ctx, "What is the maximum range of the M777?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Metadata.TripleCount != 1 {
		t.Errorf("triple count = %d, want 1", answer.Metadata.TripleCount)
	}

	calls := fx.llm.Calls()
	last := calls[len(calls)-1]
	if !strings.Contains(last.UserMessage, "M777 Howitzer HAS_SPEC Maximum Range") {
		t.Errorf("generation prompt missing graph fact, got %q", last.UserMessage)
	}
}

func TestAsk_RetrievalFailureIsFatal(t *testing.T) {
	search := &fakeSearcher{err: errors.New("connection refused")}
	fx := newEngineFixture(t, search)
	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": false, "needs_images": false, "key_entities": []}`)

	_, err := fx.engine.Ask(context.Background(), "What is the maximum range of the M777?")
	if !errors.Is(err, ErrRetrieval) {
		t.Errorf("err = %v, want ErrRetrieval", err)
	}
}

func TestAsk_GenerationFailureIsFatal(t *testing.T) {
	search := &fakeSearcher{results: []vectorstore.Result{
		storedText("The M777 has a maximum range of 30000 meters", 0.93),
	}}
	fx := newEngineFixture(t, search)

	fx.llm.AddResponse("classify this question",
		`{"type": "factual", "needs_kg": false, "needs_images": false, "key_entities": []}`)
	fx.llm.AddResponse("rate how relevant", "0.9")
	fx.llm.AddError("answer the question", errors.New("model crashed"))

	_, err := fx.engine.Ask(context.Background(), "What is the maximum range of the M777?")
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", err)
	}
}

func TestAsk_EmptyQuery(t *testing.T) {
	fx := newEngineFixture(t, &fakeSearcher{})
	if _, err := fx.engine.Ask(context.Background(), ""); err == nil {
		t.Error("expected error for empty query")
	}
}
