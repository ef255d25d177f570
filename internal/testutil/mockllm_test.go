package testutil

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/go-cmp/cmp"
)

func generateText(t *testing.T, g *genkit.Genkit, model, prompt string) (string, error) {
	t.Helper()
	resp, err := genkit.Generate(context.Background(), g,
		ai.WithModelName(model),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func TestMockLLM_PatternMatching(t *testing.T) {
	g := genkit.Init(context.Background())
	m := NewMockLLM("fallback")
	m.AddResponse("classify", "classified")
	m.AddResponse("rate", "0.9")
	m.Register(g, "mock/model")

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"first registered match wins", "please CLASSIFY and rate this", "classified"},
		{"second pattern", "rate this content", "0.9"},
		{"no match falls back", "hello there", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := generateText(t, g, "mock/model", tt.prompt)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got != tt.want {
				t.Errorf("response = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMockLLM_RecordsCalls(t *testing.T) {
	g := genkit.Init(context.Background())
	m := NewMockLLM("ok")
	m.Register(g, "mock/recorded")

	if _, err := generateText(t, g, "mock/recorded", "first question"); err != nil {
		t.Fatal(err)
	}

	want := []MockCall{{UserMessage: "first question", Response: "ok"}}
	if diff := cmp.Diff(want, m.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	m.Reset()
	if len(m.Calls()) != 0 {
		t.Error("Reset did not clear recorded calls")
	}
}

func TestMockLLM_ClearResponses(t *testing.T) {
	g := genkit.Init(context.Background())
	m := NewMockLLM("fallback")
	m.AddResponse("describe", "a diagram")
	m.Register(g, "mock/cleared")

	// First match wins, so overriding an earlier success rule with an
	// error requires clearing first.
	m.ClearResponses()
	m.AddError("describe", errors.New("vision down"))

	if _, err := generateText(t, g, "mock/cleared", "describe this"); err == nil {
		t.Error("cleared success rule still matched")
	}
	if got, err := generateText(t, g, "mock/cleared", "other"); err != nil || got != "fallback" {
		t.Errorf("fallback after clear = %q, %v; want fallback, nil", got, err)
	}
}

func TestMockLLM_ErrorInjection(t *testing.T) {
	g := genkit.Init(context.Background())
	m := NewMockLLM("ok")
	injected := errors.New("model down")
	m.AddError("broken", injected)
	m.Register(g, "mock/failing")

	if _, err := generateText(t, g, "mock/failing", "this one is broken"); err == nil {
		t.Error("expected error for matching pattern")
	}
	if got, err := generateText(t, g, "mock/failing", "healthy"); err != nil || got != "ok" {
		t.Errorf("unmatched prompt = %q, %v; want ok, nil", got, err)
	}

	m.FailAll(errors.New("total outage"))
	if _, err := generateText(t, g, "mock/failing", "healthy"); err == nil {
		t.Error("expected error while FailAll is set")
	}
	m.FailAll(nil)
	if _, err := generateText(t, g, "mock/failing", "healthy"); err != nil {
		t.Errorf("FailAll(nil) did not restore responses: %v", err)
	}

	// Failed calls are not recorded.
	for _, c := range m.Calls() {
		if c.UserMessage == "this one is broken" {
			t.Error("failed call was recorded")
		}
	}
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	g := genkit.Init(context.Background())
	embedder := NewMockEmbedder(8).Define(g)

	resp, err := embedder.Embed(context.Background(), &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText("alpha", nil),
			ai.DocumentFromText("alpha", nil),
			ai.DocumentFromText("beta", nil),
		},
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(resp.Embeddings) != 3 {
		t.Fatalf("got %d embeddings, want 3", len(resp.Embeddings))
	}

	a1 := resp.Embeddings[0].Embedding
	a2 := resp.Embeddings[1].Embedding
	b := resp.Embeddings[2].Embedding
	if diff := cmp.Diff(a1, a2); diff != "" {
		t.Errorf("same content produced different vectors:\n%s", diff)
	}
	if cmp.Equal(a1, b) {
		t.Error("different content produced identical vectors")
	}

	// Generated vectors are unit length.
	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("vector norm = %f, want 1", math.Sqrt(norm))
	}
}

func TestMockEmbedder_SetVector(t *testing.T) {
	g := genkit.Init(context.Background())
	e := NewMockEmbedder(3)
	embedder := e.Define(g)
	e.SetVector("pinned", []float32{1, 0, 0})

	resp, err := embedder.Embed(context.Background(), &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText("pinned", nil)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 0, 0}, resp.Embeddings[0].Embedding); diff != "" {
		t.Errorf("pinned vector mismatch:\n%s", diff)
	}
}
