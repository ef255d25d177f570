package query

import (
	"errors"
	"testing"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Intent
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"type": "factual", "needs_kg": true, "needs_images": false, "key_entities": ["M777 Howitzer"]}`,
			want: Intent{Type: IntentFactual, NeedsGraph: true, KeyEntities: []string{"M777 Howitzer"}},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"type\": \"visual\", \"needs_images\": true, \"key_entities\": []}\n```",
			want: Intent{Type: IntentVisual, NeedsImages: true, KeyEntities: []string{}},
		},
		{
			name: "comparative type preserved",
			raw:  `{"type": "comparative", "needs_kg": true, "key_entities": ["M777", "M198"]}`,
			want: Intent{Type: IntentComparative, NeedsGraph: true, KeyEntities: []string{"M777", "M198"}},
		},
		{
			name: "unknown type normalized to factual",
			raw:  `{"type": "philosophical", "key_entities": []}`,
			want: Intent{Type: IntentFactual, KeyEntities: []string{}},
		},
		{
			name: "uppercase type normalized",
			raw:  `{"type": "Procedural", "key_entities": []}`,
			want: Intent{Type: IntentProcedural, KeyEntities: []string{}},
		},
		{
			name: "blank entities dropped",
			raw:  `{"type": "factual", "key_entities": ["  ", "breech assembly", ""]}`,
			want: Intent{Type: IntentFactual, KeyEntities: []string{"breech assembly"}},
		},
		{
			name: "missing entities becomes empty slice",
			raw:  `{"type": "factual"}`,
			want: Intent{Type: IntentFactual, KeyEntities: []string{}},
		},
		{name: "empty response", raw: "", wantErr: true},
		{name: "prose instead of json", raw: "This question is about artillery.", wantErr: true},
		{name: "truncated json", raw: `{"type": "factual", "needs_kg":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIntent(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrIntentParse) {
					t.Fatalf("err = %v, want ErrIntentParse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIntent: %v", err)
			}
			if got.Type != tt.want.Type ||
				got.NeedsGraph != tt.want.NeedsGraph ||
				got.NeedsImages != tt.want.NeedsImages {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if len(got.KeyEntities) != len(tt.want.KeyEntities) {
				t.Fatalf("key entities = %v, want %v", got.KeyEntities, tt.want.KeyEntities)
			}
			for i := range got.KeyEntities {
				if got.KeyEntities[i] != tt.want.KeyEntities[i] {
					t.Errorf("entity %d = %q, want %q", i, got.KeyEntities[i], tt.want.KeyEntities[i])
				}
			}
		})
	}
}

func TestDefaultIntent(t *testing.T) {
	d := DefaultIntent()
	if d.Type != IntentFactual || d.NeedsGraph || d.NeedsImages {
		t.Errorf("default intent = %+v, want conservative factual intent", d)
	}
	if d.KeyEntities == nil || len(d.KeyEntities) != 0 {
		t.Errorf("default key entities = %v, want empty slice", d.KeyEntities)
	}
}
