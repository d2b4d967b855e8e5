package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want DeliveryStrategy
	}{
		{
			name: "nil config falls back to text",
			raw:  nil,
			want: Text(),
		},
		{
			name: "explicit text",
			raw:  map[string]any{"strategy": "text"},
			want: Text(),
		},
		{
			name: "template with array components",
			raw: map[string]any{
				"strategy":     "template",
				"name":         "order_update",
				"languageCode": "es_AR",
				"components":   []any{map[string]any{"type": "body"}},
			},
			want: DeliveryStrategy{
				Type:         TypeTemplate,
				TemplateName: "order_update",
				LanguageCode: "es_AR",
				Components:   []any{map[string]any{"type": "body"}},
			},
		},
		{
			name: "template with JSON-string components (legacy rows)",
			raw: map[string]any{
				"strategy":   "template",
				"name":       "order_update",
				"components": `[{"type":"body"}]`,
			},
			want: DeliveryStrategy{
				Type:         TypeTemplate,
				TemplateName: "order_update",
				LanguageCode: DefaultLanguage,
				Components:   []any{map[string]any{"type": "body"}},
			},
		},
		{
			name: "template without components defaults language",
			raw:  map[string]any{"strategy": "template", "name": "order_update"},
			want: DeliveryStrategy{Type: TypeTemplate, TemplateName: "order_update", LanguageCode: DefaultLanguage},
		},
		{
			name: "template missing name falls back to text",
			raw:  map[string]any{"strategy": "template", "languageCode": "en"},
			want: Text(),
		},
		{
			name: "unparsable components string falls back to text",
			raw:  map[string]any{"strategy": "template", "name": "order_update", "components": "{not json"},
			want: Text(),
		},
		{
			name: "components of a wrong type fall back to text",
			raw:  map[string]any{"strategy": "template", "name": "order_update", "components": 42},
			want: Text(),
		},
		{
			name: "unknown strategy value falls back to text",
			raw:  map[string]any{"strategy": "carrier_pigeon", "name": "order_update"},
			want: Text(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.raw)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveNeverPanics(t *testing.T) {
	hostile := []map[string]any{
		{"strategy": 12, "name": []any{"x"}},
		{"strategy": "template", "name": map[string]any{}},
		{"strategy": "template", "name": "t", "languageCode": 7},
		{"components": nil},
	}
	for _, raw := range hostile {
		require.NotPanics(t, func() { Resolve(raw) })
	}
}
