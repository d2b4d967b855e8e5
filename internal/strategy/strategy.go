// Package strategy decides how a notification is rendered: free-form text or
// a pre-approved gateway template. Tenant configuration is loosely typed
// legacy data, so resolution is total and never returns an error.
package strategy

import "encoding/json"

// Strategy types.
const (
	TypeText     = "text"
	TypeTemplate = "template"
)

// DefaultLanguage is used when template configuration omits a language code.
const DefaultLanguage = "en"

// DeliveryStrategy is the resolved, unambiguous message shape. After this
// point no code deals with raw tenant configuration.
type DeliveryStrategy struct {
	Type         string
	TemplateName string
	LanguageCode string
	Components   []any
}

// Text is the safe default every malformed configuration degrades to.
func Text() DeliveryStrategy {
	return DeliveryStrategy{Type: TypeText}
}

// Resolve maps raw per-kind tenant configuration to a DeliveryStrategy.
// A template needs at least a name; components may be stored as an actual
// list or as a JSON-encoded string (legacy rows). Anything unparsable falls
// back to text.
func Resolve(raw map[string]any) DeliveryStrategy {
	if raw == nil {
		return Text()
	}
	if s, _ := raw["strategy"].(string); s != TypeTemplate {
		return Text()
	}
	name, _ := raw["name"].(string)
	if name == "" {
		return Text()
	}

	lang, _ := raw["languageCode"].(string)
	if lang == "" {
		lang = DefaultLanguage
	}

	components, ok := parseComponents(raw["components"])
	if !ok {
		return Text()
	}

	return DeliveryStrategy{
		Type:         TypeTemplate,
		TemplateName: name,
		LanguageCode: lang,
		Components:   components,
	}
}

func parseComponents(v any) ([]any, bool) {
	switch c := v.(type) {
	case nil:
		return nil, true
	case []any:
		return c, true
	case string:
		if c == "" {
			return nil, true
		}
		var parsed []any
		if err := json.Unmarshal([]byte(c), &parsed); err != nil {
			return nil, false
		}
		return parsed, true
	default:
		return nil, false
	}
}
