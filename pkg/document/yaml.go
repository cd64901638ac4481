package document

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ToYAML renders the document as YAML. The JSON form is the canonical one; the
// YAML form is produced from it so both carry the same keys.
func ToYAML(doc Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return yaml.Marshal(tree)
}

// FromYAML parses a YAML rendering of a document.
func FromYAML(data []byte) (Document, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return Document{}, fmt.Errorf("failed to parse yaml: %w", err)
	}
	tree, err := normalizeYAML(tree)
	if err != nil {
		return Document{}, err
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return Document{}, fmt.Errorf("failed to convert yaml: %w", err)
	}
	return Parse(raw)
}

// normalizeYAML rewrites map[any]any nodes, which encoding/json rejects.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		for i, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
