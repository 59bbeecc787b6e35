package codec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLCodec stores one YAML document per file.
type YAMLCodec struct{}

func NewYAMLCodec() *YAMLCodec { return &YAMLCodec{} }

func (YAMLCodec) Name() string         { return "yaml" }
func (YAMLCodec) Extensions() []string { return []string{"yaml", "yml"} }

func (YAMLCodec) Encode(value any) ([]byte, error) {
	return yaml.Marshal(value)
}

func (YAMLCodec) Decode(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalizeYAML(v), nil
}

// normalizeYAML recursively converts map[string]interface{} keys that
// yaml.v3 may decode as map[any]any (for non-string keys) back into plain
// map[string]any so downstream code only ever sees JSON-shaped values.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAML(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[toString(k)] = normalizeYAML(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAML(vv)
		}
		return out
	default:
		return val
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
