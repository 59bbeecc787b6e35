package codec

import "encoding/json"

// JSONCodec is the default codec: one JSON value per file.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (JSONCodec) Name() string         { return "json" }
func (JSONCodec) Extensions() []string { return []string{"json"} }

func (JSONCodec) Encode(value any) ([]byte, error) {
	return json.MarshalIndent(value, "", "  ")
}

func (JSONCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
