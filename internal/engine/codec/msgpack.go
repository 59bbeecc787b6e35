package codec

import "github.com/hashicorp/go-msgpack/v2/codec"

// MsgpackCodec is the optional binary codec (spec §4.3: "messagepack is
// optional"). It is not registered by default; callers that want it call
// [Registry.Register] with [NewMsgpackCodec] explicitly, typically for
// collections trading human-readability for file size.
type MsgpackCodec struct {
	handle *codec.MsgpackHandle
}

func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{handle: &codec.MsgpackHandle{}}
}

func (MsgpackCodec) Name() string         { return "messagepack" }
func (MsgpackCodec) Extensions() []string { return []string{"msgpack", "mp"} }

func (c *MsgpackCodec) Encode(value any) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, c.handle)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MsgpackCodec) Decode(data []byte) (any, error) {
	var v any
	dec := codec.NewDecoderBytes(data, c.handle)
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeMsgpack(v), nil
}

// normalizeMsgpack mirrors normalizeYAML: the msgpack codec decodes maps
// as map[interface{}]interface{} and byte-slices for strings in some
// configurations, so results are normalized into the same JSON-shaped
// map[string]any/[]any/string tree every other codec produces.
func normalizeMsgpack(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeMsgpack(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[toString(k)] = normalizeMsgpack(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeMsgpack(vv)
		}
		return out
	case []byte:
		return string(val)
	default:
		return val
	}
}
