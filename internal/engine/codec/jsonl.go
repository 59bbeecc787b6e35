package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONLCodec encodes a slice of values as newline-delimited JSON records,
// one per line. It backs append-only collections (spec §4.5): writing a
// single new record never requires rewriting the records already on disk.
type JSONLCodec struct{}

func NewJSONLCodec() *JSONLCodec { return &JSONLCodec{} }

func (JSONLCodec) Name() string         { return "jsonl" }
func (JSONLCodec) Extensions() []string { return []string{"jsonl", "ndjson"} }

// Encode expects value to be a []any (nil encodes as no lines; any other
// type is an error); it re-encodes each element onto its own line.
func (JSONLCodec) Encode(value any) ([]byte, error) {
	records, err := toSlice(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode returns a []any, one element per non-blank input line.
func (JSONLCodec) Decode(data []byte) (any, error) {
	var out []any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeLine encodes a single record as one JSONL line (including the
// trailing newline), for the append-only fast path that writes only the
// new record instead of rewriting the whole file.
func (JSONLCodec) EncodeLine(record any) ([]byte, error) {
	line, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

func toSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("jsonl codec: expected []any, got %T", value)
	}
}
