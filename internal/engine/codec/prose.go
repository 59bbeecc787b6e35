package codec

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ProseFile is the value the prose codec encodes and decodes. Unlike the
// other built-in codecs, prose is not self-describing from a bare Go
// value: every prose file carries its own template as a header line, so
// Encode/Decode trade in ProseFile rather than a plain map/slice.
type ProseFile struct {
	// Template is the `@prose <template>` header, without the directive.
	Template string
	// Records are the decoded (or to-be-encoded) entities, in file order.
	Records []any
}

// ProseCodec implements ProseQL's bespoke line-oriented row format
// (spec §6): a header line naming a template, then one headline line per
// record, each matching the compiled template, optionally followed by
// deeper-indented overflow lines that continue the last field's value.
//
// Compiled templates are cached (keyed by the raw template string) so
// repeated encode/decode calls against the same collection don't
// re-parse the template on every call.
type ProseCodec struct {
	cache *lru.Cache[string, *compiledTemplate]
}

// NewProseCodec builds a prose codec with a modest compiled-template
// cache; a process typically opens a handful of distinct templates, not
// thousands, so 64 entries comfortably avoids eviction churn.
func NewProseCodec() *ProseCodec {
	cache, err := lru.New[string, *compiledTemplate](64)
	if err != nil {
		panic("codec: failed to allocate prose template cache: " + err.Error())
	}
	return &ProseCodec{cache: cache}
}

func (ProseCodec) Name() string         { return "prose" }
func (ProseCodec) Extensions() []string { return []string{"prose"} }

func (c *ProseCodec) Encode(value any) ([]byte, error) {
	file, ok := value.(*ProseFile)
	if !ok {
		if f, ok := value.(ProseFile); ok {
			file = &f
		} else {
			return nil, fmt.Errorf("prose codec: expected *ProseFile, got %T", value)
		}
	}

	tmpl, err := c.compile(file.Template)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("@prose ")
	b.WriteString(file.Template)
	b.WriteByte('\n')
	for _, rec := range file.Records {
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("prose codec: expected map[string]any record, got %T", rec)
		}
		line, err := tmpl.encodeLine(m)
		if err != nil {
			return nil, err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func (c *ProseCodec) Decode(data []byte) (any, error) {
	lines := strings.Split(string(data), "\n")

	headerIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		headerIdx = i
		break
	}
	if headerIdx < 0 {
		return &ProseFile{}, nil
	}

	header := strings.TrimSpace(lines[headerIdx])
	const directive = "@prose "
	if !strings.HasPrefix(header, directive) {
		return nil, fmt.Errorf("prose codec: expected %q header, got %q", "@prose <template>", header)
	}
	template := strings.TrimPrefix(header, directive)

	tmpl, err := c.compile(template)
	if err != nil {
		return nil, err
	}

	file := &ProseFile{Template: template}
	var currentRecord map[string]any
	var lastField string

	for _, raw := range lines[headerIdx+1:] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if isOverflowLine(raw) && currentRecord != nil {
			if lastField != "" {
				if s, ok := currentRecord[lastField].(string); ok {
					currentRecord[lastField] = s + "\n" + strings.TrimSpace(raw)
				}
			}
			continue
		}
		record, last, err := tmpl.decodeLine(raw)
		if err != nil {
			return nil, err
		}
		currentRecord, lastField = record, last
		file.Records = append(file.Records, map[string]any(record))
	}

	return file, nil
}

func isOverflowLine(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return len(trimmed) < len(line)
}

func (c *ProseCodec) compile(template string) (*compiledTemplate, error) {
	if t, ok := c.cache.Get(template); ok {
		return t, nil
	}
	t, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}
	c.cache.Add(template, t)
	return t, nil
}

// segment is one literal run or one {fieldName} placeholder in a compiled
// template.
type segment struct {
	literal string
	field   string // empty for a literal-only segment
}

type compiledTemplate struct {
	segments []segment
}

func parseTemplate(template string) (*compiledTemplate, error) {
	var segs []segment
	var literal strings.Builder

	runes := []rune(template)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '{' {
			end := strings.IndexRune(string(runes[i+1:]), '}')
			if end < 0 {
				return nil, fmt.Errorf("prose codec: unterminated placeholder in template %q", template)
			}
			field := string(runes[i+1 : i+1+end])
			segs = append(segs, segment{literal: literal.String(), field: field})
			literal.Reset()
			i += end + 1
			continue
		}
		literal.WriteRune(runes[i])
	}
	segs = append(segs, segment{literal: literal.String()})
	return &compiledTemplate{segments: segs}, nil
}

func (t *compiledTemplate) encodeLine(record map[string]any) (string, error) {
	var b strings.Builder
	for i, seg := range t.segments {
		b.WriteString(seg.literal)
		if seg.field == "" {
			continue
		}
		val, encoded := encodeValue(record[seg.field])
		isLast := i == len(t.segments)-2 && t.segments[len(t.segments)-1].literal == ""
		if encoded {
			b.WriteString(val)
			continue
		}
		if !isLast && needsQuoting(val, nextLiteral(t.segments, i)) {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(val, `"`, `\"`))
			b.WriteByte('"')
			continue
		}
		b.WriteString(val)
	}
	return b.String(), nil
}

func nextLiteral(segs []segment, i int) string {
	if i+1 < len(segs) {
		return segs[i+1].literal
	}
	return ""
}

func needsQuoting(value, delimiter string) bool {
	if value == "" {
		return false
	}
	if strings.ContainsAny(value, " \t\"") {
		return true
	}
	return delimiter != "" && strings.Contains(value, delimiter)
}

// encodeValue renders a field value as its prose literal. The second
// return value reports whether the rendering is already a self-delimiting
// literal (null/array) that must never be additionally quoted.
func encodeValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "~", true
	case string:
		return val, false
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			s, _ := encodeValue(e)
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}

func (t *compiledTemplate) decodeLine(line string) (map[string]any, string, error) {
	record := make(map[string]any)
	pos := 0
	lastField := ""

	for i, seg := range t.segments {
		if !strings.HasPrefix(line[pos:], seg.literal) {
			return nil, "", fmt.Errorf("prose codec: line %q does not match template at %q", line, seg.literal)
		}
		pos += len(seg.literal)
		if seg.field == "" {
			continue
		}

		terminator := nextLiteral(t.segments, i)
		isLast := i == len(t.segments)-2 && t.segments[len(t.segments)-1].literal == ""

		var raw string
		if pos < len(line) && line[pos] == '"' {
			end, unescaped, err := scanQuoted(line, pos)
			if err != nil {
				return nil, "", err
			}
			record[seg.field] = unescaped
			pos = end
			lastField = seg.field
			continue
		}

		if isLast || terminator == "" {
			raw = line[pos:]
			pos = len(line)
		} else {
			idx := strings.Index(line[pos:], terminator)
			if idx < 0 {
				return nil, "", fmt.Errorf("prose codec: missing terminator %q for field %q in line %q", terminator, seg.field, line)
			}
			raw = line[pos : pos+idx]
			pos += idx
		}

		record[seg.field] = decodeValue(raw)
		lastField = seg.field
	}

	return record, lastField, nil
}

func scanQuoted(line string, start int) (int, string, error) {
	var b strings.Builder
	i := start + 1
	for i < len(line) {
		if line[i] == '\\' && i+1 < len(line) && line[i+1] == '"' {
			b.WriteByte('"')
			i += 2
			continue
		}
		if line[i] == '"' {
			return i + 1, b.String(), nil
		}
		b.WriteByte(line[i])
		i++
	}
	return 0, "", fmt.Errorf("prose codec: unterminated quoted value in line %q", line)
}

func decodeValue(raw string) any {
	switch {
	case raw == "~":
		return nil
	case strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]"):
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if inner == "" {
			return []any{}
		}
		parts := strings.Split(inner, ", ")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = decodeValue(strings.TrimSpace(p))
		}
		return out
	default:
		return raw
	}
}
