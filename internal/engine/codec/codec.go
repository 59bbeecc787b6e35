/*
Package codec implements the pluggable format registry (spec §4.3).

A [Codec] turns a single stored value into bytes and back. Collections
pick a codec by file extension (or an explicit format name); a [Registry]
resolves either to a concrete codec with last-registration-wins semantics
(unlike internal/engine/plugin's operator and id-generator registries,
which reject a duplicate name).
*/
package codec

import (
	"strings"
	"sync"

	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/log"
)

// Codec encodes and decodes one wire format.
type Codec interface {
	// Name is the format's canonical name, e.g. "json".
	Name() string
	// Extensions lists the file extensions this codec claims, without a
	// leading dot, e.g. []string{"yaml", "yml"}.
	Extensions() []string
	// Encode serializes value.
	Encode(value any) ([]byte, error)
	// Decode deserializes data into a Go value (map[string]any, []any, or
	// a primitive, depending on the format and shape of the payload).
	Decode(data []byte) (any, error)
}

// Registry resolves codecs by extension or explicit name. The zero value
// is not ready for use; call [NewRegistry].
type Registry struct {
	mu     sync.RWMutex
	byExt  map[string]Codec
	byName map[string]Codec
}

// NewRegistry builds a registry pre-populated with ProseQL's built-in
// codecs: json, jsonl, yaml, and prose.
func NewRegistry() *Registry {
	r := &Registry{
		byExt:  make(map[string]Codec),
		byName: make(map[string]Codec),
	}
	for _, c := range []Codec{
		NewJSONCodec(),
		NewJSONLCodec(),
		NewYAMLCodec(),
		NewProseCodec(),
	} {
		r.Register(c)
	}
	return r
}

// Register adds or overrides a codec. If a prior codec already claims one
// of c's extensions, the prior registration is replaced and a warning is
// logged — this is how plugin-supplied codecs are meant to override a
// built-in (spec §4.14).
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name()]; exists {
		log.WithComponent("codec").Warn().Str("format", c.Name()).Msg("codec name re-registered, replacing previous registration")
	}
	r.byName[c.Name()] = c

	for _, ext := range c.Extensions() {
		ext = normalizeExt(ext)
		if prev, exists := r.byExt[ext]; exists && prev.Name() != c.Name() {
			log.WithComponent("codec").Warn().
				Str("extension", ext).
				Str("previous", prev.Name()).
				Str("replacement", c.Name()).
				Msg("file extension re-registered to a different codec")
		}
		r.byExt[ext] = c
	}
}

// ResolveExt returns the codec registered for a file extension (without a
// leading dot).
func (r *Registry) ResolveExt(ext string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byExt[normalizeExt(ext)]
	if !ok {
		return nil, apperr.UnsupportedFormat(ext, r.registeredExtsLocked())
	}
	return c, nil
}

// ResolveName returns the codec registered under an explicit format name.
func (r *Registry) ResolveName(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, apperr.UnsupportedFormat(name, r.registeredExtsLocked())
	}
	return c, nil
}

// Registered lists every currently registered format name.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registeredLocked()
}

func (r *Registry) registeredLocked() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

func (r *Registry) registeredExtsLocked() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}

// ExtensionOf returns the lowercased extension (without the dot) of a file
// path, e.g. "notes.prose" -> "prose".
func ExtensionOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return normalizeExt(path[idx+1:])
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
