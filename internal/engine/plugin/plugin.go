/*
Package plugin implements the explicit plugin registry (spec §4.14 step
1, §9 "isolate it behind an explicit registry handle"): a process-wide
default value holding only the built-ins, and a constructor for
registries callers extend with custom codecs, query operators, and id
generators without touching a hidden global.
*/
package plugin

import (
	"strings"

	"github.com/proseql/proseql/internal/engine/codec"
	"github.com/proseql/proseql/internal/platform/apperr"
	"github.com/proseql/proseql/pkg/uuidv7"
)

// IDGenerator produces a new entity id. Collections that don't name a
// plugin-supplied generator use [uuidv7.New].
type IDGenerator func() string

// Operator evaluates one query operator (e.g. `$eq`, `$contains`) against
// a field value and an operator argument, returning whether it matches.
type Operator func(fieldValue, arg any) bool

// Registry holds named codecs, operators, and id generators available to
// a database. The zero value is not ready for use; call [New] or
// [Default].
type Registry struct {
	Codecs    *codec.Registry
	operators map[string]Operator
	idGens    map[string]IDGenerator
}

// New builds a registry pre-populated with ProseQL's built-ins: the
// default codec set and the uuidv7 id generator registered as "uuidv7".
func New() *Registry {
	r := &Registry{
		Codecs:    codec.NewRegistry(),
		operators: make(map[string]Operator),
		idGens:    make(map[string]IDGenerator),
	}
	r.idGens["uuidv7"] = uuidv7.New
	return r
}

var defaultRegistry = New()

// Default returns the package-level default registry used by
// proseql.Open when the caller supplies no explicit registry. It is a
// regular value, not a hidden singleton consulted implicitly elsewhere —
// callers that want isolation build their own with [New].
func Default() *Registry { return defaultRegistry }

// RegisterOperator adds a custom query operator. Names must start with
// "$" and must not collide with a built-in operator name.
func (r *Registry) RegisterOperator(name string, op Operator) error {
	if !strings.HasPrefix(name, "$") {
		return apperr.Plugin(name, "operator names must start with \"$\"")
	}
	if isBuiltinOperator(name) {
		return apperr.Plugin(name, "operator name conflicts with a built-in operator")
	}
	if _, exists := r.operators[name]; exists {
		return apperr.Plugin(name, "operator already registered by another plugin")
	}
	r.operators[name] = op
	return nil
}

// Operator resolves a registered custom operator by name.
func (r *Registry) Operator(name string) (Operator, bool) {
	op, ok := r.operators[name]
	return op, ok
}

// RegisterIDGenerator adds a named id generator a collection can opt into.
func (r *Registry) RegisterIDGenerator(name string, gen IDGenerator) error {
	if _, exists := r.idGens[name]; exists {
		return apperr.Plugin(name, "id generator already registered under this name")
	}
	r.idGens[name] = gen
	return nil
}

// IDGenerator resolves a named id generator, defaulting to uuidv7 if name
// is empty.
func (r *Registry) IDGenerator(name string) (IDGenerator, error) {
	if name == "" {
		name = "uuidv7"
	}
	gen, ok := r.idGens[name]
	if !ok {
		return nil, apperr.Plugin(name, "no id generator registered under this name")
	}
	return gen, nil
}

func isBuiltinOperator(name string) bool {
	switch name {
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in", "$nin",
		"$startsWith", "$endsWith", "$contains", "$all", "$size",
		"$search", "$or", "$and", "$not":
		return true
	}
	return false
}
