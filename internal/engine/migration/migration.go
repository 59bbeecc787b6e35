/*
Package migration implements the schema migration chain validator and
applier (spec §4.11). It replaces the teacher repo's golang-migrate
wrapper — that package drove sequential SQL files against a live Postgres
connection, a shape with no analogue here: ProseQL migrations are pure
in-memory transforms over a decoded JSON envelope, run once at database
construction, not a deployment-time schema-migration CLI.
*/
package migration

import (
	"sort"

	"github.com/proseql/proseql/internal/platform/apperr"
)

// Step is one version-to-version transform. Transform receives the raw
// decoded envelope (before schema decoding) and returns the upgraded
// envelope; it must not mutate its input in place.
type Step struct {
	From        int
	To          int
	Transform   func(map[string]any) (map[string]any, error)
	Description string
}

// Chain is a validated, sorted sequence of [Step]s upgrading a
// collection's persisted data from version 0 to Version.
type Chain struct {
	Collection string
	Version    int
	steps      []Step
}

// Validate builds a [Chain] from an unordered step list, applying spec
// §4.11's chain rules:
//   - version 0 with no steps is valid (nothing to migrate)
//   - version > 0 with no steps is invalid
//   - every step must satisfy to == from+1
//   - no two steps may share a From
//   - sorted steps must form a contiguous run from 0 to version
func Validate(collection string, version int, steps []Step) (*Chain, error) {
	if version == 0 && len(steps) == 0 {
		return &Chain{Collection: collection, Version: 0}, nil
	}
	if version > 0 && len(steps) == 0 {
		return nil, apperr.Migration(collection, 0, version, -1, "declared version > 0 but no migrations registered")
	}

	sorted := append([]Step(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	seen := make(map[int]bool, len(sorted))
	for i, s := range sorted {
		if s.To != s.From+1 {
			return nil, apperr.Migration(collection, s.From, s.To, i, "step must satisfy to == from + 1")
		}
		if seen[s.From] {
			return nil, apperr.Migration(collection, s.From, s.To, i, "duplicate migration registered for the same fromVersion")
		}
		seen[s.From] = true
		if s.From != i {
			return nil, apperr.Migration(collection, s.From, s.To, i, "migration chain is not contiguous starting at version 0")
		}
	}
	if sorted[len(sorted)-1].To != version {
		return nil, apperr.Migration(collection, sorted[len(sorted)-1].From, sorted[len(sorted)-1].To, len(sorted)-1,
			"migration chain does not reach the declared version")
	}

	return &Chain{Collection: collection, Version: version, steps: sorted}, nil
}

// Apply runs every step from fromVersion up to the chain's declared
// version, in order, on envelope. fromVersion is the `_version` recorded
// in the persisted file (0 if absent).
func (c *Chain) Apply(fromVersion int, envelope map[string]any) (map[string]any, error) {
	if fromVersion > c.Version {
		return nil, apperr.Migration(c.Collection, fromVersion, c.Version, -1, "persisted version is newer than the declared schema version")
	}
	current := envelope
	for i := fromVersion; i < c.Version; i++ {
		step := c.steps[i]
		upgraded, err := step.Transform(current)
		if err != nil {
			return nil, apperr.Migration(c.Collection, step.From, step.To, i, err.Error())
		}
		current = upgraded
	}
	return current, nil
}

// Steps exposes the validated, sorted step list (read-only use, e.g. for
// dryRunMigrations reporting).
func (c *Chain) Steps() []Step {
	return append([]Step(nil), c.steps...)
}
