// Package sol computes statute-of-limitations dates from per-state rules.
package sol

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRule is returned for a rule table entry that cannot be used.
var ErrInvalidRule = errors.New("invalid jurisdiction rule")

// Rules maps a state code to its limitation period in whole years.
// A Rules value is read-only once built.
type Rules struct {
	years map[string]int
}

// NewRules validates and copies a state -> years mapping. State codes are
// trimmed and upper-cased; empty codes and negative periods are rejected.
func NewRules(m map[string]int) (*Rules, error) {
	years := make(map[string]int, len(m))
	for code, period := range m {
		key := normalizeState(code)
		if key == "" {
			return nil, fmt.Errorf("%w: empty state code", ErrInvalidRule)
		}
		if period < 0 {
			return nil, fmt.Errorf("%w: state %s has negative period %d", ErrInvalidRule, key, period)
		}
		if prev, dup := years[key]; dup && prev != period {
			return nil, fmt.Errorf("%w: state %s listed twice with %d and %d years", ErrInvalidRule, key, prev, period)
		}
		years[key] = period
	}
	return &Rules{years: years}, nil
}

// LoadRules reads a rule document (JSON or YAML mapping of state -> years).
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var m map[string]int
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: rule file %s has no entries", ErrInvalidRule, path)
	}

	return NewRules(m)
}

// Period returns the limitation period for a state.
func (r *Rules) Period(state string) (int, bool) {
	if r == nil {
		return 0, false
	}
	years, ok := r.years[normalizeState(state)]
	return years, ok
}

// States returns the configured state codes in sorted order.
func (r *Rules) States() []string {
	states := make([]string, 0, len(r.years))
	for s := range r.years {
		states = append(states, s)
	}
	sort.Strings(states)
	return states
}

// Len returns the number of configured states.
func (r *Rules) Len() int { return len(r.years) }

func normalizeState(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
