package ferrule

import (
	"fmt"
	"sort"

	"grimm.is/ferrule/xt"
)

// Match is one parameterized packet criterion beyond the rule's base fields.
// Parameters are set and read as strings and validated against the kind's
// schema immediately; a leading "!" negates a negatable parameter.
type Match struct {
	schema *xt.Schema
	family Family
	params map[string]string
}

func newMatch(f Family, kind string) (*Match, error) {
	s, err := xt.Lookup(xt.ClassMatch, kind)
	if err != nil {
		return nil, err
	}
	if s.Implicit {
		return nil, fmt.Errorf("%w: %q is implicit in the rule's own fields",
			ErrUnsupportedKind, kind)
	}
	return &Match{schema: s, family: f, params: make(map[string]string)}, nil
}

// Kind returns the match's kind name.
func (m *Match) Kind() string { return m.schema.Kind }

// SetParameter validates and stores one named parameter. The stored value is
// the canonical rendering of the input.
func (m *Match) SetParameter(name, value string) error {
	canon, err := m.schema.Validate(m.family, name, value)
	if err != nil {
		return err
	}
	m.params[name] = canon
	return nil
}

// Parameter returns the canonical value of a parameter, or "" when unset.
func (m *Match) Parameter(name string) string { return m.params[name] }

// Parameters returns a copy of the explicitly set parameters.
func (m *Match) Parameters() map[string]string {
	out := make(map[string]string, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// Equal reports kind and parameter equality.
func (m *Match) Equal(o *Match) bool {
	if m.schema.Kind != o.schema.Kind || len(m.params) != len(o.params) {
		return false
	}
	for k, v := range m.params {
		if o.params[k] != v {
			return false
		}
	}
	return true
}

func (m *Match) clone() *Match {
	c := &Match{schema: m.schema, family: m.family, params: make(map[string]string, len(m.params))}
	for k, v := range m.params {
		c.params[k] = v
	}
	return c
}

// optionOrder yields parameter names schema-first for stable rendering.
func (m *Match) optionOrder() []string {
	var names []string
	for _, ps := range m.schema.Params {
		if _, ok := m.params[ps.Name]; ok {
			names = append(names, ps.Name)
		}
	}
	// Anything the schema order did not cover.
	if len(names) != len(m.params) {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			seen[n] = true
		}
		var rest []string
		for n := range m.params {
			if !seen[n] {
				rest = append(rest, n)
			}
		}
		sort.Strings(rest)
		names = append(names, rest...)
	}
	return names
}
