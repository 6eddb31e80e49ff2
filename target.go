package ferrule

import (
	"sort"

	"grimm.is/ferrule/xt"
)

// Target is the action taken on a matching packet: a standard verdict, an
// extended target with parameters, or a jump to a user-defined chain.
type Target struct {
	schema *xt.Schema // nil for jumps
	jumpTo string
	params map[string]string
}

// NewTarget creates a target of a registered kind bound to its defaults.
func NewTarget(kind string) (*Target, error) {
	s, err := xt.Lookup(xt.ClassTarget, kind)
	if err != nil {
		return nil, err
	}
	return &Target{schema: s, params: make(map[string]string)}, nil
}

// NewJumpTarget creates a jump to a user-defined chain. The chain must exist
// in the rule's table by commit time.
func NewJumpTarget(chain string) *Target {
	return &Target{jumpTo: chain, params: make(map[string]string)}
}

// Kind returns the target's kind name; for jumps, the destination chain.
func (t *Target) Kind() string {
	if t.IsJump() {
		return t.jumpTo
	}
	return t.schema.Kind
}

// IsJump reports whether the target jumps to a user-defined chain.
func (t *Target) IsJump() bool { return t.jumpTo != "" }

// JumpChain returns the destination chain of a jump target, or "".
func (t *Target) JumpChain() string { return t.jumpTo }

// SetParameter validates and stores one named parameter. Target parameters
// cannot be negated. Jump targets accept no parameters.
func (t *Target) SetParameter(name, value string) error {
	if t.IsJump() {
		return xt.ErrUnknownParameter
	}
	// Family-independent canonicalization; the family-sensitive checks run
	// again at encode time.
	canon, err := t.schema.Validate(xt.IPv4, name, value)
	if err != nil {
		return err
	}
	t.params[name] = canon
	return nil
}

// Parameter returns the canonical value of a parameter, or "" when unset.
func (t *Target) Parameter(name string) string { return t.params[name] }

// Parameters returns a copy of the explicitly set parameters.
func (t *Target) Parameters() map[string]string {
	out := make(map[string]string, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// Equal reports kind and parameter equality.
func (t *Target) Equal(o *Target) bool {
	if t.Kind() != o.Kind() || t.IsJump() != o.IsJump() || len(t.params) != len(o.params) {
		return false
	}
	for k, v := range t.params {
		if o.params[k] != v {
			return false
		}
	}
	return true
}

func (t *Target) clone() *Target {
	c := &Target{schema: t.schema, jumpTo: t.jumpTo, params: make(map[string]string, len(t.params))}
	for k, v := range t.params {
		c.params[k] = v
	}
	return c
}

func (t *Target) optionOrder() []string {
	if t.schema == nil {
		return nil
	}
	var names []string
	for _, ps := range t.schema.Params {
		if _, ok := t.params[ps.Name]; ok {
			names = append(names, ps.Name)
		}
	}
	if len(names) != len(t.params) {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			seen[n] = true
		}
		var rest []string
		for n := range t.params {
			if !seen[n] {
				rest = append(rest, n)
			}
		}
		sort.Strings(rest)
		names = append(names, rest...)
	}
	return names
}
