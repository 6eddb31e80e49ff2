package ruleset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"grimm.is/ferrule"
	"grimm.is/ferrule/xt"
)

// Build turns the document into table images, one per table block. User
// chains come into existence before any rule is added, so forward jumps
// inside a table work regardless of declaration order.
func (rs *Ruleset) Build() ([]*ferrule.Table, error) {
	f, err := rs.family()
	if err != nil {
		return nil, err
	}
	tables := make([]*ferrule.Table, 0, len(rs.Tables))
	for _, tb := range rs.Tables {
		t, err := ferrule.NewTable(f, tb.Name)
		if err != nil {
			return nil, err
		}
		for _, cb := range tb.Chains {
			if _, err := t.Chain(cb.Name); err != nil {
				if _, err := t.CreateChain(cb.Name); err != nil {
					return nil, fmt.Errorf("table %q: %w", tb.Name, err)
				}
			}
		}
		for _, cb := range tb.Chains {
			c, err := t.Chain(cb.Name)
			if err != nil {
				return nil, err
			}
			if cb.Policy != "" {
				if err := c.SetPolicy(ferrule.Policy(cb.Policy)); err != nil {
					return nil, fmt.Errorf("chain %q: %w", cb.Name, err)
				}
			}
			for i, rb := range cb.Rules {
				r, err := rb.build(t, c)
				if err != nil {
					return nil, fmt.Errorf("table %q, chain %q, rule %d: %w", tb.Name, cb.Name, i+1, err)
				}
				if err := c.AppendRule(r); err != nil {
					return nil, fmt.Errorf("table %q, chain %q, rule %d: %w", tb.Name, cb.Name, i+1, err)
				}
			}
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (rb *RuleBlock) build(t *ferrule.Table, c *ferrule.Chain) (*ferrule.Rule, error) {
	r := c.NewRule()
	if err := r.SetProtocol(rb.Protocol); err != nil {
		return nil, err
	}
	if err := r.SetSource(rb.Source); err != nil {
		return nil, err
	}
	if err := r.SetDestination(rb.Destination); err != nil {
		return nil, err
	}
	if err := r.SetInInterface(rb.InInterface); err != nil {
		return nil, err
	}
	if err := r.SetOutInterface(rb.OutInterface); err != nil {
		return nil, err
	}
	if err := r.SetFragment(rb.Fragment); err != nil {
		return nil, err
	}
	if err := r.SetFragmentInvert(rb.NotFragment); err != nil {
		return nil, err
	}

	for _, mb := range rb.Matches {
		m, err := r.NewMatch(mb.Kind)
		if err != nil {
			return nil, err
		}
		for _, name := range sortedKeys(mb.Params) {
			if err := m.SetParameter(name, mb.Params[name]); err != nil {
				return nil, err
			}
		}
		if err := r.AddMatch(m); err != nil {
			return nil, err
		}
	}

	tg, err := buildTarget(t, rb.Target)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(rb.Options) {
		if err := tg.SetParameter(name, rb.Options[name]); err != nil {
			return nil, err
		}
	}
	r.SetTarget(tg)
	return r, nil
}

// buildTarget resolves a target name: a registered kind wins, anything else
// is a jump to a chain in the same table.
func buildTarget(t *ferrule.Table, name string) (*ferrule.Target, error) {
	if name == "" {
		return nil, ferrule.ErrMissingTarget
	}
	if _, err := xt.Lookup(xt.ClassTarget, name); err == nil {
		return ferrule.NewTarget(name)
	}
	if _, err := t.Chain(name); err != nil {
		return nil, fmt.Errorf("target %q is neither a registered kind nor a chain in table %q",
			name, t.Name())
	}
	return ferrule.NewJumpTarget(name), nil
}

// Apply builds every table and commits each through the session. Tables
// commit in file order; the first failure stops the walk and reports which
// tables were already installed.
func (rs *Ruleset) Apply(ctx context.Context, s *ferrule.Session) error {
	tables, err := rs.Build()
	if err != nil {
		return err
	}
	var done []string
	for _, t := range tables {
		if err := s.Commit(ctx, t); err != nil {
			if len(done) > 0 {
				return fmt.Errorf("after committing %s: %w", strings.Join(done, ", "), err)
			}
			return err
		}
		done = append(done, t.Name())
	}
	return nil
}

// FromTables builds a document from live table images, the inverse of
// Build. Counters are not carried.
func FromTables(tables []*ferrule.Table) (*Ruleset, error) {
	rs := &Ruleset{}
	for i, t := range tables {
		if i == 0 {
			rs.Family = t.Family().String()
		} else if rs.Family != t.Family().String() {
			return nil, fmt.Errorf("mixed families: %s and %s", rs.Family, t.Family())
		}
		tb := TableBlock{Name: t.Name()}
		for _, c := range t.Chains() {
			cb := ChainBlock{Name: c.Name()}
			if c.IsBuiltin() {
				cb.Policy = string(c.Policy())
			}
			for _, r := range c.Rules() {
				cb.Rules = append(cb.Rules, fromRule(r))
			}
			tb.Chains = append(tb.Chains, cb)
		}
		rs.Tables = append(rs.Tables, tb)
	}
	return rs, nil
}

func fromRule(r *ferrule.Rule) RuleBlock {
	rb := RuleBlock{
		Protocol:     r.Protocol(),
		Source:       r.Source(),
		Destination:  r.Destination(),
		InInterface:  r.InInterface(),
		OutInterface: r.OutInterface(),
		Fragment:     r.Fragment(),
		NotFragment:  r.FragmentInvert(),
	}
	for _, m := range r.Matches() {
		mb := MatchBlock{Kind: m.Kind()}
		if p := m.Parameters(); len(p) > 0 {
			mb.Params = p
		}
		rb.Matches = append(rb.Matches, mb)
	}
	if t := r.Target(); t != nil {
		rb.Target = t.Kind()
		if p := t.Parameters(); len(p) > 0 {
			rb.Options = p
		}
	}
	return rb
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
