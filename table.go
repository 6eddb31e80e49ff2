package ferrule

import (
	"fmt"
	"strings"

	"grimm.is/ferrule/xt"
)

// Table is an in-memory image of one kernel table: its fixed built-in
// chains plus any user-defined chains. Edits stay local until the table is
// committed through a Session.
type Table struct {
	family Family
	name   string

	chains    map[string]*Chain
	userOrder []string // user chains in creation order
	layout    []builtinChain
}

// NewTable creates an empty table image with its built-in chains present,
// policies ACCEPT, and no rules. The name must belong to the family's fixed
// table set.
func NewTable(f Family, name string) (*Table, error) {
	layout, err := layoutFor(f, name)
	if err != nil {
		return nil, err
	}
	t := &Table{
		family: f,
		name:   name,
		chains: make(map[string]*Chain),
		layout: layout,
	}
	for _, bc := range layout {
		t.chains[bc.name] = &Chain{
			table:   t,
			name:    bc.name,
			builtin: true,
			hook:    bc.hook,
			policy:  PolicyAccept,
		}
	}
	return t, nil
}

// Family returns the table's protocol family.
func (t *Table) Family() Family { return t.family }

// Name returns the kernel table name.
func (t *Table) Name() string { return t.name }

// Chain returns the named chain.
func (t *Table) Chain(name string) (*Chain, error) {
	c, ok := t.chains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in table %q", ErrNoSuchChain, name, t.name)
	}
	return c, nil
}

// Chains returns all chains: built-ins in hook order, then user chains in
// creation order.
func (t *Table) Chains() []*Chain {
	out := make([]*Chain, 0, len(t.chains))
	for _, bc := range t.layout {
		out = append(out, t.chains[bc.name])
	}
	for _, name := range t.userOrder {
		out = append(out, t.chains[name])
	}
	return out
}

// checkChainName enforces the kernel's chain name constraints.
func checkChainName(name string) error {
	if name == "" || len(name) >= xt.FunctionMaxLen {
		return fmt.Errorf("%w: chain name %q", ErrInvalidParameter, name)
	}
	if name == xt.ErrorTargetName {
		return fmt.Errorf("%w: chain name %q is reserved", ErrInvalidParameter, name)
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: chain name %q contains whitespace", ErrInvalidParameter, name)
	}
	return nil
}

// CreateChain adds an empty user chain.
func (t *Table) CreateChain(name string) (*Chain, error) {
	if err := checkChainName(name); err != nil {
		return nil, err
	}
	if _, ok := t.chains[name]; ok {
		return nil, fmt.Errorf("%w: %q in table %q", ErrDuplicateChain, name, t.name)
	}
	c := &Chain{table: t, name: name}
	t.chains[name] = c
	t.userOrder = append(t.userOrder, name)
	return c, nil
}

// DeleteChain removes an empty, unreferenced user chain.
func (t *Table) DeleteChain(name string) error {
	c, err := t.Chain(name)
	if err != nil {
		return err
	}
	if c.builtin {
		return fmt.Errorf("%w: %q", ErrBuiltinChain, name)
	}
	if len(c.rules) > 0 {
		return fmt.Errorf("%w: %q holds %d rules", ErrNotEmpty, name, len(c.rules))
	}
	if refs := c.referencedBy(); len(refs) > 0 {
		return fmt.Errorf("%w: %q is jumped to from %s", ErrChainInUse, name, strings.Join(refs, ", "))
	}
	delete(t.chains, name)
	for i, n := range t.userOrder {
		if n == name {
			t.userOrder = append(t.userOrder[:i], t.userOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RenameChain renames a user chain, updating every jump that references it.
func (t *Table) RenameChain(oldName, newName string) error {
	c, err := t.Chain(oldName)
	if err != nil {
		return err
	}
	if c.builtin {
		return fmt.Errorf("%w: %q", ErrBuiltinChain, oldName)
	}
	if err := checkChainName(newName); err != nil {
		return err
	}
	if _, ok := t.chains[newName]; ok {
		return fmt.Errorf("%w: %q in table %q", ErrDuplicateChain, newName, t.name)
	}
	delete(t.chains, oldName)
	c.name = newName
	t.chains[newName] = c
	for i, n := range t.userOrder {
		if n == oldName {
			t.userOrder[i] = newName
			break
		}
	}
	for _, other := range t.chains {
		for _, r := range other.rules {
			if r.target != nil && r.target.IsJump() && r.target.JumpChain() == oldName {
				r.target.jumpTo = newName
			}
		}
	}
	return nil
}

// Flush removes every rule from every chain, keeping chains and policies.
func (t *Table) Flush() {
	for _, c := range t.chains {
		c.Flush()
	}
}

// Reset restores the table to its pristine state: built-in chains only,
// empty, policies ACCEPT.
func (t *Table) Reset() {
	for _, name := range t.userOrder {
		delete(t.chains, name)
	}
	t.userOrder = nil
	for _, c := range t.chains {
		c.rules = nil
		c.policy = PolicyAccept
		c.counters = Counters{}
	}
}

// NumRules returns the total rule count across all chains.
func (t *Table) NumRules() int {
	n := 0
	for _, c := range t.chains {
		n += len(c.rules)
	}
	return n
}

// Clone returns a deep copy of the table image.
func (t *Table) Clone() *Table {
	nt := &Table{
		family: t.family,
		name:   t.name,
		chains: make(map[string]*Chain, len(t.chains)),
		layout: t.layout,
	}
	nt.userOrder = append([]string(nil), t.userOrder...)
	for name, c := range t.chains {
		nt.chains[name] = c.clone(nt)
	}
	return nt
}

// Equal reports whether two table images hold the same chains, policies and
// rules. Counters are ignored.
func (t *Table) Equal(o *Table) bool {
	if t.family != o.family || t.name != o.name || len(t.chains) != len(o.chains) {
		return false
	}
	if len(t.userOrder) != len(o.userOrder) {
		return false
	}
	for i := range t.userOrder {
		if t.userOrder[i] != o.userOrder[i] {
			return false
		}
	}
	for name, c := range t.chains {
		oc, ok := o.chains[name]
		if !ok || c.builtin != oc.builtin || c.policy != oc.policy || len(c.rules) != len(oc.rules) {
			return false
		}
		for i := range c.rules {
			if !c.rules[i].Equal(oc.rules[i]) {
				return false
			}
		}
	}
	return true
}
