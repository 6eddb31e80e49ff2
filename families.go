package ferrule

import (
	"fmt"

	"grimm.is/ferrule/xt"
)

// Family selects IPv4 or IPv6 rule tables.
type Family = xt.Family

const (
	IPv4 = xt.IPv4
	IPv6 = xt.IPv6
)

// Kernel table names. Each family exposes a fixed subset.
const (
	TableFilter   = "filter"
	TableNat      = "nat"
	TableMangle   = "mangle"
	TableRaw      = "raw"
	TableSecurity = "security"
)

// Policy is a built-in chain's default verdict.
type Policy string

const (
	PolicyAccept Policy = "ACCEPT"
	PolicyDrop   Policy = "DROP"
)

// builtinChain pairs a built-in chain name with its netfilter hook.
type builtinChain struct {
	name string
	hook int
}

// tableLayouts fixes, per family and table, the built-in chains in hook
// order. The set mirrors the kernel's table modules.
var tableLayouts = map[Family]map[string][]builtinChain{
	IPv4: {
		TableFilter: {
			{"INPUT", xt.HookInput},
			{"FORWARD", xt.HookForward},
			{"OUTPUT", xt.HookOutput},
		},
		TableNat: {
			{"PREROUTING", xt.HookPrerouting},
			{"INPUT", xt.HookInput},
			{"OUTPUT", xt.HookOutput},
			{"POSTROUTING", xt.HookPostrouting},
		},
		TableMangle: {
			{"PREROUTING", xt.HookPrerouting},
			{"INPUT", xt.HookInput},
			{"FORWARD", xt.HookForward},
			{"OUTPUT", xt.HookOutput},
			{"POSTROUTING", xt.HookPostrouting},
		},
		TableRaw: {
			{"PREROUTING", xt.HookPrerouting},
			{"OUTPUT", xt.HookOutput},
		},
	},
	IPv6: {
		TableFilter: {
			{"INPUT", xt.HookInput},
			{"FORWARD", xt.HookForward},
			{"OUTPUT", xt.HookOutput},
		},
		TableMangle: {
			{"PREROUTING", xt.HookPrerouting},
			{"INPUT", xt.HookInput},
			{"FORWARD", xt.HookForward},
			{"OUTPUT", xt.HookOutput},
			{"POSTROUTING", xt.HookPostrouting},
		},
		TableRaw: {
			{"PREROUTING", xt.HookPrerouting},
			{"OUTPUT", xt.HookOutput},
		},
		TableSecurity: {
			{"INPUT", xt.HookInput},
			{"FORWARD", xt.HookForward},
			{"OUTPUT", xt.HookOutput},
		},
	},
}

// TableNames lists the fixed table names for a family.
func TableNames(f Family) []string {
	if f == IPv6 {
		return []string{TableFilter, TableMangle, TableRaw, TableSecurity}
	}
	return []string{TableFilter, TableNat, TableMangle, TableRaw}
}

func layoutFor(f Family, table string) ([]builtinChain, error) {
	layout, ok := tableLayouts[f][table]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrNoSuchTable, table, f)
	}
	return layout, nil
}

func validHooks(layout []builtinChain) uint32 {
	var mask uint32
	for _, bc := range layout {
		mask |= 1 << uint(bc.hook)
	}
	return mask
}
