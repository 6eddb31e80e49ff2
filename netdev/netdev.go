// Package netdev checks rule interface criteria against the interfaces the
// system actually has. Rules happily match on devices that do not exist;
// resolving patterns ahead of a commit catches typos in ruleset files.
package netdev

import (
	"fmt"
	"sort"
	"strings"
)

// Resolver lists the system's interface names. The production resolver
// reads them over netlink; tests use a StaticResolver.
type Resolver interface {
	Interfaces() ([]string, error)
}

// StaticResolver serves a fixed name list.
type StaticResolver []string

func (s StaticResolver) Interfaces() ([]string, error) {
	return append([]string(nil), s...), nil
}

// Matches reports whether an interface name satisfies a rule pattern. A
// trailing "+" matches the device and everything sharing the prefix; a "!"
// prefix on the pattern is ignored here, negation is the rule's concern.
func Matches(pattern, name string) bool {
	pattern = strings.TrimPrefix(pattern, "!")
	if base, ok := strings.CutSuffix(pattern, "+"); ok {
		return strings.HasPrefix(name, base)
	}
	return pattern == name
}

// Resolve returns the system interfaces a pattern matches, sorted.
func Resolve(r Resolver, pattern string) ([]string, error) {
	names, err := r.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []string
	for _, n := range names {
		if Matches(pattern, n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Unmatched filters patterns down to those matching no system interface.
// Wildcard patterns with no current match are included; absent devices are
// exactly what this reports.
func Unmatched(r Resolver, patterns []string) ([]string, error) {
	names, err := r.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var missing []string
	for _, p := range patterns {
		found := false
		for _, n := range names {
			if Matches(p, n) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, p)
		}
	}
	return missing, nil
}
