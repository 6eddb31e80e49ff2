package ferrule

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Render produces the table in iptables-save format: the table header,
// chain declarations with policies and chain counters, then every rule in
// order, terminated by COMMIT.
func (t *Table) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s\n", t.name)
	for _, c := range t.Chains() {
		policy := "-"
		if c.builtin {
			policy = string(c.policy)
		}
		fmt.Fprintf(&b, ":%s %s [%d:%d]\n", c.name, policy, c.counters.Packets, c.counters.Bytes)
	}
	for _, c := range t.Chains() {
		for _, r := range c.rules {
			fmt.Fprintf(&b, "-A %s %s\n", c.name, r.String())
		}
	}
	b.WriteString("COMMIT\n")
	return b.String()
}

// RenderWithCounters is Render with per-rule counter prefixes, matching
// iptables-save -c.
func (t *Table) RenderWithCounters() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s\n", t.name)
	for _, c := range t.Chains() {
		policy := "-"
		if c.builtin {
			policy = string(c.policy)
		}
		fmt.Fprintf(&b, ":%s %s [%d:%d]\n", c.name, policy, c.counters.Packets, c.counters.Bytes)
	}
	for _, c := range t.Chains() {
		for _, r := range c.rules {
			fmt.Fprintf(&b, "[%d:%d] -A %s %s\n", r.counters.Packets, r.counters.Bytes, c.name, r.String())
		}
	}
	b.WriteString("COMMIT\n")
	return b.String()
}

// Diff renders both tables and returns their unified diff. An empty string
// means the rendered rulesets are identical; counters are not compared.
func Diff(a, b *Table) (string, error) {
	ar, br := stripCounters(a.Render()), stripCounters(b.Render())
	if ar == br {
		return "", nil
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(ar),
		B:        difflib.SplitLines(br),
		FromFile: fmt.Sprintf("%s/%s", a.family, a.name),
		ToFile:   fmt.Sprintf("%s/%s", b.family, b.name),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(ud)
}

// stripCounters zeroes the chain counter brackets so diffs track structure,
// not traffic.
func stripCounters(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ":") {
			if j := strings.LastIndex(line, " ["); j >= 0 {
				lines[i] = line[:j] + " [0:0]"
			}
		}
	}
	return strings.Join(lines, "\n")
}
