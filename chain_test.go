package ferrule

import (
	"errors"
	"testing"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(IPv4, TableFilter)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func acceptRule(t *testing.T, c *Chain, src string) *Rule {
	t.Helper()
	r := c.NewRule()
	if src != "" {
		if err := r.SetSource(src); err != nil {
			t.Fatal(err)
		}
	}
	tgt, err := NewTarget("ACCEPT")
	if err != nil {
		t.Fatal(err)
	}
	r.SetTarget(tgt)
	return r
}

func TestChainPolicy(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	if input.Policy() != PolicyAccept {
		t.Errorf("initial policy = %q", input.Policy())
	}
	if err := input.SetPolicy(PolicyDrop); err != nil {
		t.Fatal(err)
	}
	if input.Policy() != PolicyDrop {
		t.Errorf("policy = %q", input.Policy())
	}
	if err := input.SetPolicy(Policy("RETURN")); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("RETURN policy: %v", err)
	}

	user, err := tbl.CreateChain("LOGDROP")
	if err != nil {
		t.Fatal(err)
	}
	if err := user.SetPolicy(PolicyDrop); !errors.Is(err, ErrNotBuiltinChain) {
		t.Errorf("policy on user chain: %v", err)
	}
}

func TestChainRuleOrder(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}

	first := acceptRule(t, input, "10.0.0.1")
	second := acceptRule(t, input, "10.0.0.2")
	third := acceptRule(t, input, "10.0.0.3")

	if err := input.AppendRule(second); err != nil {
		t.Fatal(err)
	}
	if err := input.InsertRule(first); err != nil {
		t.Fatal(err)
	}
	if err := input.InsertRuleAt(2, third); err != nil {
		t.Fatal(err)
	}

	rules := input.Rules()
	if len(rules) != 3 {
		t.Fatalf("rule count = %d", len(rules))
	}
	for i, want := range []string{"10.0.0.1/32", "10.0.0.2/32", "10.0.0.3/32"} {
		if rules[i].Source() != want {
			t.Errorf("rule %d source = %q, want %q", i, rules[i].Source(), want)
		}
	}

	if got := input.FindRule(second); got != 1 {
		t.Errorf("FindRule = %d, want 1", got)
	}
	if err := input.DeleteRule(second); err != nil {
		t.Fatal(err)
	}
	if input.Len() != 2 {
		t.Errorf("Len after delete = %d", input.Len())
	}
	if got := input.FindRule(second); got != -1 {
		t.Errorf("FindRule after delete = %d", got)
	}

	repl := acceptRule(t, input, "172.16.0.1")
	if err := input.ReplaceRuleAt(0, repl); err != nil {
		t.Fatal(err)
	}
	if input.Rules()[0].Source() != "172.16.0.1/32" {
		t.Errorf("replaced rule source = %q", input.Rules()[0].Source())
	}

	input.Flush()
	if input.Len() != 0 {
		t.Errorf("Len after flush = %d", input.Len())
	}
}

func TestChainPositionErrors(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	r := acceptRule(t, input, "")

	if err := input.InsertRuleAt(1, r); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("insert past end: %v", err)
	}
	if err := input.InsertRuleAt(-1, r); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("negative insert: %v", err)
	}
	if err := input.ReplaceRuleAt(0, r); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("replace in empty chain: %v", err)
	}
	if err := input.DeleteRuleAt(0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("delete in empty chain: %v", err)
	}
	if err := input.DeleteRule(r); !errors.Is(err, ErrNoSuchRule) {
		t.Errorf("deleting an absent rule: %v", err)
	}
}

func TestChainRejectsBadRules(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}

	// No target.
	if err := input.AppendRule(input.NewRule()); !errors.Is(err, ErrMissingTarget) {
		t.Errorf("target-less rule: %v", err)
	}

	// Wrong family.
	r6 := NewRule(IPv6)
	tgt, err := NewTarget("ACCEPT")
	if err != nil {
		t.Fatal(err)
	}
	r6.SetTarget(tgt)
	if err := input.AppendRule(r6); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("cross-family rule: %v", err)
	}

	// Jump to a chain that does not exist.
	ghost := input.NewRule()
	ghost.SetTarget(NewJumpTarget("GHOST"))
	if err := input.AppendRule(ghost); !errors.Is(err, ErrNoSuchChain) {
		t.Errorf("jump to missing chain: %v", err)
	}

	// Jump to a builtin chain.
	loop := input.NewRule()
	loop.SetTarget(NewJumpTarget("OUTPUT"))
	if err := input.AppendRule(loop); !errors.Is(err, ErrBuiltinChain) {
		t.Errorf("jump to builtin: %v", err)
	}

	if input.Len() != 0 {
		t.Errorf("rejected rules left %d rules behind", input.Len())
	}
}

func TestChainResetCounters(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	r := acceptRule(t, input, "")
	if err := input.AppendRule(r); err != nil {
		t.Fatal(err)
	}
	input.counters = Counters{Packets: 5, Bytes: 600}
	r.counters = Counters{Packets: 2, Bytes: 80}

	input.ResetCounters()
	if input.Counters() != (Counters{}) {
		t.Errorf("chain counters = %+v", input.Counters())
	}
	if r.Counters() != (Counters{}) {
		t.Errorf("rule counters = %+v", r.Counters())
	}
}
