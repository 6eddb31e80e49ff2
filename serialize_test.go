package ferrule

import (
	"errors"
	"testing"

	"grimm.is/ferrule/xt"
)

// buildFilterTable assembles a filter table with traffic on every feature the
// serializer has to carry: policies, matches, extended targets, a user chain
// and a jump into it.
func buildFilterTable(t *testing.T, f Family) *Table {
	t.Helper()
	tbl, err := NewTable(f, TableFilter)
	if err != nil {
		t.Fatal(err)
	}

	audit, err := tbl.CreateChain("AUDIT")
	if err != nil {
		t.Fatal(err)
	}
	logr := audit.NewRule()
	logTgt, err := NewTarget("LOG")
	if err != nil {
		t.Fatal(err)
	}
	if err := logTgt.SetParameter("log-prefix", "audit: "); err != nil {
		t.Fatal(err)
	}
	logr.SetTarget(logTgt)
	if err := audit.AppendRule(logr); err != nil {
		t.Fatal(err)
	}

	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	if err := input.SetPolicy(PolicyDrop); err != nil {
		t.Fatal(err)
	}

	ssh := input.NewRule()
	if err := ssh.SetProtocol("tcp"); err != nil {
		t.Fatal(err)
	}
	src := "10.0.0.0/8"
	if f == IPv6 {
		src = "2001:db8::/32"
	}
	if err := ssh.SetSource(src); err != nil {
		t.Fatal(err)
	}
	m, err := ssh.NewMatch("tcp")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetParameter("dport", "22"); err != nil {
		t.Fatal(err)
	}
	if err := ssh.AddMatch(m); err != nil {
		t.Fatal(err)
	}
	acc, err := NewTarget("ACCEPT")
	if err != nil {
		t.Fatal(err)
	}
	ssh.SetTarget(acc)
	if err := input.AppendRule(ssh); err != nil {
		t.Fatal(err)
	}

	jump := input.NewRule()
	jump.SetTarget(NewJumpTarget("AUDIT"))
	if err := input.AppendRule(jump); err != nil {
		t.Fatal(err)
	}

	return tbl
}

func TestTableSerializeRoundTrip(t *testing.T) {
	for _, f := range []Family{IPv4, IPv6} {
		t.Run(f.String(), func(t *testing.T) {
			tbl := buildFilterTable(t, f)

			rep, entries, err := tbl.marshalReplace()
			if err != nil {
				t.Fatal(err)
			}
			if int(rep.Size) != len(entries) {
				t.Fatalf("Size %d, payload %d", rep.Size, len(entries))
			}

			got, err := parseTable(f, TableFilter, replaceInfo(rep), entries)
			if err != nil {
				t.Fatal(err)
			}
			if !tbl.Equal(got) {
				t.Errorf("round trip mismatch:\n%s\nvs\n%s", tbl.Render(), got.Render())
			}

			// The jump must come back as a jump to AUDIT.
			in, err := got.Chain("INPUT")
			if err != nil {
				t.Fatal(err)
			}
			last := in.Rules()[in.Len()-1]
			if tgt := last.Target(); tgt == nil || !tgt.IsJump() || tgt.JumpChain() != "AUDIT" {
				t.Errorf("jump decoded as %v", last.Target())
			}
		})
	}
}

func TestMarshalReplaceLayout(t *testing.T) {
	// A pristine filter table serializes to three policy feet and the
	// trailing marker.
	tbl := testTable(t)
	rep, entries, err := tbl.marshalReplace()
	if err != nil {
		t.Fatal(err)
	}

	foot := xt.SizeOfEntryIPv4 + xt.SizeOfStandardTarget
	marker := xt.SizeOfEntryIPv4 + xt.SizeOfErrorTarget

	if rep.NumEntries != 4 {
		t.Errorf("NumEntries = %d, want 4", rep.NumEntries)
	}
	if want := 3*foot + marker; int(rep.Size) != want || len(entries) != want {
		t.Errorf("Size = %d (payload %d), want %d", rep.Size, len(entries), want)
	}
	if rep.ValidHooks != 1<<xt.HookInput|1<<xt.HookForward|1<<xt.HookOutput {
		t.Errorf("ValidHooks = %#x", rep.ValidHooks)
	}

	// Empty chains: HookEntry and Underflow coincide, each one foot apart.
	for i, hook := range []int{xt.HookInput, xt.HookForward, xt.HookOutput} {
		want := uint32(i * foot)
		if rep.HookEntry[hook] != want || rep.Underflow[hook] != want {
			t.Errorf("hook %d: entry %d underflow %d, want %d",
				hook, rep.HookEntry[hook], rep.Underflow[hook], want)
		}
	}
}

func TestMarshalReplaceHookOffsets(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	if err := input.AppendRule(acceptRule(t, input, "")); err != nil {
		t.Fatal(err)
	}

	rep, _, err := tbl.marshalReplace()
	if err != nil {
		t.Fatal(err)
	}

	rule := xt.SizeOfEntryIPv4 + xt.SizeOfStandardTarget
	foot := rule
	if rep.HookEntry[xt.HookInput] != 0 {
		t.Errorf("INPUT entry = %d", rep.HookEntry[xt.HookInput])
	}
	if rep.Underflow[xt.HookInput] != uint32(rule) {
		t.Errorf("INPUT underflow = %d, want %d", rep.Underflow[xt.HookInput], rule)
	}
	if rep.HookEntry[xt.HookForward] != uint32(rule+foot) {
		t.Errorf("FORWARD entry = %d, want %d", rep.HookEntry[xt.HookForward], rule+foot)
	}
}

func TestMarshalReplaceRejectsTargetlessRule(t *testing.T) {
	tbl := testTable(t)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	// Slip a target-less rule past the chain API.
	input.rules = append(input.rules, input.NewRule())
	if _, _, err := tbl.marshalReplace(); !errors.Is(err, ErrMissingTarget) {
		t.Errorf("got %v", err)
	}
}

func TestSerializeCounters(t *testing.T) {
	tbl := buildFilterTable(t, IPv4)
	input, err := tbl.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	input.counters = Counters{Packets: 7, Bytes: 777}
	input.rules[0].counters = Counters{Packets: 3, Bytes: 333}
	audit, err := tbl.Chain("AUDIT")
	if err != nil {
		t.Fatal(err)
	}
	audit.counters = Counters{Packets: 1, Bytes: 111}

	rep, entries, err := tbl.marshalReplace()
	if err != nil {
		t.Fatal(err)
	}
	got, err := parseTable(IPv4, TableFilter, replaceInfo(rep), entries)
	if err != nil {
		t.Fatal(err)
	}

	gi, err := got.Chain("INPUT")
	if err != nil {
		t.Fatal(err)
	}
	if gi.Counters() != (Counters{Packets: 7, Bytes: 777}) {
		t.Errorf("INPUT counters = %+v", gi.Counters())
	}
	if gi.Rules()[0].Counters() != (Counters{Packets: 3, Bytes: 333}) {
		t.Errorf("rule counters = %+v", gi.Rules()[0].Counters())
	}
	ga, err := got.Chain("AUDIT")
	if err != nil {
		t.Fatal(err)
	}
	if ga.Counters() != (Counters{Packets: 1, Bytes: 111}) {
		t.Errorf("AUDIT counters = %+v", ga.Counters())
	}
}

func TestSerializeExplicitReturnRule(t *testing.T) {
	// A user's own trailing RETURN rule must survive the round trip and not
	// be mistaken for the chain foot.
	tbl := testTable(t)
	audit, err := tbl.CreateChain("AUDIT")
	if err != nil {
		t.Fatal(err)
	}
	ret := audit.NewRule()
	retTgt, err := NewTarget("RETURN")
	if err != nil {
		t.Fatal(err)
	}
	ret.SetTarget(retTgt)
	if err := audit.AppendRule(ret); err != nil {
		t.Fatal(err)
	}

	rep, entries, err := tbl.marshalReplace()
	if err != nil {
		t.Fatal(err)
	}
	got, err := parseTable(IPv4, TableFilter, replaceInfo(rep), entries)
	if err != nil {
		t.Fatal(err)
	}
	ga, err := got.Chain("AUDIT")
	if err != nil {
		t.Fatal(err)
	}
	if ga.Len() != 1 {
		t.Fatalf("AUDIT rule count = %d, want 1", ga.Len())
	}
	tgt := ga.Rules()[0].Target()
	if tgt == nil || tgt.IsJump() || tgt.Kind() != "RETURN" {
		t.Errorf("decoded target %v", tgt)
	}
}

func TestParseTableRejectsGarbage(t *testing.T) {
	tbl := testTable(t)
	rep, entries, err := tbl.marshalReplace()
	if err != nil {
		t.Fatal(err)
	}
	info := replaceInfo(rep)

	// Truncation loses the trailing marker or corrupts an entry.
	if _, err := parseTable(IPv4, TableFilter, info, entries[:len(entries)-8]); err == nil {
		t.Error("truncated blob parsed")
	}
	if _, err := parseTable(IPv4, TableFilter, info, nil); err == nil {
		t.Error("empty blob parsed")
	}
}
