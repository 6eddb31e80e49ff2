package xt

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	s, err := Lookup(ClassMatch, "tcp")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != "tcp" || s.Protocol != ProtoTCP {
		t.Errorf("unexpected schema %+v", s)
	}

	if _, err := Lookup(ClassTarget, "tcp"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("target lookup of match kind: %v", err)
	}
	if _, err := Lookup(ClassMatch, "nope"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("unknown kind: %v", err)
	}
}

func TestKindsSorted(t *testing.T) {
	kinds := Kinds(ClassTarget)
	if len(kinds) == 0 {
		t.Fatal("no target kinds registered")
	}
	for i := 1; i < len(kinds); i++ {
		if kinds[i-1] >= kinds[i] {
			t.Fatalf("kinds not sorted: %q before %q", kinds[i-1], kinds[i])
		}
	}
	for _, want := range []string{"ACCEPT", "DROP", "REJECT", "SNAT"} {
		found := false
		for _, k := range kinds {
			if k == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("kind %q missing from %v", want, kinds)
		}
	}
}

func TestValidate(t *testing.T) {
	tcp, err := Lookup(ClassMatch, "tcp")
	if err != nil {
		t.Fatal(err)
	}

	got, err := tcp.Validate(IPv4, "dport", "80")
	if err != nil {
		t.Fatal(err)
	}
	if got != "80" {
		t.Errorf("dport = %q", got)
	}

	got, err = tcp.Validate(IPv4, "dport", "!1:1024")
	if err != nil {
		t.Fatal(err)
	}
	if got != "!1:1024" {
		t.Errorf("negated dport = %q", got)
	}

	if _, err := tcp.Validate(IPv4, "window", "1"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("unknown parameter: %v", err)
	}
	if _, err := tcp.Validate(IPv4, "dport", "port80"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("bad value: %v", err)
	}

	state, err := Lookup(ClassMatch, "state")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := state.Validate(IPv4, "state", "!NEW"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("negating a non-negatable parameter: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	limit, err := Lookup(ClassMatch, "limit")
	if err != nil {
		t.Fatal(err)
	}
	d := limit.Defaults()
	if d["limit"] != "3/hour" || d["limit-burst"] != "5" {
		t.Errorf("limit defaults = %v", d)
	}

	state, err := Lookup(ClassMatch, "state")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Defaults()) != 0 {
		t.Errorf("state defaults = %v, want empty", state.Defaults())
	}
}

func TestBlockSize(t *testing.T) {
	tests := []struct {
		class Class
		kind  string
		want  int
	}{
		{ClassMatch, "tcp", 48},       // 32 + 12 -> 48
		{ClassMatch, "udp", 48},       // 32 + 10 -> 48
		{ClassMatch, "state", 40},     // 32 + 4 -> 40
		{ClassMatch, "comment", 288},  // 32 + 256
		{ClassMatch, "multiport", 80}, // 32 + 48
		{ClassTarget, "ACCEPT", 40},   // 32 + 8
		{ClassTarget, "LOG", 64},      // 32 + 32
	}
	for _, tc := range tests {
		s, err := Lookup(tc.class, tc.kind)
		if err != nil {
			t.Fatal(err)
		}
		if got := s.BlockSize(); got != tc.want {
			t.Errorf("%s BlockSize = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestMarshalBlock(t *testing.T) {
	s, err := Lookup(ClassMatch, "state")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.MarshalBlock(IPv4, map[string]string{"state": "NEW"})
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != s.BlockSize() {
		t.Fatalf("block length %d, want %d", len(b), s.BlockSize())
	}
	hdr, err := UnmarshalBlockHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Name != "state" || hdr.Revision != 0 || int(hdr.Size) != s.BlockSize() {
		t.Errorf("unexpected header %+v", hdr)
	}
	p, err := s.Decode(IPv4, b[SizeOfBlockHeader:])
	if err != nil {
		t.Fatal(err)
	}
	if p["state"] != "NEW" {
		t.Errorf("decoded params %v", p)
	}
}

func TestEncodeRejectsUnknownParameter(t *testing.T) {
	s, err := Lookup(ClassMatch, "udp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Encode(IPv4, map[string]string{"flags": "SYN"}); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	s, err := Lookup(ClassMatch, "tcp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Decode(IPv4, make([]byte, 4)); err == nil {
		t.Error("want error for short payload")
	}
}

func TestIsImplicit(t *testing.T) {
	if !IsImplicit("ip") || !IsImplicit("ipv6") {
		t.Error("header pseudo-kinds should be implicit")
	}
	if IsImplicit("tcp") || IsImplicit("nonesuch") {
		t.Error("explicit or unknown kinds reported implicit")
	}
}
