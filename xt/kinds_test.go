package xt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// roundTrip encodes a parameter map and decodes it again. Defaults are
// omitted on decode, so the expected map carries only non-default values.
func roundTrip(t *testing.T, class Class, kind string, f Family, params map[string]string) map[string]string {
	t.Helper()
	s, err := Lookup(class, kind)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := s.Encode(f, params)
	if err != nil {
		t.Fatalf("encode %v: %v", params, err)
	}
	if len(payload) != s.PayloadSize {
		t.Fatalf("payload length %d, want %d", len(payload), s.PayloadSize)
	}
	got, err := s.Decode(f, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestTCPRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want map[string]string
	}{
		{
			name: "dport only",
			in:   map[string]string{"dport": "22"},
			want: map[string]string{"dport": "22"},
		},
		{
			name: "defaults vanish",
			in:   map[string]string{"sport": "0:65535", "dport": "0:65535"},
			want: map[string]string{},
		},
		{
			name: "negated sport",
			in:   map[string]string{"sport": "!1024:65535"},
			want: map[string]string{"sport": "!1024:65535"},
		},
		{
			name: "syn",
			in:   map[string]string{"tcp-flags": "FIN,SYN,RST,ACK/SYN"},
			want: map[string]string{"tcp-flags": "FIN,SYN,RST,ACK/SYN"},
		},
		{
			name: "negated flags",
			in:   map[string]string{"tcp-flags": "!ALL/NONE"},
			want: map[string]string{"tcp-flags": "!ALL/NONE"},
		},
		{
			name: "tcp option",
			in:   map[string]string{"tcp-option": "8", "dport": "179"},
			want: map[string]string{"tcp-option": "8", "dport": "179"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, ClassMatch, "tcp", IPv4, tc.in)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTCPOptionRange(t *testing.T) {
	s, err := Lookup(ClassMatch, "tcp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Encode(IPv4, map[string]string{"tcp-option": "256"}); err == nil {
		t.Error("want error for option > 255")
	}
}

func TestUDPRoundTrip(t *testing.T) {
	got := roundTrip(t, ClassMatch, "udp", IPv4, map[string]string{
		"sport": "!53",
		"dport": "1000:2000",
	})
	want := map[string]string{"sport": "!53", "dport": "1000:2000"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
}

func TestMultiportRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want map[string]string
	}{
		{
			name: "destination default mode",
			in:   map[string]string{"ports": "22,80,443"},
			want: map[string]string{"ports": "22,80,443"},
		},
		{
			name: "source mode",
			in:   map[string]string{"mode": "source", "ports": "1024:2048"},
			want: map[string]string{"mode": "source", "ports": "1024:2048"},
		},
		{
			name: "either negated",
			in:   map[string]string{"mode": "either", "ports": "!53,123"},
			want: map[string]string{"mode": "either", "ports": "!53,123"},
		},
		{
			name: "mixed singles and ranges",
			in:   map[string]string{"ports": "21,22,8000:8080,9000"},
			want: map[string]string{"ports": "21,22,8000:8080,9000"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, ClassMatch, "multiport", IPv4, tc.in)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMultiportSlotLimit(t *testing.T) {
	s, err := Lookup(ClassMatch, "multiport")
	if err != nil {
		t.Fatal(err)
	}
	// 8 ranges need 16 slots, one over XT_MULTI_PORTS.
	spec := "1:2,3:4,5:6,7:8,9:10,11:12,13:14,15:16"
	if _, err := s.Encode(IPv4, map[string]string{"ports": spec}); err == nil {
		t.Error("want error for port list overflowing the slot table")
	}
}

func TestMarkMatchRoundTrip(t *testing.T) {
	for _, in := range []string{"0x1", "0x10/0xff", "!0x2"} {
		got := roundTrip(t, ClassMatch, "mark", IPv4, map[string]string{"mark": in})
		if got["mark"] != in {
			t.Errorf("mark %q round-tripped to %q", in, got["mark"])
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	got := roundTrip(t, ClassMatch, "state", IPv4, map[string]string{
		"state": "ESTABLISHED,RELATED",
	})
	if got["state"] != "ESTABLISHED,RELATED" {
		t.Errorf("state = %q", got["state"])
	}
}

func TestCommentRoundTrip(t *testing.T) {
	got := roundTrip(t, ClassMatch, "comment", IPv4, map[string]string{
		"comment": "allow ssh from mgmt",
	})
	if got["comment"] != "allow ssh from mgmt" {
		t.Errorf("comment = %q", got["comment"])
	}
}

func TestLimitRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want map[string]string
	}{
		{
			name: "explicit values",
			in:   map[string]string{"limit": "10/minute", "limit-burst": "20"},
			want: map[string]string{"limit": "10/minute", "limit-burst": "20"},
		},
		{
			name: "defaults vanish",
			in:   map[string]string{"limit": "3/hour", "limit-burst": "5"},
			want: map[string]string{},
		},
		{
			name: "empty map encodes defaults",
			in:   map[string]string{},
			want: map[string]string{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, ClassMatch, "limit", IPv4, tc.in)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIPRangeRoundTrip(t *testing.T) {
	t.Run("ipv4", func(t *testing.T) {
		got := roundTrip(t, ClassMatch, "iprange", IPv4, map[string]string{
			"src-range": "10.0.0.1-10.0.0.99",
			"dst-range": "!192.168.1.1-192.168.1.1",
		})
		want := map[string]string{
			"src-range": "10.0.0.1-10.0.0.99",
			"dst-range": "!192.168.1.1-192.168.1.1",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("params (-want +got):\n%s", diff)
		}
	})
	t.Run("ipv6", func(t *testing.T) {
		got := roundTrip(t, ClassMatch, "iprange", IPv6, map[string]string{
			"src-range": "2001:db8::1-2001:db8::ff",
		})
		if got["src-range"] != "2001:db8::1-2001:db8::ff" {
			t.Errorf("src-range = %q", got["src-range"])
		}
	})
	t.Run("empty", func(t *testing.T) {
		s, err := Lookup(ClassMatch, "iprange")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Encode(IPv4, map[string]string{}); err == nil {
			t.Error("want error when neither range is set")
		}
	})
}

func TestRejectRoundTrip(t *testing.T) {
	got := roundTrip(t, ClassTarget, "REJECT", IPv4, map[string]string{
		"reject-with": "tcp-reset",
	})
	if got["reject-with"] != "tcp-reset" {
		t.Errorf("reject-with = %q", got["reject-with"])
	}

	// The default reason is omitted on decode.
	got = roundTrip(t, ClassTarget, "REJECT", IPv4, map[string]string{})
	if len(got) != 0 {
		t.Errorf("default reject decoded to %v", got)
	}
}

func TestLogRoundTrip(t *testing.T) {
	got := roundTrip(t, ClassTarget, "LOG", IPv4, map[string]string{
		"log-level":  "7",
		"log-prefix": "fw-drop: ",
	})
	want := map[string]string{"log-level": "7", "log-prefix": "fw-drop: "}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}

	s, err := Lookup(ClassTarget, "LOG")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Encode(IPv4, map[string]string{"log-level": "8"}); err == nil {
		t.Error("want error for level > 7")
	}
}

func TestMarkTargetRoundTrip(t *testing.T) {
	got := roundTrip(t, ClassTarget, "MARK", IPv4, map[string]string{
		"set-mark": "0x1/0xff",
	})
	if got["set-mark"] != "0x1/0xff" {
		t.Errorf("set-mark = %q", got["set-mark"])
	}

	s, err := Lookup(ClassTarget, "MARK")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Encode(IPv4, map[string]string{}); err == nil {
		t.Error("want error without set-mark")
	}
}

func TestNATRoundTrip(t *testing.T) {
	tests := []struct {
		kind  string
		param string
		value string
	}{
		{"SNAT", "to-source", "203.0.113.7"},
		{"SNAT", "to-source", "203.0.113.7-203.0.113.9:1024-2048"},
		{"DNAT", "to-destination", "10.0.0.5:8080"},
		{"MASQUERADE", "to-ports", "30000-31000"},
		{"REDIRECT", "to-ports", "3128"},
	}
	for _, tc := range tests {
		t.Run(tc.kind+"/"+tc.value, func(t *testing.T) {
			got := roundTrip(t, ClassTarget, tc.kind, IPv4, map[string]string{tc.param: tc.value})
			if got[tc.param] != tc.value {
				t.Errorf("%s = %q, want %q", tc.param, got[tc.param], tc.value)
			}
		})
	}

	// MASQUERADE with no range at all is valid and decodes to nothing.
	got := roundTrip(t, ClassTarget, "MASQUERADE", IPv4, map[string]string{})
	if len(got) != 0 {
		t.Errorf("bare MASQUERADE decoded to %v", got)
	}
}

func TestNATErrors(t *testing.T) {
	snat, err := Lookup(ClassTarget, "SNAT")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := snat.Encode(IPv4, map[string]string{}); err == nil {
		t.Error("SNAT without to-source should fail")
	}
	if _, err := snat.Encode(IPv4, map[string]string{"to-source": "8080"}); err == nil {
		t.Error("SNAT with ports only should fail")
	}
	if _, err := snat.Encode(IPv6, map[string]string{"to-source": "203.0.113.7"}); err == nil {
		t.Error("NAT targets must reject IPv6")
	}
}
