// Package xt models the kernel's x_tables binary interface: the fixed-size
// C structs that describe rules, matches and targets, and the parameter
// schemas used to translate human-readable option strings into those structs.
//
// # Layout
//
// A serialized rule is a self-describing record:
//
//	ipt_entry / ip6t_entry header (addresses, masks, interfaces, protocol)
//	0..N match blocks   (xt_entry_match header + kind-specific payload)
//	exactly 1 target block (xt_entry_target header + kind-specific payload)
//
// Every block is length-prefixed and padded to 8 bytes, matching what the
// kernel's translate_table expects. All multi-byte fields are native-endian
// except where a kind's layout stores network-order values (NAT ranges).
//
// # Registry
//
// Each supported match and target kind registers a [Schema] at package init.
// A schema names the kind's parameters, their semantic types, whether they
// may be negated, and carries the encode/decode pair for the kind's binary
// payload. Binary layouts for individual kinds are revisioned; the revision
// byte travels in the block header and is checked on decode.
package xt
