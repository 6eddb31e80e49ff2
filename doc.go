// Package ferrule is a pure-Go binding for the legacy iptables (x_tables)
// kernel interface.
//
// # Overview
//
// The kernel holds firewall rules in per-family tables (filter, nat, mangle,
// raw, security), each a set of chains holding ordered rules. This package
// models those objects in memory, translates them to and from the kernel's
// binary table blob, and installs them through the x_tables socket options in
// a single whole-table replace.
//
// # Architecture
//
//	Rule/Match/Target (xt schemas) → Chain → Table → blob → Transport → Kernel
//
// # Key Types
//
//   - [Session]: handle owning the kernel transport; all tables are reached
//     through one
//   - [Table]: in-memory image of one kernel table; Commit/Refresh
//   - [Chain]: ordered rules plus policy and counters
//   - [Rule]: header criteria, ordered matches, exactly one target
//   - [Transport]: the control-plane boundary (raw sockopt on Linux,
//     [MemTransport] for tests)
//
// # Consistency model
//
// Mutations are buffered in memory. Commit serializes the whole table and
// issues one atomic replace: the kernel applies all of it or none of it.
// The kernel table is system-wide shared state; the last successful commit
// wins entirely. Processes needing coordination must arrange an external
// lock. Refresh discards local state and re-reads the kernel.
//
// # Example
//
//	ctx := context.Background()
//	s, err := ferrule.NewSession()
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	tbl, err := s.Table(ctx, ferrule.IPv4, ferrule.TableFilter)
//	if err != nil {
//		return err
//	}
//	input, err := tbl.Chain("INPUT")
//	if err != nil {
//		return err
//	}
//	r := input.NewRule()
//	if err := r.SetProtocol("tcp"); err != nil {
//		return err
//	}
//	m, err := r.NewMatch("tcp")
//	if err != nil {
//		return err
//	}
//	if err := m.SetParameter("dport", "80"); err != nil {
//		return err
//	}
//	if err := r.AddMatch(m); err != nil {
//		return err
//	}
//	tgt, err := ferrule.NewTarget("ACCEPT")
//	if err != nil {
//		return err
//	}
//	r.SetTarget(tgt)
//	if err := input.InsertRule(r); err != nil {
//		return err
//	}
//	return s.Commit(ctx, tbl)
package ferrule
