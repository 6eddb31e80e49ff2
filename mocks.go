package ferrule

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/ferrule/xt"
)

// MemTransport is an in-memory Transport emulating the kernel's x_tables
// bookkeeping: tables materialize empty on first access, Replace validates
// the blob and the counter handshake the way the kernel does. Tests inject
// failures through the Fail* fields and inspect Calls for the operation
// sequence.
type MemTransport struct {
	mu     sync.Mutex
	tables map[string]*memTable

	// Calls records every transport operation as "op family/table".
	Calls []string

	// Error injection. A non-nil value fails the corresponding operation.
	FailGetInfo    error
	FailGetEntries error
	FailReplace    error
}

type memTable struct {
	info    *xt.GetInfo
	entries []byte
}

// NewMemTransport creates an empty in-memory transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{tables: make(map[string]*memTable)}
}

func memKey(f Family, table string) string {
	return fmt.Sprintf("%s/%s", f, table)
}

// lookup materializes the pristine image of a table on first access, as the
// kernel does when a table module loads.
func (m *MemTransport) lookup(f Family, name string) (*memTable, error) {
	key := memKey(f, name)
	if mt, ok := m.tables[key]; ok {
		return mt, nil
	}
	t, err := NewTable(f, name)
	if err != nil {
		return nil, err
	}
	rep, entries, err := t.marshalReplace()
	if err != nil {
		return nil, err
	}
	mt := &memTable{info: replaceInfo(rep), entries: entries}
	m.tables[key] = mt
	return mt, nil
}

func replaceInfo(rep *xt.Replace) *xt.GetInfo {
	return &xt.GetInfo{
		Name:       rep.Name,
		ValidHooks: rep.ValidHooks,
		HookEntry:  rep.HookEntry,
		Underflow:  rep.Underflow,
		NumEntries: rep.NumEntries,
		Size:       rep.Size,
	}
}

func (m *MemTransport) record(op string, f Family, table string) {
	m.Calls = append(m.Calls, fmt.Sprintf("%s %s", op, memKey(f, table)))
}

func (m *MemTransport) GetInfo(ctx context.Context, f Family, table string) (*xt.GetInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("getinfo", f, table)
	if m.FailGetInfo != nil {
		return nil, m.FailGetInfo
	}
	mt, err := m.lookup(f, table)
	if err != nil {
		return nil, err
	}
	info := *mt.info
	return &info, nil
}

func (m *MemTransport) GetEntries(ctx context.Context, f Family, table string, size uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("getentries", f, table)
	if m.FailGetEntries != nil {
		return nil, m.FailGetEntries
	}
	mt, err := m.lookup(f, table)
	if err != nil {
		return nil, err
	}
	if size != mt.info.Size {
		return nil, fmt.Errorf("entries size %d, table holds %d", size, mt.info.Size)
	}
	return append([]byte(nil), mt.entries...), nil
}

func (m *MemTransport) Replace(ctx context.Context, f Family, rep *xt.Replace, entries []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("replace", f, rep.Name)
	if m.FailReplace != nil {
		return m.FailReplace
	}
	mt, err := m.lookup(f, rep.Name)
	if err != nil {
		return err
	}
	if rep.NumCounters != mt.info.NumEntries {
		return fmt.Errorf("num_counters %d, table holds %d entries", rep.NumCounters, mt.info.NumEntries)
	}
	if int(rep.Size) != len(entries) {
		return fmt.Errorf("declared size %d, payload %d", rep.Size, len(entries))
	}
	// Validate the blob end to end before accepting it.
	info := replaceInfo(rep)
	if _, err := parseTable(f, rep.Name, info, entries); err != nil {
		return fmt.Errorf("malformed blob: %w", err)
	}
	mt.info = info
	mt.entries = append([]byte(nil), entries...)
	return nil
}

func (m *MemTransport) Close() error { return nil }

// Seed installs a table image directly, bypassing the counter handshake.
// Useful for arranging preexisting kernel state in tests.
func (m *MemTransport) Seed(t *Table) error {
	rep, entries, err := t.marshalReplace()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[memKey(t.family, t.name)] = &memTable{info: replaceInfo(rep), entries: entries}
	return nil
}

// TableImage decodes the transport's current image of a table.
func (m *MemTransport) TableImage(f Family, name string) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, err := m.lookup(f, name)
	if err != nil {
		return nil, err
	}
	return parseTable(f, name, mt.info, mt.entries)
}
