package ferrule

import (
	"context"

	"grimm.is/ferrule/xt"
)

// Transport moves table blobs between the object model and the kernel. The
// production implementation speaks the x_tables socket interface; tests use
// the in-memory MemTransport.
type Transport interface {
	// GetInfo fetches the table summary: valid hooks, hook offsets, entry
	// count and blob size.
	GetInfo(ctx context.Context, f Family, table string) (*xt.GetInfo, error)

	// GetEntries fetches the table's entry blob. size must come from a
	// preceding GetInfo.
	GetEntries(ctx context.Context, f Family, table string, size uint32) ([]byte, error)

	// Replace atomically installs a new entry blob. rep.NumCounters must
	// equal the kernel's current entry count for the table.
	Replace(ctx context.Context, f Family, rep *xt.Replace, entries []byte) error

	// Close releases transport resources.
	Close() error
}
