package ferrule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Session owns a transport and moves whole-table images across it. Edits to
// a Table are local; Commit installs the image atomically, so concurrent
// editors follow last-writer-wins at table granularity.
type Session struct {
	tr  Transport
	log *slog.Logger

	fetches atomic.Uint64
	commits atomic.Uint64
	errors  atomic.Uint64
}

type sessionConfig struct {
	transport Transport
	logger    *slog.Logger
	netns     string
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithTransport uses the given transport instead of the kernel sockets.
func WithTransport(tr Transport) Option {
	return func(c *sessionConfig) { c.transport = tr }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) { c.logger = l }
}

// WithNetNS opens the kernel transport inside a named network namespace
// (or one given by path). Ignored when WithTransport is also used.
func WithNetNS(ref string) Option {
	return func(c *sessionConfig) { c.netns = ref }
}

// NewSession opens a session. Without WithTransport it opens raw sockets to
// the kernel, which needs CAP_NET_ADMIN and a Linux build.
func NewSession(opts ...Option) (*Session, error) {
	var cfg sessionConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.transport == nil {
		tr, err := newKernelTransport(cfg.netns)
		if err != nil {
			return nil, err
		}
		cfg.transport = tr
	}
	return &Session{tr: cfg.transport, log: cfg.logger.With("component", "session")}, nil
}

// Close releases the underlying transport.
func (s *Session) Close() error {
	return s.tr.Close()
}

// Table fetches the current kernel image of a table, including rule and
// chain counters.
func (s *Session) Table(ctx context.Context, f Family, name string) (*Table, error) {
	start := time.Now()
	info, err := s.tr.GetInfo(ctx, f, name)
	if err != nil {
		return nil, s.fail("get info", f, name, err)
	}
	blob, err := s.tr.GetEntries(ctx, f, name, info.Size)
	if err != nil {
		return nil, s.fail("get entries", f, name, err)
	}
	t, err := parseTable(f, name, info, blob)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("decode table %s/%s: %w", f, name, err)
	}
	s.fetches.Add(1)
	s.log.Debug("fetched table",
		"family", f.String(),
		"table", name,
		"entries", info.NumEntries,
		"bytes", info.Size,
		"elapsed", time.Since(start))
	return t, nil
}

// Commit atomically installs the table image, replacing whatever the kernel
// holds for that table. On failure the kernel keeps its previous ruleset.
func (s *Session) Commit(ctx context.Context, t *Table) error {
	start := time.Now()
	rep, entries, err := t.marshalReplace()
	if err != nil {
		return fmt.Errorf("serialize table %s/%s: %w", t.family, t.name, err)
	}
	// The kernel insists num_counters match the outgoing table.
	info, err := s.tr.GetInfo(ctx, t.family, t.name)
	if err != nil {
		return s.fail("get info", t.family, t.name, err)
	}
	rep.NumCounters = info.NumEntries
	if err := s.tr.Replace(ctx, t.family, rep, entries); err != nil {
		return s.fail("replace", t.family, t.name, err)
	}
	s.commits.Add(1)
	s.log.Info("committed table",
		"family", t.family.String(),
		"table", t.name,
		"chains", len(t.chains),
		"rules", t.NumRules(),
		"bytes", rep.Size,
		"elapsed", time.Since(start))
	return nil
}

// Refresh fetches a fresh image of the same table.
func (s *Session) Refresh(ctx context.Context, t *Table) (*Table, error) {
	return s.Table(ctx, t.family, t.name)
}

func (s *Session) fail(op string, f Family, table string, err error) error {
	s.errors.Add(1)
	s.log.Error("kernel transaction failed",
		"op", op, "family", f.String(), "table", table, "error", err)
	return fmt.Errorf("%w: %s %s/%s: %w", ErrKernelTransaction, op, f, table, err)
}

// SessionStats is a snapshot of the session's operation counters.
type SessionStats struct {
	Fetches uint64
	Commits uint64
	Errors  uint64
}

// Stats returns the current operation counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Fetches: s.fetches.Load(),
		Commits: s.commits.Load(),
		Errors:  s.errors.Load(),
	}
}
