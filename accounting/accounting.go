// Package accounting snapshots firewall counters into SQLite. Each snapshot
// pass reads whole-table images through a session and stores per-chain and
// per-rule packet/byte counters under a run id, building a queryable history
// of traffic accounted by the ruleset.
package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grimm.is/ferrule"
	"grimm.is/ferrule/internal/logging"

	_ "modernc.org/sqlite"
)

// Store is the counter history database.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens or creates a counter database at the given path.
// Use ":memory:" for an in-memory database.
func Open(path string, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open counter database: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{db: db, logger: logger.WithComponent("accounting")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// OpenWithDB wraps an existing database connection.
func OpenWithDB(db *sql.DB, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{db: db, logger: logger.WithComponent("accounting")}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		-- Snapshot passes, one row per run.
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			family TEXT NOT NULL,
			taken_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		-- Per-chain counters (policy counters for built-in chains).
		CREATE TABLE IF NOT EXISTS chain_counters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tbl TEXT NOT NULL,
			chain TEXT NOT NULL,
			packets INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);

		-- Per-rule counters, keyed by chain position with the rendered rule
		-- kept alongside for display.
		CREATE TABLE IF NOT EXISTS rule_counters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tbl TEXT NOT NULL,
			chain TEXT NOT NULL,
			position INTEGER NOT NULL,
			rule TEXT NOT NULL,
			packets INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_runs_taken ON runs(taken_at);
		CREATE INDEX IF NOT EXISTS idx_chain_counters_run ON chain_counters(run_id);
		CREATE INDEX IF NOT EXISTS idx_chain_counters_chain ON chain_counters(tbl, chain);
		CREATE INDEX IF NOT EXISTS idx_rule_counters_run ON rule_counters(run_id);
		CREATE INDEX IF NOT EXISTS idx_rule_counters_chain ON rule_counters(tbl, chain);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Snapshot reads the named tables through the session and stores their
// counters under a fresh run id, which it returns.
func (s *Store) Snapshot(ctx context.Context, sess *ferrule.Session, f ferrule.Family, tables []string) (string, error) {
	if len(tables) == 0 {
		tables = ferrule.TableNames(f)
	}
	runID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, family) VALUES (?, ?)`, runID, f.String()); err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}

	start := time.Now()
	chains, rules := 0, 0
	for _, name := range tables {
		t, err := sess.Table(ctx, f, name)
		if err != nil {
			return "", fmt.Errorf("snapshot %s/%s: %w", f, name, err)
		}
		for _, c := range t.Chains() {
			counters := c.Counters()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chain_counters (run_id, tbl, chain, packets, bytes) VALUES (?, ?, ?, ?, ?)`,
				runID, name, c.Name(), int64(counters.Packets), int64(counters.Bytes)); err != nil {
				return "", fmt.Errorf("store chain counters: %w", err)
			}
			chains++
			for i, r := range c.Rules() {
				rc := r.Counters()
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO rule_counters (run_id, tbl, chain, position, rule, packets, bytes)
					 VALUES (?, ?, ?, ?, ?, ?, ?)`,
					runID, name, c.Name(), i, r.String(), int64(rc.Packets), int64(rc.Bytes)); err != nil {
					return "", fmt.Errorf("store rule counters: %w", err)
				}
				rules++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}
	s.logger.Debug("snapshot stored",
		"run", runID, "family", f.String(), "chains", chains, "rules", rules,
		"elapsed", time.Since(start))
	return runID, nil
}

// Run describes one snapshot pass.
type Run struct {
	ID      string
	Family  string
	TakenAt time.Time
}

// Runs lists snapshot passes, newest first, up to limit (0 means all).
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, family, taken_at FROM runs ORDER BY taken_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Family, &r.TakenAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ChainSample is one chain counter reading.
type ChainSample struct {
	RunID   string
	TakenAt time.Time
	Table   string
	Chain   string
	Packets uint64
	Bytes   uint64
}

// ChainHistory returns a chain's counter readings since a point in time,
// oldest first.
func (s *Store) ChainHistory(ctx context.Context, table, chain string, since time.Time) ([]ChainSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.run_id, r.taken_at, c.tbl, c.chain, c.packets, c.bytes
		FROM chain_counters c JOIN runs r ON r.id = c.run_id
		WHERE c.tbl = ? AND c.chain = ? AND r.taken_at >= ?
		ORDER BY r.taken_at ASC`,
		table, chain, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var samples []ChainSample
	for rows.Next() {
		var cs ChainSample
		var packets, bytes int64
		if err := rows.Scan(&cs.RunID, &cs.TakenAt, &cs.Table, &cs.Chain, &packets, &bytes); err != nil {
			return nil, err
		}
		cs.Packets, cs.Bytes = uint64(packets), uint64(bytes)
		samples = append(samples, cs)
	}
	return samples, rows.Err()
}

// RuleSample is one rule counter reading.
type RuleSample struct {
	Position int
	Rule     string
	Packets  uint64
	Bytes    uint64
}

// RuleCounters returns the rule readings of one chain in one run, in chain
// order.
func (s *Store) RuleCounters(ctx context.Context, runID, table, chain string) ([]RuleSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, rule, packets, bytes FROM rule_counters
		WHERE run_id = ? AND tbl = ? AND chain = ?
		ORDER BY position ASC`,
		runID, table, chain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var samples []RuleSample
	for rows.Next() {
		var rs RuleSample
		var packets, bytes int64
		if err := rows.Scan(&rs.Position, &rs.Rule, &packets, &bytes); err != nil {
			return nil, err
		}
		rs.Packets, rs.Bytes = uint64(packets), uint64(bytes)
		samples = append(samples, rs)
	}
	return samples, rows.Err()
}

// Prune deletes runs taken before the cutoff, with their counter rows, and
// returns how many runs were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, table := range []string{"chain_counters", "rule_counters"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE run_id IN (SELECT id FROM runs WHERE taken_at < ?)`, table)
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE taken_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
