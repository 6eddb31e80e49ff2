package accounting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ferrule"
	"grimm.is/ferrule/internal/logging"
)

// seededSession returns a session whose filter table carries counters worth
// recording.
func seededSession(t *testing.T) *ferrule.Session {
	t.Helper()

	tbl, err := ferrule.NewTable(ferrule.IPv4, ferrule.TableFilter)
	require.NoError(t, err)
	input, err := tbl.Chain("INPUT")
	require.NoError(t, err)
	require.NoError(t, input.SetPolicy(ferrule.PolicyDrop))

	acc, err := ferrule.NewTarget("ACCEPT")
	require.NoError(t, err)
	ssh := input.NewRule()
	require.NoError(t, ssh.SetProtocol("tcp"))
	m, err := ssh.NewMatch("tcp")
	require.NoError(t, err)
	require.NoError(t, m.SetParameter("dport", "22"))
	require.NoError(t, ssh.AddMatch(m))
	ssh.SetTarget(acc)
	require.NoError(t, input.AppendRule(ssh))

	tr := ferrule.NewMemTransport()
	require.NoError(t, tr.Seed(tbl))

	sess, err := ferrule.NewSession(ferrule.WithTransport(tr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshotAndRuns(t *testing.T) {
	s := openStore(t)
	sess := seededSession(t)
	ctx := context.Background()

	runID, err := s.Snapshot(ctx, sess, ferrule.IPv4, []string{ferrule.TableFilter})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "ipv4", runs[0].Family)
	assert.False(t, runs[0].TakenAt.IsZero())

	// A second pass appears as its own run.
	_, err = s.Snapshot(ctx, sess, ferrule.IPv4, []string{ferrule.TableFilter})
	require.NoError(t, err)
	runs, err = s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	limited, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRuleCounters(t *testing.T) {
	s := openStore(t)
	sess := seededSession(t)
	ctx := context.Background()

	runID, err := s.Snapshot(ctx, sess, ferrule.IPv4, []string{ferrule.TableFilter})
	require.NoError(t, err)

	samples, err := s.RuleCounters(ctx, runID, ferrule.TableFilter, "INPUT")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 0, samples[0].Position)
	assert.Equal(t, "-p tcp -m tcp --dport 22 -j ACCEPT", samples[0].Rule)

	// Unknown run id yields nothing, not an error.
	none, err := s.RuleCounters(ctx, "ffffffff", ferrule.TableFilter, "INPUT")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChainHistory(t *testing.T) {
	s := openStore(t)
	sess := seededSession(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Snapshot(ctx, sess, ferrule.IPv4, []string{ferrule.TableFilter})
		require.NoError(t, err)
	}

	since := time.Unix(0, 0).UTC()
	history, err := s.ChainHistory(ctx, ferrule.TableFilter, "INPUT", since)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, cs := range history {
		assert.Equal(t, ferrule.TableFilter, cs.Table)
		assert.Equal(t, "INPUT", cs.Chain)
	}

	// A cutoff in the future filters everything out.
	future := time.Now().UTC().Add(24 * time.Hour)
	empty, err := s.ChainHistory(ctx, ferrule.TableFilter, "INPUT", future)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	sess := seededSession(t)
	ctx := context.Background()

	_, err := s.Snapshot(ctx, sess, ferrule.IPv4, []string{ferrule.TableFilter})
	require.NoError(t, err)

	// Nothing is older than a day.
	n, err := s.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Everything is older than tomorrow.
	n, err = s.Prune(ctx, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	history, err := s.ChainHistory(ctx, ferrule.TableFilter, "INPUT", time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.Empty(t, history, "prune left counter rows behind")
}

func TestSnapshotDefaultsToAllTables(t *testing.T) {
	s := openStore(t)

	// A bare MemTransport materializes every table pristine on access.
	tr := ferrule.NewMemTransport()
	sess, err := ferrule.NewSession(ferrule.WithTransport(tr))
	require.NoError(t, err)
	defer sess.Close()

	runID, err := s.Snapshot(context.Background(), sess, ferrule.IPv4, nil)
	require.NoError(t, err)

	history, err := s.ChainHistory(context.Background(), ferrule.TableNat, "POSTROUTING", time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, runID, history[0].RunID)
}
