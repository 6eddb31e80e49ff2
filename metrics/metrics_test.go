package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ferrule"
	"grimm.is/ferrule/internal/logging"
)

func seededSession(t *testing.T) *ferrule.Session {
	t.Helper()

	tbl, err := ferrule.NewTable(ferrule.IPv4, ferrule.TableFilter)
	require.NoError(t, err)
	input, err := tbl.Chain("INPUT")
	require.NoError(t, err)
	acc, err := ferrule.NewTarget("ACCEPT")
	require.NoError(t, err)
	r := input.NewRule()
	r.SetTarget(acc)
	require.NoError(t, input.AppendRule(r))

	tr := ferrule.NewMemTransport()
	require.NoError(t, tr.Seed(tbl))

	sess, err := ferrule.NewSession(ferrule.WithTransport(tr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestCollectorRegisters(t *testing.T) {
	sess := seededSession(t)
	c := NewCollector(sess, ferrule.IPv4, []string{ferrule.TableFilter}, logging.Discard())

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	n := testutil.CollectAndCount(c)
	// 3 chains x 3 series + 4 session series.
	assert.Equal(t, 13, n)
}

func TestCollectorChainSeries(t *testing.T) {
	sess := seededSession(t)
	c := NewCollector(sess, ferrule.IPv4, []string{ferrule.TableFilter}, logging.Discard())

	expected := strings.NewReader(`
# HELP ferrule_chain_rules Number of rules in a chain.
# TYPE ferrule_chain_rules gauge
ferrule_chain_rules{chain="FORWARD",family="ipv4",table="filter"} 0
ferrule_chain_rules{chain="INPUT",family="ipv4",table="filter"} 1
ferrule_chain_rules{chain="OUTPUT",family="ipv4",table="filter"} 0
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected, "ferrule_chain_rules"))
}

func TestCollectorSessionStats(t *testing.T) {
	sess := seededSession(t)

	// Drive the session once so the counters are nonzero.
	tbl, err := sess.Table(context.Background(), ferrule.IPv4, ferrule.TableFilter)
	require.NoError(t, err)
	require.NoError(t, sess.Commit(context.Background(), tbl))

	c := NewCollector(sess, ferrule.IPv4, []string{ferrule.TableFilter}, logging.Discard())
	// One more fetch happens during the scrape itself.
	expected := strings.NewReader(`
# HELP ferrule_session_commits_total Table images committed through the session.
# TYPE ferrule_session_commits_total counter
ferrule_session_commits_total 1
# HELP ferrule_session_fetches_total Table images fetched through the session.
# TYPE ferrule_session_fetches_total counter
ferrule_session_fetches_total 2
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected,
		"ferrule_session_commits_total", "ferrule_session_fetches_total"))
}

func TestCollectorScrapeErrors(t *testing.T) {
	tr := ferrule.NewMemTransport()
	tr.FailGetInfo = context.DeadlineExceeded
	sess, err := ferrule.NewSession(ferrule.WithTransport(tr))
	require.NoError(t, err)
	defer sess.Close()

	c := NewCollector(sess, ferrule.IPv4, []string{ferrule.TableFilter}, logging.Discard())

	expected := strings.NewReader(`
# HELP ferrule_scrape_errors Tables that could not be read during the last scrape.
# TYPE ferrule_scrape_errors gauge
ferrule_scrape_errors 1
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected, "ferrule_scrape_errors"))
}

func TestCollectorDefaultsToAllTables(t *testing.T) {
	sess := seededSession(t)
	c := NewCollector(sess, ferrule.IPv4, nil, logging.Discard())
	assert.Equal(t, ferrule.TableNames(ferrule.IPv4), c.tables)
}
