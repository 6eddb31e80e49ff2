// Package metrics exposes firewall counters to Prometheus. The collector
// reads whole-table images through a session at scrape time, so chain
// gauges always reflect the kernel's current counters.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/ferrule"
	"grimm.is/ferrule/internal/logging"
)

// Collector implements prometheus.Collector over a session.
type Collector struct {
	sess    *ferrule.Session
	family  ferrule.Family
	tables  []string
	logger  *logging.Logger
	timeout time.Duration

	chainPackets *prometheus.Desc
	chainBytes   *prometheus.Desc
	chainRules   *prometheus.Desc
	fetches      *prometheus.Desc
	commits      *prometheus.Desc
	errors       *prometheus.Desc
	scrapeErrors *prometheus.Desc
}

// NewCollector builds a collector for the given tables (nil means all
// tables of the family).
func NewCollector(sess *ferrule.Session, f ferrule.Family, tables []string, logger *logging.Logger) *Collector {
	if len(tables) == 0 {
		tables = ferrule.TableNames(f)
	}
	if logger == nil {
		logger = logging.Default()
	}
	labels := []string{"family", "table", "chain"}
	return &Collector{
		sess:    sess,
		family:  f,
		tables:  tables,
		logger:  logger.WithComponent("metrics"),
		timeout: 5 * time.Second,
		chainPackets: prometheus.NewDesc(
			"ferrule_chain_packets_total",
			"Packets accounted to a chain (policy counters for built-in chains).",
			labels, nil),
		chainBytes: prometheus.NewDesc(
			"ferrule_chain_bytes_total",
			"Bytes accounted to a chain (policy counters for built-in chains).",
			labels, nil),
		chainRules: prometheus.NewDesc(
			"ferrule_chain_rules",
			"Number of rules in a chain.",
			labels, nil),
		fetches: prometheus.NewDesc(
			"ferrule_session_fetches_total",
			"Table images fetched through the session.",
			nil, nil),
		commits: prometheus.NewDesc(
			"ferrule_session_commits_total",
			"Table images committed through the session.",
			nil, nil),
		errors: prometheus.NewDesc(
			"ferrule_session_errors_total",
			"Failed session operations.",
			nil, nil),
		scrapeErrors: prometheus.NewDesc(
			"ferrule_scrape_errors",
			"Tables that could not be read during the last scrape.",
			nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.chainPackets
	ch <- c.chainBytes
	ch <- c.chainRules
	ch <- c.fetches
	ch <- c.commits
	ch <- c.errors
	ch <- c.scrapeErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var scrapeErrors float64
	for _, name := range c.tables {
		t, err := c.sess.Table(ctx, c.family, name)
		if err != nil {
			scrapeErrors++
			c.logger.Warn("scrape failed", "table", name, "error", err)
			continue
		}
		for _, chain := range t.Chains() {
			counters := chain.Counters()
			labels := []string{c.family.String(), name, chain.Name()}
			ch <- prometheus.MustNewConstMetric(c.chainPackets,
				prometheus.CounterValue, float64(counters.Packets), labels...)
			ch <- prometheus.MustNewConstMetric(c.chainBytes,
				prometheus.CounterValue, float64(counters.Bytes), labels...)
			ch <- prometheus.MustNewConstMetric(c.chainRules,
				prometheus.GaugeValue, float64(chain.Len()), labels...)
		}
	}

	stats := c.sess.Stats()
	ch <- prometheus.MustNewConstMetric(c.fetches, prometheus.CounterValue, float64(stats.Fetches))
	ch <- prometheus.MustNewConstMetric(c.commits, prometheus.CounterValue, float64(stats.Commits))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.Errors))
	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, scrapeErrors)
}
