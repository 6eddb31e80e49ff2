// Command ferrulectl inspects and programs the kernel's legacy iptables
// tables through the ferrule object model.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/ferrule"
	"grimm.is/ferrule/accounting"
	"grimm.is/ferrule/internal/logging"
	"grimm.is/ferrule/metrics"
	"grimm.is/ferrule/netdev"
	"grimm.is/ferrule/ruleset"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "show":
		err = runShow(os.Args[2:])
	case "apply":
		err = runApply(os.Args[2:])
	case "diff":
		err = runDiff(os.Args[2:])
	case "counters":
		err = runCounters(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "snapshot":
		err = runSnapshot(os.Args[2:])
	case "metrics":
		err = runMetrics(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ferrulectl: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: ferrulectl <command> [flags]

commands:
  show       print tables in iptables-save format
  apply      install a ruleset file (HCL)
  diff       compare a ruleset file against the kernel
  counters   print tables with per-rule counters
  export     dump kernel tables as a ruleset file (HCL or YAML)
  check      validate a ruleset file without touching the kernel
  snapshot   store current counters into an accounting database
  metrics    serve chain counters as Prometheus metrics over HTTP

common flags: -6 (IPv6), -t table, -netns name, -v (debug logging)
`)
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	ipv6    bool
	table   string
	netns   string
	verbose bool
}

func (cf *commonFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&cf.ipv6, "6", false, "Operate on IPv6 tables")
	fs.StringVar(&cf.table, "t", "", "Restrict to one table")
	fs.StringVar(&cf.netns, "netns", "", "Operate inside a network namespace")
	fs.BoolVar(&cf.verbose, "v", false, "Debug logging")
}

func (cf *commonFlags) family() ferrule.Family {
	if cf.ipv6 {
		return ferrule.IPv6
	}
	return ferrule.IPv4
}

func (cf *commonFlags) tables() []string {
	if cf.table != "" {
		return []string{cf.table}
	}
	return ferrule.TableNames(cf.family())
}

func (cf *commonFlags) session() (*ferrule.Session, error) {
	cfg := logging.DefaultConfig()
	if cf.verbose {
		cfg.Level = logging.LevelDebug
	}
	logger := logging.New(cfg)
	logging.SetDefault(logger)
	return ferrule.NewSession(
		ferrule.WithNetNS(cf.netns),
		ferrule.WithLogger(logger.Logger),
	)
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()
	for _, name := range cf.tables() {
		t, err := s.Table(ctx, cf.family(), name)
		if err != nil {
			return err
		}
		fmt.Print(t.Render())
	}
	return nil
}

func runCounters(args []string) error {
	fs := flag.NewFlagSet("counters", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()
	for _, name := range cf.tables() {
		t, err := s.Table(ctx, cf.family(), name)
		if err != nil {
			return err
		}
		fmt.Print(t.RenderWithCounters())
	}
	return nil
}

func runApply(args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	dryRun := fs.Bool("n", false, "Dry run: show the diff, change nothing")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("apply needs exactly one ruleset file")
	}

	rs, err := ruleset.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	if *dryRun {
		changed, err := printRulesetDiff(ctx, s, rs)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Println("no changes")
		}
		return nil
	}
	return rs.Apply(ctx, s)
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("diff needs exactly one ruleset file")
	}

	rs, err := ruleset.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()

	changed, err := printRulesetDiff(context.Background(), s, rs)
	if err != nil {
		return err
	}
	if changed {
		return fmt.Errorf("ruleset differs from kernel state")
	}
	fmt.Println("no changes")
	return nil
}

// printRulesetDiff diffs each table of the ruleset against the kernel and
// prints the unified diffs. Reports whether anything differed.
func printRulesetDiff(ctx context.Context, s *ferrule.Session, rs *ruleset.Ruleset) (bool, error) {
	tables, err := rs.Build()
	if err != nil {
		return false, err
	}
	changed := false
	for _, want := range tables {
		have, err := s.Table(ctx, want.Family(), want.Name())
		if err != nil {
			return false, err
		}
		text, err := ferrule.Diff(have, want)
		if err != nil {
			return false, err
		}
		if text != "" {
			changed = true
			fmt.Print(text)
		}
	}
	return changed, nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	format := fs.String("format", "hcl", "Output format: hcl or yaml")
	fs.Parse(args)

	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	var tables []*ferrule.Table
	for _, name := range cf.tables() {
		t, err := s.Table(ctx, cf.family(), name)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}
	rs, err := ruleset.FromTables(tables)
	if err != nil {
		return err
	}
	switch *format {
	case "hcl":
		os.Stdout.Write(rs.RenderHCL())
	case "yaml":
		out, err := rs.RenderYAML()
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	skipIfaces := fs.Bool("no-interfaces", false, "Skip interface existence checks")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("check needs exactly one ruleset file")
	}

	rs, err := ruleset.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	tables, err := rs.Build()
	if err != nil {
		return err
	}

	if !*skipIfaces {
		patterns := collectInterfacePatterns(tables)
		if len(patterns) > 0 {
			missing, err := netdev.Unmatched(netdev.SystemResolver{}, patterns)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				fmt.Printf("warning: no interface matches %s\n", strings.Join(missing, ", "))
			}
		}
	}
	fmt.Printf("ok: %d tables\n", len(tables))
	return nil
}

func collectInterfacePatterns(tables []*ferrule.Table) []string {
	seen := map[string]bool{}
	var patterns []string
	for _, t := range tables {
		for _, c := range t.Chains() {
			for _, r := range c.Rules() {
				for _, p := range []string{r.InInterface(), r.OutInterface()} {
					if p != "" && !seen[p] {
						seen[p] = true
						patterns = append(patterns, p)
					}
				}
			}
		}
	}
	return patterns
}

func runSnapshot(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	dbPath := fs.String("db", "ferrule-counters.db", "Accounting database path")
	prune := fs.Duration("prune", 0, "Also prune runs older than this (e.g. 720h)")
	fs.Parse(args)

	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := accounting.Open(*dbPath, logging.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	runID, err := store.Snapshot(ctx, s, cf.family(), cf.tables())
	if err != nil {
		return err
	}
	fmt.Printf("run %s stored\n", runID)

	if *prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-*prune))
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Printf("pruned %d runs\n", n)
		}
	}
	return nil
}

func runMetrics(args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	addr := fs.String("listen", "127.0.0.1:9477", "Listen address for the metrics endpoint")
	fs.Parse(args)

	s, err := cf.session()
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(s, cf.family(), cf.tables(), logging.Default())); err != nil {
		return err
	}
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	fmt.Printf("serving metrics on http://%s/metrics\n", *addr)
	return http.ListenAndServe(*addr, nil)
}
