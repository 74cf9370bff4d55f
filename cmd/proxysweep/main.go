package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxysweep/internal/config"
	"proxysweep/internal/geo"
	"proxysweep/internal/logging"
	"proxysweep/internal/model"
	"proxysweep/internal/output"
	"proxysweep/internal/parser"
	"proxysweep/internal/probe"
	"proxysweep/internal/scheduler"
	"proxysweep/internal/stats"
)

var (
	cfgFile     string
	verboseFlag bool

	inputFile  string
	outputFile string
)

var v *viper.Viper

var rootCmd = &cobra.Command{
	Use:   "proxysweep",
	Short: "Validate reachability and latency of HTTP, HTTPS and SOCKS5 proxies",
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a proxy list against a target URL and report ranked statistics",
	Example: `  proxysweep check -i proxies.txt
  proxysweep check -i proxies.txt -c 20 -t 15s
  proxysweep check -i proxies.txt -o result.csv --format csv`,
	RunE: runCheck,
}

func init() {
	v = config.Viper()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logs and per-proxy progress")

	f := checkCmd.Flags()
	f.StringVarP(&inputFile, "input", "i", "", "path to file with proxy list (required)")
	f.StringVarP(&outputFile, "output", "o", "", "optional path to write results")
	f.String("format", "txt", "output format: txt | csv | json")
	f.StringP("url", "u", model.DefaultTargetURL, "target URL probed through each proxy")
	f.DurationP("timeout", "t", model.DefaultTimeout, "timeout for each probe")
	f.IntP("concurrency", "c", model.DefaultConcurrency, "maximum probes in flight")
	f.Int("retries", 0, "re-submit failed proxies up to N extra times")
	f.String("geoip-db", "", "optional GeoIP2/GeoLite2 city database for geo annotation")
	f.Int("top", 10, "how many fastest proxies to list on stdout")

	cobra.CheckErr(v.BindPFlag("check.target_url", f.Lookup("url")))
	cobra.CheckErr(v.BindPFlag("check.timeout", f.Lookup("timeout")))
	cobra.CheckErr(v.BindPFlag("check.concurrency", f.Lookup("concurrency")))
	cobra.CheckErr(v.BindPFlag("check.retries", f.Lookup("retries")))
	cobra.CheckErr(v.BindPFlag("check.top_fastest", f.Lookup("top")))
	cobra.CheckErr(v.BindPFlag("output.format", f.Lookup("format")))
	cobra.CheckErr(v.BindPFlag("geo.database_path", f.Lookup("geoip-db")))

	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	log := logging.NewLogger(verboseFlag)

	if inputFile == "" {
		return fmt.Errorf("--input is required")
	}

	settings, err := config.Resolve(v, cfgFile)
	if err != nil {
		return err
	}

	descriptors, parseErrs, err := parser.LoadFromFile(inputFile)
	if err != nil {
		return err
	}
	for _, pe := range parseErrs {
		log.Warn("skipping malformed proxy line", "line", pe.Line, "number", pe.Number, "reason", pe.Reason)
	}
	if len(descriptors) == 0 {
		return fmt.Errorf("no valid proxies found in %s", inputFile)
	}

	runCfg := model.RunConfig{
		TargetURL:   model.NormalizeTargetURL(settings.Check.TargetURL),
		Timeout:     settings.Check.Timeout,
		Concurrency: settings.Check.Concurrency,
		UserAgent:   settings.Check.UserAgent,
	}

	if settings.Geo.DatabasePath != "" {
		resolver, err := geo.Open(settings.Geo.DatabasePath)
		if err != nil {
			return err
		}
		defer resolver.Close()
		runCfg.Resolver = resolver
	}

	prober, err := probe.New(runCfg)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(prober, runCfg.Concurrency, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	log.Info("starting proxy check",
		"run_id", runID,
		"proxies", len(descriptors),
		"malformed_lines", len(parseErrs),
		"target_url", runCfg.TargetURL,
		"timeout", runCfg.Timeout,
		"concurrency", runCfg.Concurrency,
	)

	start := time.Now()
	collector := stats.NewCollector(len(descriptors))

	run := sched.Start(ctx, descriptors)
	for o := range run.Outcomes() {
		collector.Add(o)
		logProgress(log, collector, o, len(descriptors))
	}
	if run.Cancelled() {
		collector.MarkCancelled()
		log.Warn("run cancelled",
			"completed", run.Completed(),
			"in_flight", run.InFlight(),
			"never_started", run.NeverStarted(),
		)
	}

	retryFailed(ctx, sched, collector, settings.Check.Retries, log)

	report := collector.Report()
	log.Info("run finished",
		"run_id", runID,
		"duration_ms", time.Since(start).Milliseconds(),
		"success", report.SuccessCount,
		"failure", report.FailureCount,
		"timeout", report.TimeoutCount,
	)

	output.PrintResultsTable(os.Stdout, report)
	output.PrintSummary(os.Stdout, report)
	output.PrintTopFastest(os.Stdout, report, settings.Check.TopFastest)

	if outputFile != "" {
		if err := output.WriteFile(outputFile, settings.Output.Format, runID, report); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		log.Info("results written", "path", outputFile, "format", settings.Output.Format)
	}

	return nil
}

// logProgress echoes live results: every outcome in verbose mode,
// otherwise a progress line every 10 completions.
func logProgress(log *slog.Logger, collector *stats.Collector, o model.ProbeOutcome, total int) {
	done := collector.Len()
	if verboseFlag {
		log.Debug("proxy checked",
			"proxy", o.Proxy,
			"status", o.Status.String(),
			"latency_ms", o.LatencyMs,
			"detail", o.ErrorDetail,
			"progress", fmt.Sprintf("%d/%d", done, total),
		)
		return
	}
	if done%10 == 0 || done == total {
		live := collector.Report()
		log.Info("progress",
			"done", done,
			"total", total,
			"success", live.SuccessCount,
		)
	}
}

// retryFailed re-submits failed and timed-out descriptors as fresh runs.
// A later success replaces the descriptor's earlier outcome; submission
// indices are preserved so the final sort order stays stable.
func retryFailed(ctx context.Context, sched *scheduler.Scheduler, collector *stats.Collector, retries int, log *slog.Logger) {
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		outcomes, _ := collector.Snapshot()
		var jobs []scheduler.Job
		for _, o := range outcomes {
			if !o.OK() {
				jobs = append(jobs, scheduler.Job{Seq: o.Seq, Descriptor: o.Descriptor})
			}
		}
		if len(jobs) == 0 {
			return
		}

		log.Info("retrying failed proxies", "attempt", attempt, "count", len(jobs))
		run := sched.StartJobs(ctx, jobs)
		for o := range run.Outcomes() {
			collector.Replace(o)
		}
		if run.Cancelled() {
			collector.MarkCancelled()
			return
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
