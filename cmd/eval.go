package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	cfgPkg "github.com/xhad/repochat/pkg/config"
	"github.com/xhad/repochat/pkg/eval"
)

var (
	flagQueriesFile string
	flagRuns        int
	flagWorkers     int
	flagEvalMode    string
	flagOutput      string
	flagTraceOutput string
	flagReportJSON  string
)

var evalCmd = &cobra.Command{
	Use:   "eval [query...]",
	Short: "Score the engine on a set of questions, several runs each",
	Long: `eval answers every question several times under every configured
variant, scores each answer with a critic prompt and writes the results.
Queries come from the arguments, --queries-file or eval.queries in the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if flagRepo == "" {
			return fmt.Errorf("--repo is required")
		}
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if flagRuns > 0 {
			config.Eval.RunsPerQuery = flagRuns
		}
		if flagWorkers > 0 {
			config.Eval.MaxWorkers = flagWorkers
		}
		if flagEvalMode != "" {
			config.Eval.Mode = flagEvalMode
		}
		if flagOutput != "" {
			config.Eval.Output = flagOutput
		}

		queries, err := evalQueries(args, config)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, config)
		if err != nil {
			return err
		}
		defer a.close()

		namespace := namespaceFor(flagRepo, flagNamespace)
		if err := a.ensureIndexed(ctx, flagRepo, namespace, false); err != nil {
			return err
		}

		var runner eval.Runner = &repoRunner{app: a}
		switch config.Eval.Mode {
		case cfgPkg.EvalModeProcess:
			if config.Database.Backend == cfgPkg.BackendMemory {
				return fmt.Errorf("process mode needs a shared index; use --mode inprocess with the memory backend")
			}
			args := []string{"eval-worker"}
			if flagConfig != "" {
				args = append(args, "--config", flagConfig)
			}
			if flagVerbose {
				args = append(args, "--verbose")
			}
			runner, err = eval.SelfRunner(args...)
			if err != nil {
				return err
			}
		case cfgPkg.EvalModeInProcess:
		default:
			return fmt.Errorf("unknown eval mode %q", config.Eval.Mode)
		}

		variants := evalVariants(config)
		bar := getProgressBar(len(queries)*len(variants), "🧪 Evaluating...", false)
		var done atomic.Int64

		h := eval.NewHarness(runner, eval.HarnessConfig{
			Repo:         namespace,
			RunsPerQuery: config.Eval.RunsPerQuery,
			MaxWorkers:   config.Eval.MaxWorkers,
			Logger:       a.logger,
			OnJob: func(eval.Job, []eval.Result) {
				bar.Set(int(done.Add(1)))
			},
		})

		report, err := h.Evaluate(ctx, queries, variants)
		bar.Finish()
		if report == nil {
			return err
		}

		// A cancelled run still writes what finished.
		if werr := writeReport(report, config.Eval.Output); werr != nil {
			return werr
		}
		printSummary(report)
		return err
	},
}

var evalWorkerCmd = &cobra.Command{
	Use:    "eval-worker",
	Short:  "Run one evaluation job read from stdin",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, config)
		if err != nil {
			return err
		}
		defer a.close()

		return eval.ServeWorker(ctx, os.Stdin, os.Stdout, &repoRunner{app: a})
	},
}

// repoRunner evaluates jobs in this process against the namespace named by
// each job's Repo.
type repoRunner struct {
	app *app
}

func (r *repoRunner) Run(ctx context.Context, job eval.Job) ([]eval.Result, error) {
	a := r.app
	factory := eval.NewSessionFactory(a.retriever(job.Repo), a.completer, a.prompts, a.logger)
	return eval.NewEvaluator(factory, a.completer, a.prompts, a.logger).Run(ctx, job)
}

func evalQueries(args []string, config *cfgPkg.Config) ([]string, error) {
	queries := append([]string(nil), args...)
	if flagQueriesFile != "" {
		f, err := os.Open(flagQueriesFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if q := strings.TrimSpace(scanner.Text()); q != "" && !strings.HasPrefix(q, "#") {
				queries = append(queries, q)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	if len(queries) == 0 {
		queries = config.Eval.Queries
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries: pass them as arguments, with --queries-file or in eval.queries")
	}
	return queries, nil
}

// evalVariants turns the configured variants into eval variants, filling
// unset fields from the engine section. No variants means one "default"
// variant built from the engine section alone.
func evalVariants(config *cfgPkg.Config) []eval.Variant {
	e := config.Engine
	base := eval.Variant{
		Name:             "default",
		Mode:             e.Mode,
		InitialThreshold: e.InitialThreshold,
		Decrement:        e.Decrement,
		Reformulations:   e.Reformulations,
		UpgradeQuery:     e.UpgradeQuery,
	}
	if len(config.Eval.Variants) == 0 {
		return []eval.Variant{base}
	}

	out := make([]eval.Variant, 0, len(config.Eval.Variants))
	for _, vc := range config.Eval.Variants {
		v := base
		v.Name = vc.Name
		if vc.Mode != "" {
			v.Mode = vc.Mode
		}
		if vc.InitialThreshold != 0 {
			v.InitialThreshold = vc.InitialThreshold
		}
		if vc.Decrement != 0 {
			v.Decrement = vc.Decrement
		}
		if vc.Reformulations != 0 {
			v.Reformulations = vc.Reformulations
		}
		if vc.UpgradeQuery != nil {
			v.UpgradeQuery = *vc.UpgradeQuery
		}
		out = append(out, v)
	}
	return out
}

func writeReport(report *eval.Report, output string) error {
	write := func(path string, fn func(*os.File) error) error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		color.Green("✓ Wrote %s", path)
		return f.Close()
	}

	if output != "" {
		if err := write(output, func(f *os.File) error { return report.WriteCSV(f) }); err != nil {
			return err
		}
	}
	if flagTraceOutput != "" {
		if err := write(flagTraceOutput, func(f *os.File) error { return report.WriteTraceCSV(f) }); err != nil {
			return err
		}
	}
	if flagReportJSON != "" {
		if err := write(flagReportJSON, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(report *eval.Report) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tQUERY\tRUNS\tANSWERED\tFAILED\tMEAN\tMIN\tMAX")
	for _, s := range report.Summary() {
		query := s.Query
		if len(query) > 50 {
			query = query[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\t%d\t%d\n",
			s.Variant, query, s.Runs, s.Answered, s.Failed, s.Mean, s.Min, s.Max)
	}
	w.Flush()

	if n := report.FailedRuns(); n > 0 {
		color.Yellow("\n%d runs failed; see the error column of the CSV output", n)
	}
	fmt.Printf("\nFinished in %s\n", report.Duration.Round(time.Millisecond))
}

func init() {
	addRepoFlags(evalCmd)
	evalCmd.Flags().StringVarP(&flagQueriesFile, "queries-file", "f", "", "file with one query per line")
	evalCmd.Flags().IntVar(&flagRuns, "runs", 0, "runs per query (default from config)")
	evalCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel jobs (default from config)")
	evalCmd.Flags().StringVar(&flagEvalMode, "mode", "", "process or inprocess (default from config)")
	evalCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "CSV file with one row per run")
	evalCmd.Flags().StringVar(&flagTraceOutput, "trace-output", "", "CSV file with one row per context check")
	evalCmd.Flags().StringVar(&flagReportJSON, "json-output", "", "JSON file with the full report")
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(evalWorkerCmd)
}
