package eval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

type HarnessConfig struct {
	Repo         string
	RunsPerQuery int
	MaxWorkers   int
	Logger       *slog.Logger
	// OnJob, when set, is called after each job finishes. It may be called
	// from several goroutines at once.
	OnJob func(job Job, results []Result)
}

// Harness fans jobs out to a Runner.
type Harness struct {
	runner Runner
	config HarnessConfig
	logger *slog.Logger
}

func NewHarness(runner Runner, config HarnessConfig) *Harness {
	if config.RunsPerQuery <= 0 {
		config.RunsPerQuery = 5
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{runner: runner, config: config, logger: logger}
}

// Evaluate runs every query under every variant. Jobs that fail as a whole
// are reported as failed runs, so the report always has RunsPerQuery
// results per (variant, query).
func (h *Harness) Evaluate(ctx context.Context, queries []string, variants []Variant) (*Report, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries to evaluate")
	}
	queries = dedupe(queries)
	if len(variants) == 0 {
		variants = []Variant{{Name: "default"}}
	}
	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if seen[v.Name] {
			return nil, fmt.Errorf("duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true
	}

	var jobs []Job
	for _, v := range variants {
		for _, q := range queries {
			jobs = append(jobs, Job{Variant: v, Query: q, Repo: h.config.Repo, Runs: h.config.RunsPerQuery})
		}
	}

	start := time.Now()
	slots := make([][]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(h.config.MaxWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			results, err := h.runner.Run(ctx, job)
			slots[i] = complete(job, results, err)
			if err != nil {
				h.logger.Warn("evaluation job failed", "variant", job.Variant.Name, "query", job.Query, "error", err)
			}
			if h.config.OnJob != nil {
				h.config.OnJob(job, slots[i])
			}
			return nil
		})
	}
	g.Wait()

	report := newReport(h.config.Repo, queries, variants)
	for i, job := range jobs {
		report.Results[job.Variant.Name][job.Query] = slots[i]
	}
	report.Duration = time.Since(start)

	h.logger.Info("evaluation finished",
		"jobs", len(jobs),
		"runs", len(report.Rows()),
		"failed", report.FailedRuns(),
		"duration", report.Duration)

	return report, ctx.Err()
}

// complete pads results with failed runs so that a job always yields
// job.Runs results.
func complete(job Job, results []Result, err error) []Result {
	out := make([]Result, 0, job.Runs)
	for _, r := range results {
		if len(out) == job.Runs {
			break
		}
		r.Variant, r.Query, r.Run = job.Variant.Name, job.Query, len(out)
		out = append(out, r)
	}

	msg := "worker returned too few results"
	if err != nil {
		msg = err.Error()
	}
	for len(out) < job.Runs {
		out = append(out, Result{Variant: job.Variant.Name, Query: job.Query, Run: len(out), Error: msg})
	}
	return out
}

func dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}
