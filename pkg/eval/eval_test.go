package eval_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/repochat/internal/fakes"
	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/pkg/engine"
	"github.com/xhad/repochat/pkg/eval"
	"github.com/xhad/repochat/pkg/llm"
)

const helperEnv = "REPOCHAT_EVAL_HELPER"

// TestMain doubles as the eval-worker child process when helperEnv is set.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "fail":
		fmt.Fprintln(os.Stderr, "worker crashed")
		os.Exit(3)
	default:
		evaluator := newEvaluator(newCompleter(nil))
		if err := eval.ServeWorker(context.Background(), os.Stdin, os.Stdout, evaluator); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
}

type fixedRetriever struct{}

func (fixedRetriever) Retrieve(_ context.Context, query string) (models.QueryContext, error) {
	return models.QueryContext{
		Query:            query,
		SimilarDocuments: []string{"Source: auth.py\n\"\"\"Handles login\"\"\""},
		Scores:           []float64{0.82},
		Sources:          []string{"auth.py"},
	}, nil
}

func testPrompts() *llm.Prompts {
	p, err := llm.NewPrompts(map[string]llm.PromptSpec{
		llm.PromptContextValidator: {
			InputVariables: []string{"query", "similar_documents", "repo"},
			Template:       "VALIDATE\n{{.query}}\n{{.similar_documents}}\n{{.repo}}",
		},
		llm.PromptUpgradeQuery: {
			InputVariables: []string{"query", "repo"},
			Template:       "UPGRADE\n{{.query}}\n{{.repo}}",
		},
		llm.PromptRunQueryRAG: {
			InputVariables: []string{"query", "similar_documents", "repo"},
			Template:       "ANSWER\n{{.query}}\n{{.similar_documents}}\n{{.repo}}",
		},
		llm.PromptCritic: {
			InputVariables: []string{"query", "response", "repo"},
			Template:       "CRITIC\n{{.query}}\n{{.response}}\n{{.repo}}",
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// newCompleter scores every context 80 and every answer 70, except for
// queries starting with "unanswerable" whose context always scores 0.
// Answer prompts for queries in failing return an error.
func newCompleter(failing map[string]bool) *fakes.Completer {
	return &fakes.Completer{Respond: func(prompt string) (string, error) {
		lines := strings.SplitN(prompt, "\n", 3)
		kind, query := lines[0], lines[1]
		switch {
		case failing[query] && kind == "ANSWER":
			return "", errors.New("completion service unavailable")
		case kind == "VALIDATE":
			if strings.HasPrefix(query, "unanswerable") {
				return "0", nil
			}
			return "80", nil
		case kind == "UPGRADE":
			return fmt.Sprintf("1. %s v1\n2. %s v2", query, query), nil
		case kind == "ANSWER":
			return "It is in auth.py", nil
		case kind == "CRITIC":
			if strings.Contains(prompt, engine.InsufficientContext) {
				return "5", nil
			}
			return "70", nil
		}
		return "", fmt.Errorf("unexpected prompt %q", kind)
	}}
}

func newEvaluator(c *fakes.Completer) *eval.Evaluator {
	prompts := testPrompts()
	return eval.NewEvaluator(eval.NewSessionFactory(fixedRetriever{}, c, prompts, nil), c, prompts, nil)
}

func TestHarnessTwoQueriesThreeRuns(t *testing.T) {
	h := eval.NewHarness(newEvaluator(newCompleter(nil)), eval.HarnessConfig{
		Repo:         "acme/api",
		RunsPerQuery: 3,
		MaxWorkers:   2,
	})

	report, err := h.Evaluate(context.Background(), []string{"How does authentication work?", "Where are sessions stored?"}, nil)
	require.NoError(t, err)

	rows := report.Rows()
	require.Len(t, rows, 6)
	for _, row := range rows {
		assert.Empty(t, row.Error)
		assert.GreaterOrEqual(t, row.CriticScore, 0)
		assert.LessOrEqual(t, row.CriticScore, 100)
		assert.Equal(t, "It is in auth.py", row.Response)
		// Each run has its own session, so exactly one context check.
		assert.Len(t, row.Trace, 1)
	}

	results := report.Results["default"]["Where are sessions stored?"]
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Run)
		assert.Equal(t, engine.StatusAnswered, r.Status)
		assert.Equal(t, 3, r.Usage.Calls)
	}

	assert.Equal(t, map[string]map[string][]int{
		"default": {
			"How does authentication work?": {70, 70, 70},
			"Where are sessions stored?":    {70, 70, 70},
		},
	}, report.Scores())
}

func TestHarnessVariants(t *testing.T) {
	h := eval.NewHarness(newEvaluator(newCompleter(nil)), eval.HarnessConfig{RunsPerQuery: 2})

	variants := []eval.Variant{
		{Name: "adaptive"},
		{Name: "simple", Mode: engine.ModeSimple, UpgradeQuery: true},
	}
	report, err := h.Evaluate(context.Background(), []string{"q1", "unanswerable", "q1"}, variants)
	require.NoError(t, err)

	assert.Equal(t, []string{"adaptive", "simple"}, report.Variants)
	assert.Equal(t, []string{"q1", "unanswerable"}, report.Queries)
	assert.Len(t, report.Rows(), 2*2*2)

	exhausted := report.Results["adaptive"]["unanswerable"][0]
	assert.Equal(t, engine.StatusExhausted, exhausted.Status)
	assert.Equal(t, engine.InsufficientContext, exhausted.Response)
	assert.Equal(t, 5, exhausted.CriticScore)

	simple := report.Results["simple"]["unanswerable"][0]
	assert.Equal(t, engine.StatusAnswered, simple.Status)
	assert.Equal(t, "unanswerable v1", simple.ChatLog[0].Inputs.Query)

	_, err = h.Evaluate(context.Background(), []string{"q"}, []eval.Variant{{Name: "x"}, {Name: "x"}})
	assert.Error(t, err)
}

func TestHarnessReportsPartialFailures(t *testing.T) {
	h := eval.NewHarness(newEvaluator(newCompleter(map[string]bool{"broken": true})), eval.HarnessConfig{RunsPerQuery: 2})

	report, err := h.Evaluate(context.Background(), []string{"fine", "broken"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.FailedRuns())
	for _, r := range report.Results["default"]["broken"] {
		assert.True(t, r.Failed())
		assert.Contains(t, r.Error, "completion service unavailable")
		assert.Len(t, r.ChatLog, 1)
	}
	assert.Equal(t, []int{}, report.Scores()["default"]["broken"])
	assert.Equal(t, []int{70, 70}, report.Scores()["default"]["fine"])

	summary := report.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, eval.Summary{Variant: "default", Query: "fine", Runs: 2, Answered: 2, Mean: 70, Min: 70, Max: 70}, summary[0])
	assert.Equal(t, 2, summary[1].Failed)
}

type brokenRunner struct {
	mu   sync.Mutex
	seen []string
}

func (b *brokenRunner) Run(_ context.Context, job eval.Job) ([]eval.Result, error) {
	b.mu.Lock()
	b.seen = append(b.seen, job.Query)
	b.mu.Unlock()
	if job.Query == "crash" {
		return nil, errors.New("worker exited with status 2")
	}
	results := make([]eval.Result, job.Runs)
	for i := range results {
		results[i] = eval.Result{CriticScore: 50, Status: engine.StatusAnswered}
	}
	return results, nil
}

func TestHarnessPadsFailedJobs(t *testing.T) {
	runner := &brokenRunner{}
	var jobs int
	var mu sync.Mutex
	h := eval.NewHarness(runner, eval.HarnessConfig{
		RunsPerQuery: 3,
		MaxWorkers:   4,
		OnJob: func(eval.Job, []eval.Result) {
			mu.Lock()
			jobs++
			mu.Unlock()
		},
	})

	report, err := h.Evaluate(context.Background(), []string{"ok", "crash"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, jobs)
	assert.ElementsMatch(t, []string{"ok", "crash"}, runner.seen)

	crashed := report.Results["default"]["crash"]
	require.Len(t, crashed, 3)
	for i, r := range crashed {
		assert.Equal(t, i, r.Run)
		assert.Equal(t, "crash", r.Query)
		assert.Contains(t, r.Error, "status 2")
	}

	ok := report.Results["default"]["ok"]
	require.Len(t, ok, 3)
	assert.Equal(t, "ok", ok[2].Query)
	assert.Equal(t, 2, ok[2].Run)
}

func helperRunner(mode string) *eval.ProcessRunner {
	return &eval.ProcessRunner{
		Path: os.Args[0],
		Env:  append(os.Environ(), helperEnv+"="+mode),
	}
}

func TestProcessRunner(t *testing.T) {
	job := eval.Job{Variant: eval.Variant{Name: "adaptive"}, Query: "How does authentication work?", Repo: "acme/api", Runs: 2}

	results, err := helperRunner("1").Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, i, r.Run)
		assert.Equal(t, "adaptive", r.Variant)
		assert.Equal(t, 70, r.CriticScore)
		require.Len(t, r.ChatLog, 1)
		assert.Equal(t, 80, r.ChatLog[0].Sufficiency)
	}
}

func TestProcessRunnerWorkerFailure(t *testing.T) {
	_, err := helperRunner("fail").Run(context.Background(), eval.Job{Query: "q", Runs: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker crashed")
}

func TestHarnessOverProcesses(t *testing.T) {
	h := eval.NewHarness(helperRunner("1"), eval.HarnessConfig{Repo: "acme/api", RunsPerQuery: 3, MaxWorkers: 2})

	report, err := h.Evaluate(context.Background(), []string{"q1", "q2"}, nil)
	require.NoError(t, err)
	require.Len(t, report.Rows(), 6)
	assert.Zero(t, report.FailedRuns())
}

func TestServeWorkerBadInput(t *testing.T) {
	var out bytes.Buffer
	err := eval.ServeWorker(context.Background(), strings.NewReader("not json"), &out, newEvaluator(newCompleter(nil)))
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestWriteCSV(t *testing.T) {
	h := eval.NewHarness(newEvaluator(newCompleter(nil)), eval.HarnessConfig{RunsPerQuery: 1})
	report, err := h.Evaluate(context.Background(), []string{"a, quoted \"query\""}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "critic_score", records[0][4])
	assert.Equal(t, "a, quoted \"query\"", records[1][1])
	assert.Equal(t, "70", records[1][4])
	assert.Contains(t, records[1][9], `"sufficiency_score":80`)

	buf.Reset()
	require.NoError(t, report.WriteTraceCSV(&buf))
	records, err = csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0.8200", records[1][8])

	trace := report.TraceRows()
	require.Len(t, trace, 1)
	assert.Equal(t, 60, trace[0].Threshold)
}
