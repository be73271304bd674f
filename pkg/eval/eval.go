// Package eval runs the query engine repeatedly over a set of questions,
// scores every answer with a critic prompt and tabulates the results.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
	"github.com/xhad/repochat/pkg/engine"
	"github.com/xhad/repochat/pkg/llm"
)

// Variant is one engine configuration under comparison.
type Variant struct {
	Name             string `json:"name" yaml:"name"`
	Mode             string `json:"mode" yaml:"mode"`
	InitialThreshold int    `json:"initial_threshold" yaml:"initial_threshold"`
	Decrement        int    `json:"decrement" yaml:"decrement"`
	Reformulations   int    `json:"reformulations" yaml:"reformulations"`
	UpgradeQuery     bool   `json:"upgrade_query" yaml:"upgrade_query"`
}

// EngineConfig builds the session configuration for repo.
func (v Variant) EngineConfig(repo string) engine.Config {
	return engine.Config{
		Mode:             v.Mode,
		Repo:             repo,
		InitialThreshold: v.InitialThreshold,
		Decrement:        v.Decrement,
		Reformulations:   v.Reformulations,
		UpgradeQuery:     v.UpgradeQuery,
	}
}

// Job is every run of one query under one variant.
type Job struct {
	Variant Variant `json:"variant"`
	Query   string  `json:"query"`
	Repo    string  `json:"repo"`
	Runs    int     `json:"runs"`
}

// Result is one scored run. A run that failed carries Error and no score.
type Result struct {
	Variant     string                `json:"variant"`
	Query       string                `json:"query"`
	Run         int                   `json:"run"`
	Status      engine.Status         `json:"status,omitempty"`
	Response    string                `json:"response"`
	CriticScore int                   `json:"critic_score"`
	Rounds      int                   `json:"rounds"`
	Error       string                `json:"error,omitempty"`
	Usage       models.Usage          `json:"usage"`
	Duration    time.Duration         `json:"duration"`
	ChatLog     []models.ChatLogEntry `json:"chat_log"`
}

func (r Result) Failed() bool {
	return r.Error != ""
}

// Runner executes a Job and returns one Result per run, in run order.
type Runner interface {
	Run(ctx context.Context, job Job) ([]Result, error)
}

// SessionFactory builds a fresh engine session for one run.
type SessionFactory func(cfg engine.Config) (*engine.Session, error)

// NewSessionFactory returns a factory that shares retriever, completer and
// prompts across sessions while giving each its own chat log.
func NewSessionFactory(retriever types.Retriever, completer types.Completer, prompts *llm.Prompts, logger *slog.Logger) SessionFactory {
	return func(cfg engine.Config) (*engine.Session, error) {
		cfg.Logger = logger
		return engine.NewSession(retriever, completer, prompts, cfg)
	}
}

// Evaluator runs jobs in the current process.
type Evaluator struct {
	newSession SessionFactory
	critic     types.Completer
	prompts    *llm.Prompts
	logger     *slog.Logger
}

func NewEvaluator(newSession SessionFactory, critic types.Completer, prompts *llm.Prompts, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		newSession: newSession,
		critic:     critic,
		prompts:    prompts,
		logger:     logger,
	}
}

// Run executes job.Runs independent sessions one after another. A failing
// run is recorded in its Result and does not stop the others; only context
// cancellation ends the job early.
func (e *Evaluator) Run(ctx context.Context, job Job) ([]Result, error) {
	results := make([]Result, 0, job.Runs)
	for run := 0; run < job.Runs; run++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.runOnce(ctx, job, run))
	}
	return results, nil
}

func (e *Evaluator) runOnce(ctx context.Context, job Job, run int) Result {
	start := time.Now()
	res := Result{Variant: job.Variant.Name, Query: job.Query, Run: run}

	fail := func(err error) Result {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		e.logger.Warn("evaluation run failed", "variant", job.Variant.Name, "query", job.Query, "run", run, "error", err)
		return res
	}

	session, err := e.newSession(job.Variant.EngineConfig(job.Repo))
	if err != nil {
		return fail(err)
	}

	out, err := session.Chat(ctx, job.Query)
	res.ChatLog = session.ChatLog()
	res.Usage = session.Usage()
	if err != nil {
		return fail(err)
	}
	res.Status = out.Status
	res.Response = out.Text()
	res.Rounds = out.Rounds

	score, usage, err := e.score(ctx, job, res.Response)
	res.Usage = res.Usage.Add(usage)
	if err != nil {
		return fail(fmt.Errorf("critic: %w", err))
	}
	res.CriticScore = score
	res.Duration = time.Since(start)
	return res
}

// score asks the critic how well response answers the query. This score is
// separate from the sufficiency scores inside the session.
func (e *Evaluator) score(ctx context.Context, job Job, response string) (int, models.Usage, error) {
	prompt, err := e.prompts.Render(llm.PromptCritic, map[string]any{
		"query":    job.Query,
		"response": response,
		"repo":     job.Repo,
	})
	if err != nil {
		return 0, models.Usage{}, err
	}

	completion, err := e.critic.Complete(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}})
	if err != nil {
		return 0, models.Usage{}, err
	}

	score, err := llm.ParseScore(completion.Text)
	return score, completion.Usage, err
}
