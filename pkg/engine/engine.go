// Package engine answers questions about a repository from retrieved
// context, reformulating the query and relaxing the sufficiency threshold
// until the context is judged good enough or the threshold runs out.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
	"github.com/xhad/repochat/pkg/llm"
)

type Status string

const (
	StatusAnswered  Status = "answered"
	StatusExhausted Status = "exhausted"
)

const (
	ModeAdaptive = "adaptive"
	ModeSimple   = "simple"
)

// InsufficientContext is the user-facing text for an exhausted session.
const InsufficientContext = "No sufficient context was found in the repository to answer this question."

type Config struct {
	Mode             string
	Repo             string
	InitialThreshold int
	Decrement        int
	Reformulations   int
	// UpgradeQuery makes simple mode answer from the first reformulation.
	UpgradeQuery bool
	// OnEntry, when set, sees every chat log entry as it is appended.
	OnEntry func(models.ChatLogEntry)
	Logger  *slog.Logger
}

// Result is the outcome of one Chat call. An exhausted session is a
// normal result with an empty Answer, not an error.
type Result struct {
	Status    Status                `json:"status"`
	Answer    string                `json:"answer"`
	Query     string                `json:"query"`
	Threshold int                   `json:"threshold"`
	Rounds    int                   `json:"rounds"`
	Context   models.QueryContext   `json:"context"`
	Usage     models.Usage          `json:"usage"`
	ChatLog   []models.ChatLogEntry `json:"chat_log"`
}

func (r *Result) Answered() bool {
	return r.Status == StatusAnswered
}

// Text is the answer, or the insufficient-context message.
func (r *Result) Text() string {
	if r.Answered() {
		return r.Answer
	}
	return InsufficientContext
}

// Session owns one chat log. Sessions are not safe for concurrent use;
// create one per query run.
type Session struct {
	retriever types.Retriever
	completer types.Completer
	prompts   *llm.Prompts
	config    Config
	logger    *slog.Logger

	chatLog []models.ChatLogEntry
	usage   models.Usage
	now     func() time.Time
}

func NewSession(retriever types.Retriever, completer types.Completer, prompts *llm.Prompts, config Config) (*Session, error) {
	if retriever == nil || completer == nil || prompts == nil {
		return nil, fmt.Errorf("retriever, completer and prompts are required")
	}
	if config.Mode == "" {
		config.Mode = ModeAdaptive
	}
	if config.Mode != ModeAdaptive && config.Mode != ModeSimple {
		return nil, fmt.Errorf("unknown engine mode %q", config.Mode)
	}
	if config.InitialThreshold == 0 {
		config.InitialThreshold = 60
	}
	if config.Decrement == 0 {
		config.Decrement = 10
	}
	if config.Reformulations == 0 {
		config.Reformulations = 5
	}
	if config.InitialThreshold < 0 || config.Decrement < 0 || config.Reformulations < 0 {
		return nil, fmt.Errorf("threshold, decrement and reformulations must be positive")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		retriever: retriever,
		completer: completer,
		prompts:   prompts,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// ChatLog returns a copy of the entries appended so far, oldest first.
func (s *Session) ChatLog() []models.ChatLogEntry {
	return append([]models.ChatLogEntry(nil), s.chatLog...)
}

// Usage is the total cost of every completion call made by the session.
func (s *Session) Usage() models.Usage {
	return s.usage
}

// Chat answers query. Completion, retrieval and malformed-score errors are
// returned as errors; running out of threshold is StatusExhausted.
func (s *Session) Chat(ctx context.Context, query string) (*Result, error) {
	if s.config.Mode == ModeSimple {
		return s.chatSimple(ctx, query)
	}
	return s.chatAdaptive(ctx, query)
}

func (s *Session) chatAdaptive(ctx context.Context, query string) (*Result, error) {
	threshold := s.config.InitialThreshold
	round := 0

	qc, ok, err := s.check(ctx, query, threshold, round)
	if err != nil {
		return nil, err
	}
	if ok {
		return s.answer(ctx, qc, threshold, round)
	}

	last := qc
	for threshold > 0 {
		round++
		variants, err := s.upgrade(ctx, query)
		if err != nil {
			return nil, err
		}

		for _, variant := range variants {
			qc, ok, err := s.check(ctx, variant, threshold, round)
			if err != nil {
				return nil, err
			}
			if ok {
				return s.answer(ctx, qc, threshold, round)
			}
			last = qc
		}

		threshold -= s.config.Decrement
	}

	s.logger.Info("context exhausted", "repo", s.config.Repo, "query", query, "rounds", round+1)
	return s.result(StatusExhausted, "", last, threshold, round), nil
}

// chatSimple makes a single retrieval and always answers.
func (s *Session) chatSimple(ctx context.Context, query string) (*Result, error) {
	effective := query
	if s.config.UpgradeQuery {
		variants, err := s.upgrade(ctx, query)
		if err != nil {
			return nil, err
		}
		if len(variants) > 0 {
			effective = variants[0]
		}
	}

	qc, _, err := s.check(ctx, effective, 0, 0)
	if err != nil {
		return nil, err
	}
	return s.answer(ctx, qc, 0, 0)
}

// check retrieves context for query, asks for a sufficiency score and
// logs the attempt. ok reports whether the score clears threshold.
func (s *Session) check(ctx context.Context, query string, threshold, round int) (models.QueryContext, bool, error) {
	qc, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return qc, false, fmt.Errorf("retrieval failed: %w", err)
	}
	if qc.Repo == "" {
		qc.Repo = s.config.Repo
	}
	if len(qc.SimilarDocuments) != len(qc.Scores) {
		return qc, false, fmt.Errorf("retriever returned %d documents and %d scores", len(qc.SimilarDocuments), len(qc.Scores))
	}

	prompt, err := s.prompts.Render(llm.PromptContextValidator, map[string]any{
		"query":             qc.Query,
		"similar_documents": strings.Join(qc.SimilarDocuments, "\n\n"),
		"repo":              qc.Repo,
	})
	if err != nil {
		return qc, false, err
	}

	completion, err := s.complete(ctx, prompt)
	if err != nil {
		return qc, false, fmt.Errorf("context check failed: %w", err)
	}

	score, err := llm.ParseScore(completion.Text)
	if err != nil {
		return qc, false, fmt.Errorf("context check for %q: %w", query, err)
	}

	entry := models.ChatLogEntry{
		Inputs:      qc,
		Sufficiency: score,
		Threshold:   threshold,
		Round:       round,
		Usage:       completion.Usage,
		Timestamp:   s.now(),
	}
	s.chatLog = append(s.chatLog, entry)
	if s.config.OnEntry != nil {
		s.config.OnEntry(entry)
	}

	s.logger.Debug("context check",
		"query", query,
		"score", score,
		"threshold", threshold,
		"round", round,
		"documents", len(qc.SimilarDocuments))

	return qc, score > threshold, nil
}

// upgrade asks for reformulations of the original query.
func (s *Session) upgrade(ctx context.Context, query string) ([]string, error) {
	prompt, err := s.prompts.Render(llm.PromptUpgradeQuery, map[string]any{
		"query": query,
		"repo":  s.config.Repo,
	})
	if err != nil {
		return nil, err
	}

	completion, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("query upgrade failed: %w", err)
	}

	variants := llm.ParseQueries(completion.Text, s.config.Reformulations)
	if len(variants) == 0 {
		s.logger.Warn("query upgrade returned no queries", "query", query)
	}
	return variants, nil
}

func (s *Session) answer(ctx context.Context, qc models.QueryContext, threshold, round int) (*Result, error) {
	prompt, err := s.prompts.Render(llm.PromptRunQueryRAG, map[string]any{
		"query":             qc.Query,
		"similar_documents": strings.Join(qc.SimilarDocuments, "\n\n"),
		"repo":              qc.Repo,
	})
	if err != nil {
		return nil, err
	}

	completion, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	return s.result(StatusAnswered, completion.Text, qc, threshold, round), nil
}

func (s *Session) complete(ctx context.Context, prompt string) (models.Completion, error) {
	completion, err := s.completer.Complete(ctx, []models.Message{
		{Role: models.RoleUser, Content: prompt},
	})
	if err != nil {
		return completion, err
	}
	s.usage = s.usage.Add(completion.Usage)
	return completion, nil
}

func (s *Session) result(status Status, answer string, qc models.QueryContext, threshold, round int) *Result {
	return &Result{
		Status:    status,
		Answer:    answer,
		Query:     qc.Query,
		Threshold: threshold,
		Rounds:    round + 1,
		Context:   qc,
		Usage:     s.usage,
		ChatLog:   s.ChatLog(),
	}
}
