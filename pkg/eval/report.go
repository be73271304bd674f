package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/pkg/engine"
)

// Report holds results keyed by variant, then query. Queries and Variants
// keep the input order for stable output.
type Report struct {
	Repo     string                         `json:"repo"`
	Queries  []string                       `json:"queries"`
	Variants []string                       `json:"variants"`
	Results  map[string]map[string][]Result `json:"results"`
	Duration time.Duration                  `json:"duration"`
}

func newReport(repo string, queries []string, variants []Variant) *Report {
	r := &Report{
		Repo:    repo,
		Queries: queries,
		Results: make(map[string]map[string][]Result, len(variants)),
	}
	for _, v := range variants {
		r.Variants = append(r.Variants, v.Name)
		r.Results[v.Name] = make(map[string][]Result, len(queries))
	}
	return r
}

// TraceStep is one context check inside a run.
type TraceStep struct {
	Query          string    `json:"query"`
	Sufficiency    int       `json:"sufficiency_score"`
	Threshold      int       `json:"threshold"`
	Round          int       `json:"round"`
	DocumentScores []float64 `json:"document_similarity_score"`
}

// Row is one (variant, query, run).
type Row struct {
	Variant     string
	Query       string
	Run         int
	Status      string
	CriticScore int
	Response    string
	Error       string
	Rounds      int
	TotalTokens int
	Trace       []TraceStep
}

// TraceRow is one chat log entry of one run.
type TraceRow struct {
	Variant        string
	Query          string
	Run            int
	Step           int
	CheckQuery     string
	Sufficiency    int
	Threshold      int
	Round          int
	DocumentScores []float64
}

func (r *Report) each(fn func(res Result)) {
	for _, v := range r.Variants {
		for _, q := range r.Queries {
			for _, res := range r.Results[v][q] {
				fn(res)
			}
		}
	}
}

func traceOf(log []models.ChatLogEntry) []TraceStep {
	steps := make([]TraceStep, len(log))
	for i, e := range log {
		steps[i] = TraceStep{
			Query:          e.Inputs.Query,
			Sufficiency:    e.Sufficiency,
			Threshold:      e.Threshold,
			Round:          e.Round,
			DocumentScores: e.Inputs.Scores,
		}
	}
	return steps
}

// Rows flattens the report to one row per run.
func (r *Report) Rows() []Row {
	var rows []Row
	r.each(func(res Result) {
		rows = append(rows, Row{
			Variant:     res.Variant,
			Query:       res.Query,
			Run:         res.Run,
			Status:      string(res.Status),
			CriticScore: res.CriticScore,
			Response:    res.Response,
			Error:       res.Error,
			Rounds:      res.Rounds,
			TotalTokens: res.Usage.TotalTokens,
			Trace:       traceOf(res.ChatLog),
		})
	})
	return rows
}

// TraceRows flattens the report to one row per context check.
func (r *Report) TraceRows() []TraceRow {
	var rows []TraceRow
	r.each(func(res Result) {
		for i, step := range traceOf(res.ChatLog) {
			rows = append(rows, TraceRow{
				Variant:        res.Variant,
				Query:          res.Query,
				Run:            res.Run,
				Step:           i,
				CheckQuery:     step.Query,
				Sufficiency:    step.Sufficiency,
				Threshold:      step.Threshold,
				Round:          step.Round,
				DocumentScores: step.DocumentScores,
			})
		}
	})
	return rows
}

// Scores returns the critic scores of successful runs per variant and query.
func (r *Report) Scores() map[string]map[string][]int {
	out := make(map[string]map[string][]int, len(r.Variants))
	for _, v := range r.Variants {
		out[v] = make(map[string][]int, len(r.Queries))
		for _, q := range r.Queries {
			scores := []int{}
			for _, res := range r.Results[v][q] {
				if !res.Failed() {
					scores = append(scores, res.CriticScore)
				}
			}
			out[v][q] = scores
		}
	}
	return out
}

// FailedRuns counts runs that ended in an error.
func (r *Report) FailedRuns() int {
	n := 0
	r.each(func(res Result) {
		if res.Failed() {
			n++
		}
	})
	return n
}

type Summary struct {
	Variant  string  `json:"variant"`
	Query    string  `json:"query"`
	Runs     int     `json:"runs"`
	Failed   int     `json:"failed"`
	Answered int     `json:"answered"`
	Mean     float64 `json:"mean"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
}

// Summary aggregates critic scores per (variant, query).
func (r *Report) Summary() []Summary {
	var out []Summary
	for _, v := range r.Variants {
		for _, q := range r.Queries {
			s := Summary{Variant: v, Query: q}
			total, scored := 0, 0
			for _, res := range r.Results[v][q] {
				s.Runs++
				if res.Failed() {
					s.Failed++
					continue
				}
				if res.Status == engine.StatusAnswered {
					s.Answered++
				}
				if scored == 0 || res.CriticScore < s.Min {
					s.Min = res.CriticScore
				}
				if scored == 0 || res.CriticScore > s.Max {
					s.Max = res.CriticScore
				}
				total += res.CriticScore
				scored++
			}
			if scored > 0 {
				s.Mean = float64(total) / float64(scored)
			}
			out = append(out, s)
		}
	}
	return out
}

// WriteCSV writes Rows with the trace encoded as JSON in the last column.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"variant", "query", "run", "status", "critic_score", "response", "error", "rounds", "total_tokens", "trace"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range r.Rows() {
		trace, err := json.Marshal(row.Trace)
		if err != nil {
			return fmt.Errorf("failed to encode trace: %w", err)
		}
		record := []string{
			row.Variant,
			row.Query,
			strconv.Itoa(row.Run),
			row.Status,
			strconv.Itoa(row.CriticScore),
			row.Response,
			row.Error,
			strconv.Itoa(row.Rounds),
			strconv.Itoa(row.TotalTokens),
			string(trace),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTraceCSV writes TraceRows.
func (r *Report) WriteTraceCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"variant", "query", "run", "step", "check_query", "sufficiency_score", "threshold", "round", "document_similarity_score"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range r.TraceRows() {
		scores := make([]string, len(row.DocumentScores))
		for i, s := range row.DocumentScores {
			scores[i] = strconv.FormatFloat(s, 'f', 4, 64)
		}
		record := []string{
			row.Variant,
			row.Query,
			strconv.Itoa(row.Run),
			strconv.Itoa(row.Step),
			row.CheckQuery,
			strconv.Itoa(row.Sufficiency),
			strconv.Itoa(row.Threshold),
			strconv.Itoa(row.Round),
			strings.Join(scores, ";"),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
