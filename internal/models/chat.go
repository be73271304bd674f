package models

import "time"

// Message is one turn sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage is the cost of one or more completion calls. It travels with the
// result that produced it so totals can be summed across workers.
type Usage struct {
	Calls            int           `json:"calls"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Latency          time.Duration `json:"latency"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Calls:            u.Calls + o.Calls,
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		Latency:          u.Latency + o.Latency,
	}
}

// Completion is the text of a completion together with what it cost.
type Completion struct {
	Text  string
	Usage Usage
}

// QueryContext is what the retriever found for one query.
// SimilarDocuments and Scores are parallel and ordered best first.
type QueryContext struct {
	Query            string    `json:"query"`
	Repo             string    `json:"repo"`
	SimilarDocuments []string  `json:"similar_documents"`
	Scores           []float64 `json:"scores"`
	Sources          []string  `json:"sources"`
}

// ChatLogEntry records one context-sufficiency check.
type ChatLogEntry struct {
	Inputs      QueryContext `json:"chain_inputs"`
	Sufficiency int          `json:"sufficiency_score"`
	Threshold   int          `json:"threshold"`
	Round       int          `json:"round"`
	Usage       Usage        `json:"usage"`
	Timestamp   time.Time    `json:"timestamp"`
}
