// Package fakes provides deterministic test doubles for the completion,
// embedding and tokenizer services.
package fakes

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/xhad/repochat/internal/models"
)

// WordTokenizer counts whitespace-separated words.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// Embedder hashes lower-cased words into a bag-of-words vector of Dim
// dimensions. Texts sharing words have positive cosine similarity. Small
// Dim values make unrelated words collide; ranking tests use 1024 or more.
type Embedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Calls is the number of embedding requests made so far.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dim)
	for _, w := range Words(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.Dim)]++
	}
	return v
}

// Words splits text into lower-cased letter/digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Completer answers each request by calling Respond with the content of the
// last message. Every prompt is recorded in call order.
type Completer struct {
	Respond func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (c *Completer) Complete(_ context.Context, messages []models.Message) (models.Completion, error) {
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}

	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	text, err := c.Respond(prompt)
	if err != nil {
		return models.Completion{}, err
	}

	in, out := len(strings.Fields(prompt)), len(strings.Fields(text))
	return models.Completion{
		Text: text,
		Usage: models.Usage{
			Calls:            1,
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}

// Prompts returns a copy of every prompt received so far.
func (c *Completer) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}
