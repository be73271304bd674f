package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

type ProcessorConfig struct {
	ChunkSize    int // tokens
	ChunkOverlap int // tokens
	Separators   []string
}

// Processor cuts documents into token-bounded chunks.
type Processor struct {
	config    ProcessorConfig
	tokenizer types.Tokenizer
	splitter  textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig, tokenizer types.Tokenizer) (*Processor, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 400
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 20
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}
	if config.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d)", config.ChunkSize)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(config.ChunkSize),
		textsplitter.WithChunkOverlap(config.ChunkOverlap),
		textsplitter.WithSeparators(config.Separators),
		textsplitter.WithLenFunc(tokenizer.Count),
	)

	return &Processor{
		config:    config,
		tokenizer: tokenizer,
		splitter:  splitter,
	}, nil
}

// ChunkSize is the token budget of a single chunk.
func (p *Processor) ChunkSize() int {
	return p.config.ChunkSize
}

// Split returns the ordered chunk texts of text. No piece exceeds the
// token budget.
func (p *Processor) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	pieces, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	var out []string
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		out = append(out, p.fit(piece)...)
	}
	return out, nil
}

// fit bisects piece by runes until every part is within budget. A single
// rune is returned as is.
func (p *Processor) fit(piece string) []string {
	if p.tokenizer.Count(piece) <= p.config.ChunkSize || utf8.RuneCountInString(piece) <= 1 {
		return []string{piece}
	}
	runes := []rune(piece)
	mid := len(runes) / 2
	return append(p.fit(string(runes[:mid])), p.fit(string(runes[mid:]))...)
}

// Process chunks a single document.
func (p *Processor) Process(doc models.Document) ([]models.Chunk, error) {
	texts, err := p.Split(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.FilePath, err)
	}

	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, models.Chunk{
			ID:   uuid.NewString(),
			Text: text,
			Metadata: models.ChunkMetadata{
				FileName:   doc.FileName,
				FilePath:   doc.FilePath,
				ChunkIndex: i,
			},
		})
	}
	return chunks, nil
}
