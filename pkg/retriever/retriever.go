// Package retriever looks up the chunks nearest to a query.
package retriever

import (
	"context"
	"fmt"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
)

type Retriever struct {
	embedder  types.Embedder
	index     types.Index
	namespace string
	repo      string
	k         int
}

// New returns a Retriever over one namespace. repo is the identifier
// reported in every QueryContext.
func New(embedder types.Embedder, index types.Index, namespace, repo string, k int) *Retriever {
	if k <= 0 {
		k = 5
	}
	return &Retriever{
		embedder:  embedder,
		index:     index,
		namespace: namespace,
		repo:      repo,
		k:         k,
	}
}

// Retrieve embeds query and returns the k nearest chunks, best first. Each
// document is rendered as "Source: <path>\n<text>".
func (r *Retriever) Retrieve(ctx context.Context, query string) (models.QueryContext, error) {
	qc := models.QueryContext{
		Query:            query,
		Repo:             r.repo,
		SimilarDocuments: []string{},
		Scores:           []float64{},
		Sources:          []string{},
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return qc, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Query(ctx, r.namespace, vector, r.k)
	if err != nil {
		return qc, fmt.Errorf("failed to query index: %w", err)
	}

	for _, m := range matches {
		qc.SimilarDocuments = append(qc.SimilarDocuments, fmt.Sprintf("Source: %s\n%s", m.Metadata.FilePath, m.Text))
		qc.Scores = append(qc.Scores, m.Score)
		qc.Sources = append(qc.Sources, m.Metadata.FilePath)
	}
	return qc, nil
}
