package fakes_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/repochat/internal/fakes"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedderRanksSharedWordsFirst(t *testing.T) {
	emb := &fakes.Embedder{Dim: 1024}
	vectors, err := emb.EmbedDocuments(context.Background(), []string{
		"How does authentication work?",
		"\"\"\"Handles login\"\"\" How authentication works: def login(user, password)",
		"RED GREEN BLUE palette constants",
	})
	require.NoError(t, err)

	auth := cosine(vectors[0], vectors[1])
	colors := cosine(vectors[0], vectors[2])
	assert.Greater(t, auth, colors)
	assert.Zero(t, colors)
	assert.Equal(t, 1, emb.Calls())
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"def", "login", "user", "password"}, fakes.Words("def login(User, password):"))
}

func TestWordTokenizer(t *testing.T) {
	assert.Equal(t, 3, fakes.WordTokenizer{}.Count("  one two\nthree "))
}
