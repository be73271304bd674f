package trending

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New("secret").WithBaseURL(server.URL)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestQuery(t *testing.T) {
	c := New("")
	c.now = func() time.Time { return time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC) }

	assert.Equal(t, "language:go created:>2024-05-01 stars:>=50", c.Query(Options{Language: "go", Days: 30, MinStars: 50}))
	assert.Equal(t, "is:public", c.Query(Options{}))
}

func TestSearch(t *testing.T) {
	var got *http.Request
	c := fixedClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"total_count": 2,
			"incomplete_results": false,
			"items": [
				{"full_name": "acme/api", "description": "An API", "language": "Go", "stargazers_count": 120,
				 "html_url": "https://github.com/acme/api", "created_at": "2024-05-20T10:00:00Z"},
				{"full_name": "acme/cli", "language": "Go", "stargazers_count": 80,
				 "html_url": "https://github.com/acme/cli", "created_at": "2024-05-21T10:00:00Z"}
			]
		}`))
	})

	repos, err := c.Search(context.Background(), Options{Language: "go", Days: 30, Limit: 10})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/search/repositories", got.URL.Path)
	assert.Equal(t, "language:go created:>2024-05-01", got.URL.Query().Get("q"))
	assert.Equal(t, "stars", got.URL.Query().Get("sort"))
	assert.Equal(t, "desc", got.URL.Query().Get("order"))
	assert.Equal(t, "10", got.URL.Query().Get("per_page"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))

	require.Len(t, repos, 2)
	assert.Equal(t, Repo{
		FullName:    "acme/api",
		Description: "An API",
		Language:    "Go",
		Stars:       120,
		URL:         "https://github.com/acme/api",
		CreatedAt:   time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC),
	}, repos[0])
	assert.Empty(t, repos[1].Description)
}

func TestSearchError(t *testing.T) {
	c := fixedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message": "Validation Failed"}`))
	})

	_, err := c.Search(context.Background(), Options{Language: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search repositories")
}
