// Package trending finds recently created, well-starred GitHub repositories
// to use as evaluation targets.
package trending

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
)

const DefaultTimeout = 30 * time.Second

type Options struct {
	Language string // empty searches every public repository
	Days     int    // only repositories created in the last Days days
	MinStars int
	Limit    int // at most 100
}

// Repo is the subset of a search hit the CLI prints.
type Repo struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Stars       int       `json:"stars"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

type Client struct {
	gh  *gh.Client
	now func() time.Time
}

// New returns a client authenticated with token, or an anonymous one when
// token is empty.
func New(token string) *Client {
	c := gh.NewClient(&http.Client{Timeout: DefaultTimeout})
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return &Client{gh: c, now: time.Now}
}

// WithBaseURL points the client at a different API root, such as a GitHub
// Enterprise server.
func (c *Client) WithBaseURL(base string) (*Client, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c.gh.BaseURL = u
	return c, nil
}

// Query builds the search expression for opts.
func (c *Client) Query(opts Options) string {
	var parts []string
	if opts.Language != "" {
		parts = append(parts, "language:"+opts.Language)
	} else {
		parts = append(parts, "is:public")
	}
	if opts.Days > 0 {
		since := c.now().AddDate(0, 0, -opts.Days)
		parts = append(parts, "created:>"+since.Format("2006-01-02"))
	}
	if opts.MinStars > 0 {
		parts = append(parts, fmt.Sprintf("stars:>=%d", opts.MinStars))
	}
	return strings.Join(parts, " ")
}

// Search returns matching repositories, most starred first.
func (c *Client) Search(ctx context.Context, opts Options) ([]Repo, error) {
	if opts.Limit <= 0 {
		opts.Limit = 25
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	result, _, err := c.gh.Search.Repositories(ctx, c.Query(opts), &gh.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: opts.Limit},
	})
	if err != nil {
		var rle *gh.RateLimitError
		if errors.As(err, &rle) {
			return nil, fmt.Errorf("github rate limit exceeded, resets at %s: %w", rle.Rate.Reset.Format(time.Kitchen), err)
		}
		return nil, fmt.Errorf("search repositories: %w", err)
	}

	repos := make([]Repo, 0, len(result.Repositories))
	for _, r := range result.Repositories {
		repos = append(repos, Repo{
			FullName:    r.GetFullName(),
			Description: r.GetDescription(),
			Language:    r.GetLanguage(),
			Stars:       r.GetStargazersCount(),
			URL:         r.GetHTMLURL(),
			CreatedAt:   r.GetCreatedAt().Time,
		})
		if len(repos) == opts.Limit {
			break
		}
	}
	return repos, nil
}
