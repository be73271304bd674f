package llm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedScore is returned when a model reply is not a bare integer in [0, 100].
var ErrMalformedScore = errors.New("malformed score")

// ParseScore reads a 0-100 score. Surrounding whitespace is allowed; anything
// else in the reply is an error.
func ParseScore(text string) (int, error) {
	s := strings.TrimSpace(text)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedScore, truncate(s, 40))
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("%w: %d out of range", ErrMalformedScore, n)
	}
	return n, nil
}

// ParseQueries splits a reformulation reply into at most limit queries.
// List markers and numbering at the start of each line are dropped.
func ParseQueries(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		q := strings.TrimLeft(strings.TrimSpace(line), "0123456789.)-*• \t")
		if q == "" {
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
