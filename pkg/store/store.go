package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/xhad/repochat/internal/models"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimension. Nothing from the offending call is written.
var ErrDimensionMismatch = errors.New("dimension mismatch")

func checkDimensions(dim int, records []models.Record) error {
	for _, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %s has %d dimensions, index has %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is a zero vector or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sanitizeUTF8 drops invalid byte sequences and NUL bytes, neither of which
// PostgreSQL accepts in text columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
