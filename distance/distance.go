// Package distance provides distance functions for comparing answer-vector
// embeddings. Unlike similarity scores, lower values mean closer matches.
package distance

import "fmt"

// Func computes the dissimilarity between two equal-length vectors.
// Implementations must be symmetric, return zero iff the vectors are
// identical, and fail with *MismatchError when the lengths differ.
type Func func(a, b []float32) (float64, error)

// MismatchError indicates that two vectors disagree in length. Pairwise
// comparison is undefined in that case; it is never silently truncated.
type MismatchError struct {
	Expected int
	Actual   int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("distance: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
