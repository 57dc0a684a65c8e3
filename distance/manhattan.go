package distance

import "math"

// Manhattan returns the L1 distance between two equal-length vectors.
func Manhattan(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &MismatchError{Expected: len(a), Actual: len(b)}
	}

	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum, nil
}
