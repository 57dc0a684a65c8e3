package distance

import "math"

// Euclidean returns the L2 distance between two equal-length vectors.
func Euclidean(a, b []float32) (float64, error) {
	sum, err := SquaredEuclidean(a, b)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(sum), nil
}
