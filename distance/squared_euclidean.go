package distance

// SquaredEuclidean returns the sum of squared pairwise differences between
// two equal-length vectors. This is the metric used for answer vectors: each
// component is a choice index, so with c choices per question the per-question
// contribution is bounded by (c-1)^2.
func SquaredEuclidean(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &MismatchError{Expected: len(a), Actual: len(b)}
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum, nil
}

// MaxSquaredEuclidean returns the largest value SquaredEuclidean can produce
// for a questionnaire with the given number of questions and choices per
// question. Callers bucketing results compute thresholds relative to this.
func MaxSquaredEuclidean(questions, choices int) float64 {
	if questions <= 0 || choices <= 1 {
		return 0
	}
	span := float64(choices - 1)
	return span * span * float64(questions)
}
