package utils

import "math"

// normEpsilon bounds the divisor so zero vectors stay finite.
const normEpsilon = 1e-12

// L2Norm returns the Euclidean norm of x, accumulated in float64.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// NormalizeL2 scales x in place to unit L2 norm. A zero vector stays zero.
func NormalizeL2(x []float32) {
	norm := math.Max(L2Norm(x), normEpsilon)
	inv := float32(1.0 / norm)
	for i := range x {
		x[i] *= inv
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when the
// lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
