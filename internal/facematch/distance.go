package facematch

import "math"

// Distance computes the Euclidean distance between two embeddings.
// It returns +Inf when either side is missing or the dimensions differ, so callers that
// rank by distance push such pairs past every finite threshold without special-casing them.
// The +Inf value never leaves this package: ranking functions drop it before returning.
func Distance(a, b Embedding) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Norm returns the L2 norm of the embedding.
func Norm(e Embedding) float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of e. Zero vectors are returned as a zero copy.
func Normalize(e Embedding) Embedding {
	out := make(Embedding, len(e))
	n := Norm(e)
	if n == 0 {
		return out
	}
	for i, v := range e {
		out[i] = float32(float64(v) / n)
	}
	return out
}

// withinThreshold is the single acceptance rule shared by every ranking path.
func withinThreshold(d, threshold float64) bool {
	return !math.IsInf(d, 0) && !math.IsNaN(d) && d <= threshold
}
