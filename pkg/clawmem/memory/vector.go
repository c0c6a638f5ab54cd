package memory

import (
	"encoding/json"
	"fmt"
	"math"
)

// encodeEmbedding serializes a vector for the chunks and cache tables.
func encodeEmbedding(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", nil
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("marshal embedding: %w", err)
	}
	return string(b), nil
}

// decodeEmbedding parses a stored vector. Malformed data yields a ParseError.
func decodeEmbedding(raw string) ([]float32, error) {
	if raw == "" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, &ParseError{What: "embedding", Err: err}
	}
	return vec, nil
}

// l2Distance is the Euclidean distance used by vec0 by default. Mismatched
// dimensions yield +Inf.
func l2Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// distanceToScore maps a vector distance onto (0, 1].
func distanceToScore(d float64) float64 {
	if math.IsInf(d, 1) || math.IsNaN(d) {
		return 0
	}
	if d < 0 {
		d = 0
	}
	return 1.0 / (1.0 + d)
}

// rankToScore maps a non-negative lexical rank onto (0, 1].
func rankToScore(rank float64) float64 {
	if math.IsNaN(rank) || rank < 0 {
		rank = 0
	}
	return 1.0 / (1.0 + rank)
}
