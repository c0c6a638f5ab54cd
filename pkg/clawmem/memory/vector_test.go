package memory

import (
	"errors"
	"math"
	"testing"
)

func TestDecodeEmbedding_Malformed(t *testing.T) {
	t.Parallel()

	_, err := decodeEmbedding("[0.1, oops]")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ParseError", err)
	}

	vec, err := decodeEmbedding("")
	if err != nil || vec != nil {
		t.Errorf("empty = %v, %v", vec, err)
	}
}

func TestL2Distance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 0},
		{"3-4-5", []float32{0, 0}, []float32{3, 4}, 5},
		{"dim mismatch", []float32{1}, []float32{1, 2}, math.Inf(1)},
		{"empty", nil, nil, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := l2Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("l2Distance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreMappings(t *testing.T) {
	t.Parallel()

	if got := distanceToScore(0); got != 1 {
		t.Errorf("distanceToScore(0) = %v", got)
	}
	if got := distanceToScore(1); got != 0.5 {
		t.Errorf("distanceToScore(1) = %v", got)
	}
	if got := distanceToScore(math.Inf(1)); got != 0 {
		t.Errorf("distanceToScore(+Inf) = %v", got)
	}
	if got := rankToScore(-3); got != 1 {
		t.Errorf("rankToScore(-3) = %v", got)
	}
	if got := rankToScore(math.NaN()); got != 1 {
		t.Errorf("rankToScore(NaN) = %v", got)
	}
	if a, b := rankToScore(0.5), rankToScore(2); a <= b {
		t.Errorf("rankToScore not decreasing: %v <= %v", a, b)
	}
}
