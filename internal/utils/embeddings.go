// Package utils holds small vector helpers used by retrieval filtering.
package utils

import (
	"errors"
	"math"
)

var (
	ErrEmptyVector       = errors.New("vectors cannot be empty")
	ErrDimensionMismatch = errors.New("vectors must have the same dimension")
)

// Dot returns the dot product of a and b.
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum), nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either has zero length.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (na * nb), nil
}
