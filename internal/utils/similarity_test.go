package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	require.InDelta(t, 1.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{1, 0}, []float32{0, 3})
	require.NoError(t, err)
	require.InDelta(t, 0.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{1, 1}, []float32{-2, -2})
	require.NoError(t, err)
	require.InDelta(t, -1.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{0, 0}, []float32{1, 2})
	require.NoError(t, err)
	require.Zero(t, s)
}

func TestCosineSimilarity_Errors(t *testing.T) {
	_, err := CosineSimilarity(nil, []float32{1})
	require.ErrorIs(t, err, ErrEmptyVector)

	_, err = CosineSimilarity([]float32{1, 2}, []float32{1})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}
