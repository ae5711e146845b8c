package stitch

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
)

func TestStitch(t *testing.T) {
	tests := []struct {
		times   [][]float64
		out     []float64
		sources []Source
	}{
		{[][]float64{{0, 1, 2, 3}}, []float64{0, 1, 2, 3},
			[]Source{{0, 0}, {0, 1}, {0, 2}, {0, 3}}},
		{[][]float64{{0, 1, 2, 3}, {2, 3, 4, 5}}, []float64{0, 1, 2, 3, 4, 5},
			[]Source{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {1, 2}, {1, 3}}},
		{[][]float64{{0, 1}, {3, 4}}, []float64{0, 1, 3, 4},
			[]Source{{0, 0}, {0, 1}, {1, 0}, {1, 1}}},
		{[][]float64{{0, 1, 2}, {}, {2, 3}}, []float64{0, 1, 2, 3},
			[]Source{{0, 0}, {0, 1}, {2, 0}, {2, 1}}},
		{[][]float64{{0, 1, 2, 3}, {2, 3}, {1, 5}}, []float64{0, 1, 5},
			[]Source{{0, 0}, {2, 0}, {2, 1}}},
		{[][]float64{{}, {}}, []float64{}, []Source{}},
	}

	for i := range tests {
		a, err := Stitch(tests[i].times)
		require.NoError(t, err, "%d)", i)
		if len(tests[i].out) == 0 {
			assert.Equal(t, 0, a.Len(), "%d)", i)
			continue
		}
		assert.Equal(t, tests[i].out, a.Times, "%d)", i)
		assert.Equal(t, tests[i].sources, a.Sources, "%d)", i)
	}
}

func TestStitchNonMonotonic(t *testing.T) {
	tests := [][][]float64{
		{{0, 2, 1}},
		{{0, 1, 1}},
		{{0, 1}, {2, math.NaN()}},
		{{0, math.NaN()}},
	}
	for i := range tests {
		_, err := Stitch(tests[i])
		if !errors.Is(err, g_error.ErrNonMonotonicTime) {
			t.Errorf("%d) Expected a NonMonotonicTime error, got %v.", i, err)
		}
	}
}

func TestRuns(t *testing.T) {
	a, err := Stitch([][]float64{{0, 1, 2, 3}, {2, 3, 4, 5, 6, 7}})
	require.NoError(t, err)

	assert.Equal(t, []Run{
		{0, 0, dataset.Slice{Start: 0, Count: 2, Stride: 1}},
		{1, 2, dataset.Slice{Start: 0, Count: 6, Stride: 1}},
	}, a.Runs())

	sel := a.Select([]int{0, 1, 3, 5, 7})
	assert.Equal(t, []float64{0, 1, 3, 5, 7}, sel.Times)
	assert.Equal(t, []Run{
		{0, 0, dataset.Slice{Start: 0, Count: 2, Stride: 1}},
		{1, 2, dataset.Slice{Start: 1, Count: 3, Stride: 2}},
	}, sel.Runs())
	assert.Equal(t, []int{0, 1}, sel.Generations())

	sel = a.Select([]int{2, 3, 4, 7})
	assert.Equal(t, []Run{
		{1, 0, dataset.Slice{Start: 0, Count: 3, Stride: 1}},
		{1, 3, dataset.Slice{Start: 5, Count: 1, Stride: 1}},
	}, sel.Runs())
	assert.Equal(t, []int{1}, sel.Generations())
}

func TestRunChunk(t *testing.T) {
	r := Run{1, 4, dataset.Slice{Start: 2, Count: 5, Stride: 3}}
	assert.Equal(t, []Run{r}, r.Chunk(0))
	assert.Equal(t, []Run{r}, r.Chunk(5))
	assert.Equal(t, []Run{
		{1, 4, dataset.Slice{Start: 2, Count: 2, Stride: 3}},
		{1, 6, dataset.Slice{Start: 8, Count: 2, Stride: 3}},
		{1, 8, dataset.Slice{Start: 14, Count: 1, Stride: 3}},
	}, r.Chunk(2))
}
