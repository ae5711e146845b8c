package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeArray returns a float64 array whose elements are their own flat
// indices.
func rangeArray(shape ...int) *Array {
	a := NewArray(Float64, shape)
	x := a.Data.([]float64)
	for i := range x { x[i] = float64(i) }
	return a
}

func TestSliceOverlap(t *testing.T) {
	tests := []struct {
		s        Slice
		lo, hi   int
		k0, k1   int
	}{
		{Slice{0, 10, 1}, 0, 10, 0, 10},
		{Slice{0, 10, 1}, 3, 6, 3, 6},
		{Slice{0, 10, 1}, 12, 16, 10, 10},
		{Slice{2, 5, 3}, 0, 4, 0, 1},   // 2
		{Slice{2, 5, 3}, 4, 9, 1, 3},   // 5 8
		{Slice{2, 5, 3}, 6, 8, 2, 2},   // none
		{Slice{2, 5, 3}, 9, 100, 3, 5}, // 11 14
		{Slice{5, 3, 0}, 0, 6, 0, 1},
	}

	for i := range tests {
		k0, k1 := tests[i].s.Overlap(tests[i].lo, tests[i].hi)
		if k0 != tests[i].k0 || k1 != tests[i].k1 {
			t.Errorf("%d) Expected %+v.Overlap(%d, %d) = (%d, %d), got "+
				"(%d, %d).", i, tests[i].s, tests[i].lo, tests[i].hi,
				tests[i].k0, tests[i].k1, k0, k1)
		}
	}
}

func TestExtract(t *testing.T) {
	a := rangeArray(3, 4, 5)
	tests := []struct {
		sel   []Slice
		shape []int
		data  []float64
	}{
		{[]Slice{{1, 1, 1}, {2, 1, 1}, {3, 1, 1}}, []int{1, 1, 1},
			[]float64{33}},
		{[]Slice{{0, 2, 2}, {0, 1, 1}, {0, 2, 4}}, []int{2, 1, 2},
			[]float64{0, 4, 40, 44}},
		{[]Slice{{2, 1, 1}, {1, 2, 1}, {1, 3, 1}}, []int{1, 2, 3},
			[]float64{46, 47, 48, 51, 52, 53}},
		{[]Slice{{0, 0, 1}, All(4), All(5)}, []int{0, 4, 5}, []float64{}},
	}

	for i := range tests {
		out, err := a.Extract(tests[i].sel)
		require.NoError(t, err, "%d)", i)
		assert.Equal(t, tests[i].shape, out.Shape, "%d)", i)
		assert.Equal(t, tests[i].data, out.Data, "%d)", i)
	}

	_, err := a.Extract([]Slice{All(3), All(4), {3, 2, 2}})
	assert.Error(t, err)
	_, err = a.Extract([]Slice{All(3), All(4)})
	assert.Error(t, err)
}

func TestCopyBlock(t *testing.T) {
	src := rangeArray(2, 3)
	dst := NewArray(Float64, []int{3, 4})

	require.NoError(t, CopyBlock(dst, []int{1, 2}, src, []int{0, 1}, []int{2, 2}))
	assert.Equal(t, []float64{
		0, 0, 0, 0,
		0, 0, 1, 2,
		0, 0, 4, 5,
	}, dst.Data)

	assert.Error(t, CopyBlock(dst, []int{2, 2}, src, []int{0, 1}, []int{2, 2}))
	assert.Error(t, CopyBlock(NewArray(Int32, []int{3, 4}), []int{0, 0},
		src, []int{0, 0}, []int{1, 1}))

	s0, d0 := NewArray(Int64, []int{}), NewArray(Int64, []int{})
	s0.Data.([]int64)[0] = 9
	require.NoError(t, CopyBlock(d0, []int{}, s0, []int{}, []int{}))
	assert.Equal(t, []int64{9}, d0.Data)
}

func TestConvert(t *testing.T) {
	a, err := FromData([]int{4}, []float64{1.4, 1.6, -2.5, 7})
	require.NoError(t, err)

	tests := []struct {
		dt   DType
		data interface{}
	}{
		{Float64, []float64{1.4, 1.6, -2.5, 7}},
		{Float32, []float32{1.4, 1.6, -2.5, 7}},
		{Int32, []int32{1, 2, -3, 7}},
		{Int64, []int64{1, 2, -3, 7}},
	}

	for i := range tests {
		out := a.Convert(tests[i].dt)
		if out.DType() != tests[i].dt {
			t.Errorf("%d) Expected dtype %s, got %s.", i, tests[i].dt, out.DType())
		}
		assert.Equal(t, tests[i].data, out.Data, "%d)", i)
	}
}

func TestArrayEqual(t *testing.T) {
	nan := math.NaN()
	a, _ := FromData([]int{2}, []float64{nan, 1})
	b, _ := FromData([]int{2}, []float64{nan, 1})
	c, _ := FromData([]int{1, 2}, []float64{nan, 1})
	d, _ := FromData([]int{2}, []float32{0, 1})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))

	_, err := FromData([]int{3}, []float64{1, 2})
	assert.Error(t, err)
	_, err = FromData([]int{2}, []uint8{1, 2})
	assert.Error(t, err)
}

func TestDTypeNames(t *testing.T) {
	for _, dt := range []DType{Float64, Float32, Int32, Int64} {
		out, err := ParseDType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, out)
	}
	_, err := ParseDType("u32")
	assert.Error(t, err)
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, 4, Int32.Size())
}
