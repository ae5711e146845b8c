package dataset

/* This file handles the generic Array object. Arrays are flat, row-major
slices of one of four primitive types together with a shape. Most of the code
here dispatches on that type and hands off to a generic helper. */

import (
	"fmt"
	"math"
)

// DType is the element type of a variable.
type DType int

const (
	Float64 DType = iota
	Float32
	Int32
	Int64
	numDTypes
)

var dtypeNames = [numDTypes]string{"f64", "f32", "i32", "i64"}

func (dt DType) String() string {
	if dt < 0 || dt >= numDTypes { return fmt.Sprintf("dtype(%d)", int(dt)) }
	return dtypeNames[dt]
}

// Size returns the number of bytes in one element.
func (dt DType) Size() int {
	switch dt {
	case Float64, Int64: return 8
	case Float32, Int32: return 4
	}
	panic(fmt.Sprintf("Internal error: unrecognized dtype %d.", int(dt)))
}

// ParseDType is the inverse of DType.String.
func ParseDType(s string) (DType, error) {
	for i := range dtypeNames {
		if dtypeNames[i] == s { return DType(i), nil }
	}
	return 0, fmt.Errorf("'%s' is not a valid type. Only 'f64', 'f32', "+
		"'i32', and 'i64' are valid.", s)
}

// Slice selects Count elements along one axis, starting at Start and taking
// every Stride-th element. A zero Stride is treated as 1.
type Slice struct {
	Start, Count, Stride int
}

// All selects every element of an axis of length n.
func All(n int) Slice { return Slice{0, n, 1} }

// Last returns the index of the last selected element.
func (s Slice) Last() int { return s.Start + (s.Count-1)*s.step() }

func (s Slice) step() int {
	if s.Stride <= 0 { return 1 }
	return s.Stride
}

// Overlap returns the range [k0, k1) of selected elements whose indices lie
// in [lo, hi). k0 == k1 if there are none.
func (s Slice) Overlap(lo, hi int) (k0, k1 int) {
	st := s.step()
	k0, k1 = ceilDiv(lo-s.Start, st), ceilDiv(hi-s.Start, st)
	if k0 < 0 { k0 = 0 }
	if k0 > s.Count { k0 = s.Count }
	if k1 > s.Count { k1 = s.Count }
	if k1 < k0 { k1 = k0 }
	return k0, k1
}

// Index returns the index of the k-th selected element.
func (s Slice) Index(k int) int { return s.Start + k*s.step() }

// ceilDiv divides a by b > 0, rounding towards positive infinity.
func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a > 0 { q++ }
	return q
}

// Array is an n-dimensional, row-major array. Data is one of []float64,
// []float32, []int32, or []int64.
type Array struct {
	Shape []int
	Data  interface{}
}

// NewArray allocates a zeroed array.
func NewArray(dt DType, shape []int) *Array {
	n := Volume(shape)
	a := &Array{Shape: append([]int{}, shape...)}
	switch dt {
	case Float64: a.Data = make([]float64, n)
	case Float32: a.Data = make([]float32, n)
	case Int32: a.Data = make([]int32, n)
	case Int64: a.Data = make([]int64, n)
	default:
		panic(fmt.Sprintf("Internal error: unrecognized dtype %d.", int(dt)))
	}
	return a
}

// FromData wraps an existing slice. It returns an error if the slice type is
// unsupported or its length disagrees with shape.
func FromData(shape []int, data interface{}) (*Array, error) {
	a := &Array{Shape: append([]int{}, shape...), Data: data}
	if _, err := dtypeOf(data); err != nil { return nil, err }
	if a.Len() != Volume(shape) {
		return nil, fmt.Errorf("An array with shape %v needs %d elements, "+
			"but %d were given.", shape, Volume(shape), a.Len())
	}
	return a, nil
}

// Volume is the product of the elements of shape. The volume of a
// zero-dimensional shape is 1.
func Volume(shape []int) int {
	n := 1
	for _, s := range shape { n *= s }
	return n
}

func dtypeOf(data interface{}) (DType, error) {
	switch data.(type) {
	case []float64: return Float64, nil
	case []float32: return Float32, nil
	case []int32: return Int32, nil
	case []int64: return Int64, nil
	}
	return 0, fmt.Errorf("Arrays can only hold []float64, []float32, "+
		"[]int32, or []int64, not %T.", data)
}

// DType returns the element type of the array.
func (a *Array) DType() DType {
	dt, err := dtypeOf(a.Data)
	if err != nil { panic("Internal error: " + err.Error()) }
	return dt
}

// Len returns the number of elements in the array.
func (a *Array) Len() int {
	switch x := a.Data.(type) {
	case []float64: return len(x)
	case []float32: return len(x)
	case []int32: return len(x)
	case []int64: return len(x)
	}
	return 0
}

// Bytes returns the size of the array's data in bytes.
func (a *Array) Bytes() int { return a.Len() * a.DType().Size() }

// Float64s returns the data as []float64, converting if needed. The returned
// slice aliases the array when it is already Float64.
func (a *Array) Float64s() []float64 {
	switch x := a.Data.(type) {
	case []float64: return x
	case []float32: return convert[float32, float64](x)
	case []int32: return convert[int32, float64](x)
	case []int64: return convert[int64, float64](x)
	}
	return nil
}

// Convert returns a copy of the array with element type dt. Integer
// conversions round to nearest.
func (a *Array) Convert(dt DType) *Array {
	f := a.Float64s()
	out := &Array{Shape: append([]int{}, a.Shape...)}
	switch dt {
	case Float64: out.Data = append([]float64{}, f...)
	case Float32: out.Data = convert[float64, float32](f)
	case Int32: out.Data = roundTo[int32](f)
	case Int64: out.Data = roundTo[int64](f)
	default:
		panic(fmt.Sprintf("Internal error: unrecognized dtype %d.", int(dt)))
	}
	return out
}

// Scalar returns the first element of the array as a float64.
func (a *Array) Scalar() (float64, error) {
	if a.Len() == 0 { return 0, fmt.Errorf("The array is empty.") }
	switch x := a.Data.(type) {
	case []float64: return x[0], nil
	case []float32: return float64(x[0]), nil
	case []int32: return float64(x[0]), nil
	case []int64: return float64(x[0]), nil
	}
	return 0, fmt.Errorf("Unrecognized array type %T.", a.Data)
}

// Equal returns true if the two arrays have the same shape, type and values.
// NaNs compare equal to one another so that bit-identical arrays are equal.
func (a *Array) Equal(b *Array) bool {
	if len(a.Shape) != len(b.Shape) { return false }
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] { return false }
	}
	switch x := a.Data.(type) {
	case []float64:
		y, ok := b.Data.([]float64)
		return ok && floatsEqual(x, y)
	case []float32:
		y, ok := b.Data.([]float32)
		return ok && floatsEqual(x, y)
	case []int32:
		y, ok := b.Data.([]int32)
		return ok && intsEqual(x, y)
	case []int64:
		y, ok := b.Data.([]int64)
		return ok && intsEqual(x, y)
	}
	return false
}

// Extract returns a new array holding the elements of a selected by sel,
// one Slice per axis.
func (a *Array) Extract(sel []Slice) (*Array, error) {
	if err := checkSelection(a.Shape, sel); err != nil { return nil, err }
	shape := make([]int, len(sel))
	for i := range sel { shape[i] = sel[i].Count }

	out := &Array{Shape: shape}
	switch x := a.Data.(type) {
	case []float64: out.Data = extract(x, a.Shape, sel)
	case []float32: out.Data = extract(x, a.Shape, sel)
	case []int32: out.Data = extract(x, a.Shape, sel)
	case []int64: out.Data = extract(x, a.Shape, sel)
	default:
		return nil, fmt.Errorf("Unrecognized array type %T.", a.Data)
	}
	return out, nil
}

// CopyBlock copies the block of src starting at srcStart with extents count
// into dst at dstStart. Both arrays must have the same type and rank.
func CopyBlock(dst *Array, dstStart []int, src *Array, srcStart, count []int) error {
	if len(dst.Shape) != len(src.Shape) || len(count) != len(src.Shape) ||
		len(dstStart) != len(dst.Shape) || len(srcStart) != len(src.Shape) {
		return fmt.Errorf("Cannot copy a rank-%d block between arrays of "+
			"rank %d and %d.", len(count), len(src.Shape), len(dst.Shape))
	}
	for i := range count {
		if srcStart[i] < 0 || srcStart[i]+count[i] > src.Shape[i] ||
			dstStart[i] < 0 || dstStart[i]+count[i] > dst.Shape[i] {
			return fmt.Errorf("Block of size %v at %v -> %v does not fit "+
				"in shapes %v -> %v.", count, srcStart, dstStart,
				src.Shape, dst.Shape)
		}
	}
	if Volume(count) == 0 { return nil }

	switch x := src.Data.(type) {
	case []float64:
		y, ok := dst.Data.([]float64)
		if !ok { break }
		copyBlock(y, dst.Shape, dstStart, x, src.Shape, srcStart, count)
		return nil
	case []float32:
		y, ok := dst.Data.([]float32)
		if !ok { break }
		copyBlock(y, dst.Shape, dstStart, x, src.Shape, srcStart, count)
		return nil
	case []int32:
		y, ok := dst.Data.([]int32)
		if !ok { break }
		copyBlock(y, dst.Shape, dstStart, x, src.Shape, srcStart, count)
		return nil
	case []int64:
		y, ok := dst.Data.([]int64)
		if !ok { break }
		copyBlock(y, dst.Shape, dstStart, x, src.Shape, srcStart, count)
		return nil
	}
	return fmt.Errorf("Cannot copy %T data into a %T array.", src.Data, dst.Data)
}

func checkSelection(shape []int, sel []Slice) error {
	if len(sel) != len(shape) {
		return fmt.Errorf("A rank-%d selection was applied to an array of "+
			"shape %v.", len(sel), shape)
	}
	for i, s := range sel {
		if s.Count < 0 || s.Start < 0 {
			return fmt.Errorf("Axis %d selection %+v is negative.", i, s)
		}
		if s.Count > 0 && s.Last() >= shape[i] {
			return fmt.Errorf("Axis %d selection %+v runs past the axis "+
				"length, %d.", i, s, shape[i])
		}
	}
	return nil
}

// strides returns the row-major element strides of shape.
func strides(shape []int) []int {
	st := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = n
		n *= shape[i]
	}
	return st
}

// next advances a row-major odometer over extents, ignoring the last axis.
// It returns false once every index has been visited.
func next(idx, extents []int) bool {
	for i := len(extents) - 2; i >= 0; i-- {
		idx[i]++
		if idx[i] < extents[i] { return true }
		idx[i] = 0
	}
	return false
}

func copyBlock[T any](
	dst []T, dstShape, dstStart []int,
	src []T, srcShape, srcStart, count []int,
) {
	rank := len(count)
	if rank == 0 {
		dst[0] = src[0]
		return
	}
	ds, ss := strides(dstShape), strides(srcShape)
	idx := make([]int, rank)
	row := count[rank-1]
	for {
		di, si := 0, 0
		for i := 0; i < rank; i++ {
			di += (dstStart[i] + idx[i]) * ds[i]
			si += (srcStart[i] + idx[i]) * ss[i]
		}
		copy(dst[di:di+row], src[si:si+row])
		if !next(idx, count) { return }
	}
}

func extract[T any](src []T, shape []int, sel []Slice) []T {
	counts := make([]int, len(sel))
	for i := range sel { counts[i] = sel[i].Count }
	out := make([]T, Volume(counts))
	if len(out) == 0 { return out }
	rank := len(sel)
	if rank == 0 {
		out[0] = src[0]
		return out
	}

	st := strides(shape)
	idx := make([]int, rank)
	last := sel[rank-1]
	n := 0
	for {
		base := 0
		for i := 0; i < rank-1; i++ {
			base += (sel[i].Start + idx[i]*sel[i].step()) * st[i]
		}
		for k := 0; k < last.Count; k++ {
			out[n] = src[base+last.Start+k*last.step()]
			n++
		}
		if !next(idx, counts) { return out }
	}
}

type number interface {
	~float64 | ~float32 | ~int32 | ~int64
}

func convert[S, D number](x []S) []D {
	out := make([]D, len(x))
	for i := range x { out[i] = D(x[i]) }
	return out
}

func roundTo[D ~int32 | ~int64](x []float64) []D {
	out := make([]D, len(x))
	for i := range x { out[i] = D(math.Round(x[i])) }
	return out
}

func floatsEqual[T ~float64 | ~float32](x, y []T) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] && !(x[i] != x[i] && y[i] != y[i]) { return false }
	}
	return true
}

func intsEqual[T ~int32 | ~int64](x, y []T) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}
