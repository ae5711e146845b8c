/*package eq is a simple package for telling whether two values or arrays are
equal to one another. It is used to compare attribute values and array
contents across files.*/
package eq

import (
	"math"
)

// Generic returns true if two values are the same type and have the same
// values and false otherwise. Supported types are string, int64, float64,
// []byte, []int, []string, []int32, []int64, []float32, and []float64.
// Floating point NaNs are equal to one another.
func Generic(x, y interface{}) bool {
	switch xx := x.(type) {
	case string:
		yy, ok := y.(string)
		return ok && xx == yy
	case int64:
		yy, ok := y.(int64)
		return ok && xx == yy
	case float64:
		yy, ok := y.(float64)
		return ok && sameFloat(xx, yy)
	case []byte:
		yy, ok := y.([]byte)
		if !ok { return false }
		return Bytes(xx, yy)
	case []int:
		yy, ok := y.([]int)
		if !ok { return false }
		return Ints(xx, yy)
	case []string:
		yy, ok := y.([]string)
		if !ok { return false }
		return Strings(xx, yy)
	case []int32:
		yy, ok := y.([]int32)
		if !ok { return false }
		return Int32s(xx, yy)
	case []int64:
		yy, ok := y.([]int64)
		if !ok { return false }
		return Int64s(xx, yy)
	case []float32:
		yy, ok := y.([]float32)
		if !ok { return false }
		return Float32s(xx, yy)
	case []float64:
		yy, ok := y.([]float64)
		if !ok { return false }
		return Float64s(xx, yy)
	}
	return false
}

// Strings returns true if two []string arrays are the same and false otherwise.
func Strings(x, y []string) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Bytes returns true if two []byte arrays are the same and false otherwise.
func Bytes(x, y []byte) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Ints returns true if two []int arrays are the same and false otherwise.
func Ints(x, y []int) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Int32s returns true if two []int32 arrays are the same and false otherwise.
func Int32s(x, y []int32) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Int64s returns true if two []int64 arrays are the same and false otherwise.
func Int64s(x, y []int64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Float32s returns true if two []float32 arrays are the same and false
// otherwise.
func Float32s(x, y []float32) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if !sameFloat(float64(x[i]), float64(y[i])) { return false }
	}
	return true
}

// Float64s returns true if two []float64 arrays are the same and false
// otherwise.
func Float64s(x, y []float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if !sameFloat(x[i], y[i]) { return false }
	}
	return true
}

// Float32sEps returns true if two []float32 arrays are within eps of one
// another and false otherwise.
func Float32sEps(x, y []float32, eps float32) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] + eps < y[i] || x[i] - eps > y[i] {
			return false
		}
	}
	return true
}

// Float64sEps returns true if two []float64 arrays are within eps of one
// another and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] + eps < y[i] || x[i] - eps > y[i] {
			return false
		}
	}
	return true
}

func sameFloat(x, y float64) bool {
	return x == y || (math.IsNaN(x) && math.IsNaN(y))
}
