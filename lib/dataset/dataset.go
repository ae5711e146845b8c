/*package dataset is an abstraction over the structured-dataset files that
simulation processes write: named variables with named dimensions, a type and
a shape, plus attributes on the file and on each variable.

Adding support for a new file format requires writing a File (reading), a
Writer (writing), and teaching DiskStore which extension selects it. Nothing
outside this package depends on a concrete format.
*/
package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// Store opens, creates, and manages dataset files. Paths are slash-separated
// and interpreted by the Store.
type Store interface {
	// Open opens an existing dataset for reading.
	Open(path string) (File, error)
	// Create creates a new dataset, truncating anything at path.
	Create(path string) (Writer, error)
	// List returns the entries of a directory sorted by name.
	List(dir string) ([]Entry, error)
	// Exists reports whether anything exists at path.
	Exists(path string) (bool, error)
	// Rename atomically replaces to with from.
	Rename(from, to string) error
	// Remove deletes the file at path.
	Remove(path string) error
}

// Entry is one item in a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// File is a dataset opened for reading. Only metadata is loaded by Open;
// variable data is read on demand with ReadSlice.
type File interface {
	Path() string
	// Variables returns the names of all variables in the file, sorted.
	Variables() []string
	// Info returns the metadata of a variable.
	Info(name string) (VarInfo, bool)
	// Attributes returns the file's global attributes.
	Attributes() Attributes
	// ReadSlice reads the selected part of a variable, one Slice per axis.
	// The returned array has the variable's declared DType.
	ReadSlice(name string, sel []Slice) (*Array, error)
	Close() error
}

// Writer builds a new dataset. Every variable must be defined before any of
// its data is written, and nothing is visible to readers until Close
// returns successfully.
type Writer interface {
	SetAttribute(name string, value interface{}) error
	Define(info VarInfo) error
	// WriteSlice writes data into the named variable with its first element
	// at start.
	WriteSlice(name string, start []int, data *Array) error
	Close() error
}

// Buffered is implemented by Writers that hold each variable in memory
// until it is complete.
type Buffered interface {
	BuffersVariables() bool
}

// VarInfo describes one variable.
type VarInfo struct {
	Name  string
	DType DType
	// Dims gives the name of each axis, e.g. ("t", "x", "y", "z").
	Dims  []string
	Shape []int
	Attrs Attributes
}

// Rank returns the number of axes of the variable.
func (info VarInfo) Rank() int { return len(info.Shape) }

// Axis returns the index of the named dimension or -1.
func (info VarInfo) Axis(dim string) int {
	for i := range info.Dims {
		if info.Dims[i] == dim { return i }
	}
	return -1
}

// Copy returns a deep copy of info.
func (info VarInfo) Copy() VarInfo {
	out := info
	out.Dims = append([]string{}, info.Dims...)
	out.Shape = append([]int{}, info.Shape...)
	out.Attrs = info.Attrs.Copy()
	return out
}

// Check returns an error if Dims and Shape disagree.
func (info VarInfo) Check() error {
	if info.Name == "" {
		return fmt.Errorf("Variables must have a name.")
	} else if len(info.Dims) != len(info.Shape) {
		return fmt.Errorf("Variable '%s' has %d dimension names, %v, but "+
			"a rank-%d shape, %v.", info.Name, len(info.Dims), info.Dims,
			len(info.Shape), info.Shape)
	} else if info.DType < 0 || info.DType >= numDTypes {
		return fmt.Errorf("Variable '%s' has an unrecognized dtype, %d.",
			info.Name, int(info.DType))
	}
	for i, s := range info.Shape {
		if s < 0 {
			return fmt.Errorf("Variable '%s' has a negative extent, %d, "+
				"along '%s'.", info.Name, s, info.Dims[i])
		}
	}
	return nil
}

// DefaultDims gives the dimension names of a variable that arrives without
// any, based only on its rank.
func DefaultDims(rank int) []string {
	switch rank {
	case 0: return []string{}
	case 1: return []string{"t"}
	case 2: return []string{"x", "y"}
	case 3: return []string{"x", "y", "z"}
	case 4: return []string{"t", "x", "y", "z"}
	}
	dims := make([]string, rank)
	for i := range dims { dims[i] = fmt.Sprintf("dim%d", i) }
	return dims
}

// DimsFromBoutType maps a "bout_type" attribute to dimension names. It
// returns false for unrecognized types.
func DimsFromBoutType(boutType string) ([]string, bool) {
	switch boutType {
	case "scalar": return []string{}, true
	case "scalar_t": return []string{"t"}, true
	case "Field2D": return []string{"x", "y"}, true
	case "Field2D_t": return []string{"t", "x", "y"}, true
	case "Field3D": return []string{"x", "y", "z"}, true
	case "Field3D_t": return []string{"t", "x", "y", "z"}, true
	case "FieldPerp": return []string{"x", "z"}, true
	case "FieldPerp_t": return []string{"t", "x", "z"}, true
	}
	return nil, false
}

// Attributes maps attribute names to values. Values are string, int64,
// float64, []int64, or []float64; Normalize converts other Go numeric types.
type Attributes map[string]interface{}

// Keys returns the attribute names, sorted.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a { keys = append(keys, k) }
	sort.Strings(keys)
	return keys
}

// Copy returns a shallow copy of a. Slice values are copied.
func (a Attributes) Copy() Attributes {
	out := Attributes{}
	for k, v := range a {
		switch x := v.(type) {
		case []int64: out[k] = append([]int64{}, x...)
		case []float64: out[k] = append([]float64{}, x...)
		default: out[k] = v
		}
	}
	return out
}

// Int returns an integer-valued attribute.
func (a Attributes) Int(name string) (int64, bool) {
	switch x := a[name].(type) {
	case int64: return x, true
	case float64:
		if x == float64(int64(x)) { return int64(x), true }
	case []int64:
		if len(x) == 1 { return x[0], true }
	}
	return 0, false
}

// String returns a string-valued attribute.
func (a Attributes) String(name string) (string, bool) {
	s, ok := a[name].(string)
	return s, ok
}

// Normalize converts an attribute value to one of the canonical types.
func Normalize(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string, int64, float64: return x, nil
	case []int64: return append([]int64{}, x...), nil
	case []float64: return append([]float64{}, x...), nil
	case bool:
		if x { return int64(1), nil }
		return int64(0), nil
	case int: return int64(x), nil
	case int8: return int64(x), nil
	case int16: return int64(x), nil
	case int32: return int64(x), nil
	case uint8: return int64(x), nil
	case uint16: return int64(x), nil
	case uint32: return int64(x), nil
	case uint64: return int64(x), nil
	case float32: return float64(x), nil
	case []int32: return convert[int32, int64](x), nil
	case []float32: return convert[float32, float64](x), nil
	case []int:
		out := make([]int64, len(x))
		for i := range x { out[i] = int64(x[i]) }
		return out, nil
	case []string: return strings.Join(x, ","), nil
	}
	return nil, fmt.Errorf("Attributes cannot hold values of type %T.", v)
}

// findFold looks a variable up case-insensitively, returning the name as
// stored.
func findFold(names []string, name string) (string, bool) {
	for _, n := range names {
		if strings.EqualFold(n, name) { return n, true }
	}
	return "", false
}

// Lookup returns the metadata of a variable, falling back to a
// case-insensitive match. The returned name is the one stored in the file.
func Lookup(f File, name string) (VarInfo, bool) {
	if info, ok := f.Info(name); ok { return info, true }
	stored, ok := findFold(f.Variables(), name)
	if !ok { return VarInfo{}, false }
	return f.Info(stored)
}

// ReadScalar reads a zero- or one-element variable as a float64.
func ReadScalar(f File, name string) (float64, bool, error) {
	info, ok := f.Info(name)
	if !ok { return 0, false, nil }
	sel := make([]Slice, info.Rank())
	for i := range sel { sel[i] = Slice{0, 1, 1} }
	arr, err := f.ReadSlice(name, sel)
	if err != nil { return 0, true, err }
	v, err := arr.Scalar()
	return v, true, err
}

// ReadAll reads an entire variable.
func ReadAll(f File, name string) (*Array, error) {
	info, ok := f.Info(name)
	if !ok {
		return nil, fmt.Errorf("The variable '%s' is not in %s.", name, f.Path())
	}
	sel := make([]Slice, info.Rank())
	for i := range sel { sel[i] = All(info.Shape[i]) }
	return f.ReadSlice(name, sel)
}

// checkWrite returns an error if data cannot be written into info at start.
func checkWrite(info VarInfo, start []int, data *Array) error {
	if len(start) != info.Rank() || len(data.Shape) != info.Rank() {
		return fmt.Errorf("A rank-%d block was written to the rank-%d "+
			"variable '%s'.", len(data.Shape), info.Rank(), info.Name)
	}
	if data.DType() != info.DType {
		return fmt.Errorf("A %s block was written to the %s variable '%s'.",
			data.DType(), info.DType, info.Name)
	}
	for i := range start {
		if start[i] < 0 || start[i]+data.Shape[i] > info.Shape[i] {
			return fmt.Errorf("A block of shape %v at %v does not fit in "+
				"variable '%s' with shape %v.", data.Shape, start, info.Name,
				info.Shape)
		}
	}
	return nil
}
