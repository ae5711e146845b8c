package dataset

/* This file adapts HDF5 files (and netCDF-4 files, which are HDF5 files
underneath) to the File and Writer interfaces. Variables are the datasets in
the root group. The HDF5 library writes each dataset in a single call, so
Hdf5Writer buffers one variable at a time: variables must be written one
after another rather than interleaved.

The library grows an object header in place while its attributes are stored
compactly, which overwrites whatever was allocated after it. Once an object
moves to dense attribute storage its header stops growing, so every dataset
is given at least hdf5DenseAttrs attributes before the next one is created.
The padding attributes are dropped on read. */

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/scigolib/hdf5"
)

const (
	// hdf5GlobalAttrs is a hidden dataset that carries the global
	// attributes of files written by Hdf5Writer.
	hdf5GlobalAttrs = "_attributes"
	// hdf5DimsAttr records a variable's dimension names.
	hdf5DimsAttr = "_dimensions"
	hdf5NoDims   = "scalar"
	// hdf5PadAttr prefixes the filler attributes that force dense storage.
	hdf5PadAttr = "_pad"
	// hdf5DenseAttrs is one more than the library's compact attribute limit.
	hdf5DenseAttrs = hdf5.MaxCompactAttributes + 1

	// The library's root group has one symbol table node and a fixed-size
	// name heap. Each name takes its length plus a terminator.
	hdf5MaxDatasets  = 32
	hdf5MaxNameBytes = 256
)

var (
	hdf5ShapeRe = regexp.MustCompile(`(\d+)D array \[([0-9 x]*)\]`)
	hdf5TypeRe  = regexp.MustCompile(`(integer|float) \(size=(\d+) bytes\)`)
	hdf5PadRe   = regexp.MustCompile(`^` + hdf5PadAttr + `\d+$`)
)

// Hdf5File reads variables from an HDF5 file.
type Hdf5File struct {
	fname string
	f     *hdf5.File
	attrs Attributes
	names []string
	sets  map[string]*hdf5.Dataset
	infos map[string]VarInfo
}

// Hdf5Writer writes an HDF5 file.
type Hdf5Writer struct {
	fname   string
	fw      *hdf5.FileWriter
	attrs   Attributes
	order   []string
	infos   map[string]VarInfo
	done    map[string]bool
	names   int
	current string
	buf     *Array
	closed  bool
}

// Type assertions
var (
	_ File     = &Hdf5File{}
	_ Writer   = &Hdf5Writer{}
	_ Buffered = &Hdf5Writer{}
)

// OpenHdf5 opens an HDF5 file and reads the metadata of every dataset in its
// root group.
func OpenHdf5(fname string) (*Hdf5File, error) {
	f, err := hdf5.Open(fname)
	if err != nil { return nil, err }

	hf := &Hdf5File{
		fname: fname, f: f, attrs: Attributes{},
		sets: map[string]*hdf5.Dataset{}, infos: map[string]VarInfo{},
	}
	if err := hf.readMetadata(); err != nil {
		f.Close()
		return nil, err
	}
	return hf, nil
}

func (hf *Hdf5File) readMetadata() error {
	// Files written by the traditional format have no root attributes.
	if attrs, err := hf.f.Root().Attributes(); err == nil {
		for _, a := range attrs {
			v, err := a.ReadValue()
			if err != nil { continue }
			if v, err = Normalize(v); err == nil { hf.attrs[a.Name] = v }
		}
	}

	for _, obj := range hf.f.Root().Children() {
		ds, ok := obj.(*hdf5.Dataset)
		if !ok { continue }
		name := strings.TrimPrefix(ds.Name(), "/")

		attrs, err := readHdf5Attrs(ds)
		if err != nil {
			return fmt.Errorf("The attributes of '%s' in %s could not be "+
				"read: %w", name, hf.fname, err)
		}
		if name == hdf5GlobalAttrs {
			for k, v := range attrs { hf.attrs[k] = v }
			continue
		}

		info, err := hdf5Info(ds, name, attrs)
		if err != nil {
			return fmt.Errorf("The variable '%s' in %s could not be "+
				"described: %w", name, hf.fname, err)
		}
		hf.sets[name], hf.infos[name] = ds, info
		hf.names = append(hf.names, name)
	}
	sort.Strings(hf.names)
	return nil
}

func readHdf5Attrs(ds *hdf5.Dataset) (Attributes, error) {
	attrs, err := ds.Attributes()
	if err != nil { return nil, err }
	out := Attributes{}
	for _, a := range attrs {
		if hdf5PadRe.MatchString(a.Name) { continue }
		v, err := a.ReadValue()
		if err != nil { return nil, err }
		if v, err = Normalize(v); err == nil { out[a.Name] = v }
	}
	return out, nil
}

// hdf5Info builds a VarInfo from the dataset's description string, which is
// the only place the library exposes the shape and element type.
func hdf5Info(ds *hdf5.Dataset, name string, attrs Attributes) (VarInfo, error) {
	desc, err := ds.Info()
	if err != nil { return VarInfo{}, err }

	info := VarInfo{Name: name, Shape: []int{}, Attrs: attrs}
	if m := hdf5ShapeRe.FindStringSubmatch(desc); m != nil {
		for _, tok := range strings.Fields(strings.ReplaceAll(m[2], "x", " ")) {
			n, err := strconv.Atoi(tok)
			if err != nil { return VarInfo{}, err }
			info.Shape = append(info.Shape, n)
		}
	} else if !strings.Contains(desc, "scalar") {
		return VarInfo{}, fmt.Errorf("Unrecognized dataspace in '%s'.", desc)
	}

	m := hdf5TypeRe.FindStringSubmatch(desc)
	if m == nil {
		return VarInfo{}, fmt.Errorf("Only integer and float datasets are "+
			"supported, but the dataset is described as '%s'.", desc)
	}
	switch m[1] + m[2] {
	case "float8": info.DType = Float64
	case "float4": info.DType = Float32
	case "integer4": info.DType = Int32
	case "integer8": info.DType = Int64
	default:
		return VarInfo{}, fmt.Errorf("Unsupported element type in '%s'.", desc)
	}

	info.Dims = hdf5Dims(info.Shape, attrs)
	if len(info.Dims) == 0 && len(info.Shape) == 1 && info.Shape[0] == 1 {
		info.Shape = []int{}
	}
	delete(attrs, hdf5DimsAttr)
	return info, nil
}

// hdf5Dims picks dimension names from, in order of preference, the
// _dimensions attribute, the bout_type attribute, and the rank.
func hdf5Dims(shape []int, attrs Attributes) []string {
	fits := func(dims []string) bool {
		return len(dims) == len(shape) ||
			(len(dims) == 0 && len(shape) == 1 && shape[0] == 1)
	}
	if s, ok := attrs.String(hdf5DimsAttr); ok {
		dims := []string{}
		if s != hdf5NoDims { dims = strings.Split(s, ",") }
		if fits(dims) { return dims }
	}
	if s, ok := attrs.String("bout_type"); ok {
		if dims, ok := DimsFromBoutType(s); ok && fits(dims) { return dims }
	}
	return DefaultDims(len(shape))
}

func (hf *Hdf5File) Path() string { return hf.fname }

func (hf *Hdf5File) Variables() []string { return append([]string{}, hf.names...) }

func (hf *Hdf5File) Info(name string) (VarInfo, bool) {
	info, ok := hf.infos[name]
	if !ok { return VarInfo{}, false }
	return info.Copy(), true
}

func (hf *Hdf5File) Attributes() Attributes { return hf.attrs.Copy() }

func (hf *Hdf5File) ReadSlice(name string, sel []Slice) (*Array, error) {
	ds, ok := hf.sets[name]
	if !ok {
		return nil, fmt.Errorf("The variable '%s' is not in %s.", name, hf.fname)
	}
	info := hf.infos[name]
	if err := checkSelection(info.Shape, sel); err != nil {
		return nil, fmt.Errorf("Bad selection of '%s' in %s: %w",
			name, hf.fname, err)
	}

	shape := make([]int, len(sel))
	for i := range sel { shape[i] = sel[i].Count }
	if Volume(shape) == 0 { return NewArray(info.DType, shape), nil }

	var raw interface{}
	var err error
	if len(sel) == 0 {
		raw, err = ds.Read()
	} else {
		hs := &hdf5.HyperslabSelection{
			Start: make([]uint64, len(sel)), Count: make([]uint64, len(sel)),
			Stride: make([]uint64, len(sel)), Block: make([]uint64, len(sel)),
		}
		for i := range sel {
			hs.Start[i], hs.Count[i] = uint64(sel[i].Start), uint64(sel[i].Count)
			hs.Stride[i], hs.Block[i] = uint64(sel[i].step()), 1
		}
		raw, err = ds.ReadHyperslab(hs)
	}
	if err != nil { return nil, err }

	// Scalars are stored with shape [1] and come back as one element.
	arr, err := FromData(shape, raw)
	if err != nil {
		return nil, fmt.Errorf("'%s' in %s: %w", name, hf.fname, err)
	}
	if arr.DType() != info.DType { arr = arr.Convert(info.DType) }
	return arr, nil
}

func (hf *Hdf5File) Close() error { return hf.f.Close() }

// CreateHdf5 creates an HDF5 file at fname, truncating any existing file.
func CreateHdf5(fname string) (*Hdf5Writer, error) {
	fw, err := hdf5.CreateForWrite(fname, hdf5.CreateTruncate)
	if err != nil { return nil, err }
	return &Hdf5Writer{
		fname: fname, fw: fw, attrs: Attributes{},
		infos: map[string]VarInfo{}, done: map[string]bool{},
		names: len(hdf5GlobalAttrs) + 1,
	}, nil
}

func (wr *Hdf5Writer) BuffersVariables() bool { return true }

func (wr *Hdf5Writer) SetAttribute(name string, value interface{}) error {
	v, err := Normalize(value)
	if err != nil { return err }
	wr.attrs[name] = v
	return nil
}

func (wr *Hdf5Writer) Define(info VarInfo) error {
	if err := info.Check(); err != nil { return err }
	if _, ok := wr.infos[info.Name]; ok {
		return fmt.Errorf("The variable '%s' was defined twice in %s.",
			info.Name, wr.fname)
	} else if info.Name == hdf5GlobalAttrs {
		return fmt.Errorf("The variable name '%s' is reserved in HDF5 "+
			"output.", hdf5GlobalAttrs)
	}
	if len(wr.order)+2 > hdf5MaxDatasets {
		return fmt.Errorf("HDF5 output holds at most %d variables, so '%s' "+
			"cannot be added to %s.", hdf5MaxDatasets-1, info.Name, wr.fname)
	} else if wr.names+len(info.Name)+1 > hdf5MaxNameBytes {
		return fmt.Errorf("HDF5 output holds at most %d bytes of variable "+
			"names, so '%s' cannot be added to %s.", hdf5MaxNameBytes,
			info.Name, wr.fname)
	}
	for i, n := range info.Shape {
		if n == 0 {
			return fmt.Errorf("The variable '%s' has zero length along "+
				"'%s', which HDF5 output cannot represent.",
				info.Name, info.Dims[i])
		}
	}
	wr.infos[info.Name] = info.Copy()
	wr.order = append(wr.order, info.Name)
	wr.names += len(info.Name) + 1
	return nil
}

func (wr *Hdf5Writer) WriteSlice(name string, start []int, data *Array) error {
	if wr.closed {
		return fmt.Errorf("The file %s was written after being closed.", wr.fname)
	}
	info, ok := wr.infos[name]
	if !ok {
		return fmt.Errorf("The variable '%s' was written to %s before "+
			"being defined.", name, wr.fname)
	}
	if err := checkWrite(info, start, data); err != nil { return err }

	if name != wr.current {
		if wr.done[name] {
			return fmt.Errorf("The variable '%s' in %s was written to after "+
				"another variable. HDF5 output must be written one variable "+
				"at a time.", name, wr.fname)
		}
		if err := wr.flush(); err != nil { return err }
		wr.current, wr.buf = name, NewArray(info.DType, info.Shape)
	}
	return CopyBlock(wr.buf, start, data, make([]int, len(start)), data.Shape)
}

// flush writes the buffered variable to disk.
func (wr *Hdf5Writer) flush() error {
	if wr.current == "" { return nil }
	info := wr.infos[wr.current]
	wr.done[wr.current] = true
	defer func() { wr.current, wr.buf = "", nil }()

	dims := make([]uint64, len(info.Shape))
	for i := range dims { dims[i] = uint64(info.Shape[i]) }
	if len(dims) == 0 { dims = []uint64{1} }

	dtype := hdf5.Float64
	switch info.DType {
	case Float32: dtype = hdf5.Float32
	case Int32: dtype = hdf5.Int32
	case Int64: dtype = hdf5.Int64
	}

	dw, err := wr.fw.CreateDataset("/"+info.Name, dtype, dims)
	if err != nil { return err }
	if err := dw.Write(wr.buf.Data); err != nil { return err }

	attrs := info.Attrs.Copy()
	attrs[hdf5DimsAttr] = strings.Join(info.Dims, ",")
	if len(info.Dims) == 0 { attrs[hdf5DimsAttr] = hdf5NoDims }
	return writeHdf5Attrs(dw, attrs)
}

// writeHdf5Attrs writes attrs to a dataset that was just created, padding
// them out so that the dataset uses dense attribute storage.
func writeHdf5Attrs(dw *hdf5.DatasetWriter, attrs Attributes) error {
	keys := attrs.Keys()
	for _, k := range keys {
		if hdf5PadRe.MatchString(k) {
			return fmt.Errorf("The attribute name '%s' is reserved in HDF5 "+
				"output.", k)
		}
		if err := dw.WriteAttribute(k, attrs[k]); err != nil {
			return fmt.Errorf("The attribute '%s' could not be written: %w",
				k, err)
		}
	}
	for i := len(keys); i < hdf5DenseAttrs; i++ {
		err := dw.WriteAttribute(fmt.Sprintf("%s%d", hdf5PadAttr, i), int32(0))
		if err != nil { return err }
	}
	return nil
}

// Close writes any variables that were defined but never written (as
// zeros), then the global attributes, and closes the file.
func (wr *Hdf5Writer) Close() error {
	if wr.closed { return nil }
	wr.closed = true

	err := wr.flush()
	for _, name := range wr.order {
		if err != nil { break }
		if wr.done[name] { continue }
		info := wr.infos[name]
		wr.current, wr.buf = name, NewArray(info.DType, info.Shape)
		err = wr.flush()
	}

	if err == nil && len(wr.attrs) > 0 {
		var dw *hdf5.DatasetWriter
		dw, err = wr.fw.CreateDataset("/"+hdf5GlobalAttrs, hdf5.Int32, []uint64{1})
		if err == nil { err = dw.Write([]int32{0}) }
		if err == nil { err = writeHdf5Attrs(dw, wr.attrs) }
	}

	if cerr := wr.fw.Close(); err == nil { err = cerr }
	return err
}
