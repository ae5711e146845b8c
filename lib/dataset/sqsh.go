package dataset

/* This file implements the .sqsh container. A .sqsh file is laid out as

    magic (u32) | version (u32) | block 0 | block 1 | ... | footer | trailer

Every block is a zstd-compressed, little-endian, row-major slab of one
variable written by a single WriteSlice call. The footer is a msgpack-encoded
table of variables, attributes and block locations, and the trailer holds the
footer's offset and length followed by the magic number again. Blocks are
streamed to disk as they arrive, so writing never needs more than one block
in RAM. Regions of a variable that were never written read back as zero. */

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// SqshMagic is an arbitrary number at the start and end of all .sqsh
	// files, which should help identify when the code is run on something
	// else by accident.
	SqshMagic = 0x5a5a5a51
	// SqshVersion is the newest container version this code can read.
	SqshVersion = 1

	trailerSize = 8 + 8 + 4
)

var sqshOrder = binary.LittleEndian

type sqshFooter struct {
	Attrs map[string]sqshAttr `msgpack:"attrs"`
	Vars  []sqshVar           `msgpack:"vars"`
}

type sqshVar struct {
	Name   string              `msgpack:"name"`
	DType  string              `msgpack:"dtype"`
	Dims   []string            `msgpack:"dims"`
	Shape  []int               `msgpack:"shape"`
	Attrs  map[string]sqshAttr `msgpack:"attrs"`
	Blocks []sqshBlock         `msgpack:"blocks"`
}

type sqshBlock struct {
	Start  []int `msgpack:"start"`
	Shape  []int `msgpack:"shape"`
	Offset int64 `msgpack:"offset"`
	Size   int64 `msgpack:"size"`
}

// sqshAttr stores an attribute so that its Go type survives a round trip.
type sqshAttr struct {
	Type   string    `msgpack:"type"`
	Text   string    `msgpack:"text,omitempty"`
	Ints   []int64   `msgpack:"ints,omitempty"`
	Floats []float64 `msgpack:"floats,omitempty"`
}

func encodeAttrs(attrs Attributes) map[string]sqshAttr {
	out := map[string]sqshAttr{}
	for k, v := range attrs {
		switch x := v.(type) {
		case string: out[k] = sqshAttr{Type: "s", Text: x}
		case int64: out[k] = sqshAttr{Type: "i", Ints: []int64{x}}
		case float64: out[k] = sqshAttr{Type: "f", Floats: []float64{x}}
		case []int64: out[k] = sqshAttr{Type: "I", Ints: x}
		case []float64: out[k] = sqshAttr{Type: "F", Floats: x}
		}
	}
	return out
}

func decodeAttrs(attrs map[string]sqshAttr) (Attributes, error) {
	out := Attributes{}
	for k, a := range attrs {
		switch a.Type {
		case "s": out[k] = a.Text
		case "i":
			if len(a.Ints) != 1 { return nil, badAttr(k, a) }
			out[k] = a.Ints[0]
		case "f":
			if len(a.Floats) != 1 { return nil, badAttr(k, a) }
			out[k] = a.Floats[0]
		case "I": out[k] = append([]int64{}, a.Ints...)
		case "F": out[k] = append([]float64{}, a.Floats...)
		default: return nil, badAttr(k, a)
		}
	}
	return out, nil
}

func badAttr(name string, a sqshAttr) error {
	return fmt.Errorf("The attribute '%s' has a corrupted encoding, %+v.",
		name, a)
}

// SqshWriter streams a .sqsh file to disk.
type SqshWriter struct {
	fname  string
	f      *os.File
	level  int
	offset int64
	attrs  Attributes
	vars   []sqshVar
	index  map[string]int
	infos  map[string]VarInfo
	raw    *bytes.Buffer
	comp   []byte
	closed bool
}

// SqshFile reads a .sqsh file. Only the footer is read by OpenSqsh.
type SqshFile struct {
	fname string
	f     *os.File
	attrs Attributes
	names []string
	vars  map[string]*sqshVar
	infos map[string]VarInfo
	comp  []byte
}

// Type assertions
var (
	_ File   = &SqshFile{}
	_ Writer = &SqshWriter{}
)

// CreateSqsh creates a .sqsh file at fname. Blocks are compressed at the
// given zstd level.
func CreateSqsh(fname string, level int) (*SqshWriter, error) {
	f, err := os.Create(fname)
	if err != nil { return nil, err }

	hd := []uint32{SqshMagic, SqshVersion}
	if err := binary.Write(f, sqshOrder, hd); err != nil {
		f.Close()
		return nil, err
	}

	return &SqshWriter{
		fname: fname, f: f, level: level, offset: 8,
		attrs: Attributes{}, index: map[string]int{},
		infos: map[string]VarInfo{}, raw: &bytes.Buffer{},
	}, nil
}

func (wr *SqshWriter) SetAttribute(name string, value interface{}) error {
	v, err := Normalize(value)
	if err != nil { return err }
	wr.attrs[name] = v
	return nil
}

func (wr *SqshWriter) Define(info VarInfo) error {
	if err := info.Check(); err != nil { return err }
	if _, ok := wr.index[info.Name]; ok {
		return fmt.Errorf("The variable '%s' was defined twice in %s.",
			info.Name, wr.fname)
	}
	wr.index[info.Name] = len(wr.vars)
	wr.infos[info.Name] = info.Copy()
	wr.vars = append(wr.vars, sqshVar{
		Name: info.Name, DType: info.DType.String(),
		Dims: append([]string{}, info.Dims...),
		Shape: append([]int{}, info.Shape...),
		Attrs: encodeAttrs(info.Attrs),
	})
	return nil
}

func (wr *SqshWriter) WriteSlice(name string, start []int, data *Array) error {
	if wr.closed {
		return fmt.Errorf("The file %s was written after being closed.", wr.fname)
	}
	i, ok := wr.index[name]
	if !ok {
		return fmt.Errorf("The variable '%s' was written to %s before "+
			"being defined.", name, wr.fname)
	}
	if err := checkWrite(wr.infos[name], start, data); err != nil { return err }
	if data.Len() == 0 { return nil }

	wr.raw.Reset()
	if err := binary.Write(wr.raw, sqshOrder, data.Data); err != nil {
		return err
	}
	var err error
	wr.comp, err = zstd.CompressLevel(wr.comp[:0], wr.raw.Bytes(), wr.level)
	if err != nil { return err }
	if _, err := wr.f.Write(wr.comp); err != nil { return err }

	wr.vars[i].Blocks = append(wr.vars[i].Blocks, sqshBlock{
		Start: append([]int{}, start...), Shape: append([]int{}, data.Shape...),
		Offset: wr.offset, Size: int64(len(wr.comp)),
	})
	wr.offset += int64(len(wr.comp))
	return nil
}

// Close writes the footer and trailer and closes the file.
func (wr *SqshWriter) Close() error {
	if wr.closed { return nil }
	wr.closed = true

	footer := sqshFooter{Attrs: encodeAttrs(wr.attrs), Vars: wr.vars}
	b, err := msgpack.Marshal(&footer)
	if err != nil {
		wr.f.Close()
		return err
	}
	if _, err := wr.f.Write(b); err != nil {
		wr.f.Close()
		return err
	}

	trailer := &bytes.Buffer{}
	binary.Write(trailer, sqshOrder, uint64(wr.offset))
	binary.Write(trailer, sqshOrder, uint64(len(b)))
	binary.Write(trailer, sqshOrder, uint32(SqshMagic))
	if _, err := wr.f.Write(trailer.Bytes()); err != nil {
		wr.f.Close()
		return err
	}

	if err := wr.f.Sync(); err != nil {
		wr.f.Close()
		return err
	}
	return wr.f.Close()
}

// OpenSqsh opens a .sqsh file and reads its footer.
func OpenSqsh(fname string) (*SqshFile, error) {
	f, err := os.Open(fname)
	if err != nil { return nil, err }
	sf, err := readSqsh(fname, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return sf, nil
}

func readSqsh(fname string, f *os.File) (*SqshFile, error) {
	stat, err := f.Stat()
	if err != nil { return nil, err }
	if stat.Size() < 8+trailerSize {
		return nil, fmt.Errorf("%s is too small to be a .sqsh file.", fname)
	}

	hd := make([]uint32, 2)
	if err := binary.Read(f, sqshOrder, hd); err != nil { return nil, err }
	if hd[0] != SqshMagic {
		return nil, fmt.Errorf("%s is not a .sqsh file. All .sqsh files "+
			"begin with the 32-bit integer %x. This file begins with %x.",
			fname, SqshMagic, hd[0])
	} else if hd[1] > SqshVersion {
		return nil, fmt.Errorf("The file %s uses .sqsh version %d, but this "+
			"code can only read versions up to %d.", fname, hd[1], SqshVersion)
	}

	tr := make([]byte, trailerSize)
	if _, err := f.ReadAt(tr, stat.Size()-trailerSize); err != nil {
		return nil, err
	}
	footerOffset := int64(sqshOrder.Uint64(tr[0:8]))
	footerSize := int64(sqshOrder.Uint64(tr[8:16]))
	if sqshOrder.Uint32(tr[16:20]) != SqshMagic ||
		footerOffset+footerSize != stat.Size()-trailerSize {
		return nil, fmt.Errorf("The file %s was not closed properly: its "+
			"trailer is missing or corrupted.", fname)
	}

	b := make([]byte, footerSize)
	if _, err := f.ReadAt(b, footerOffset); err != nil { return nil, err }
	footer := sqshFooter{}
	if err := msgpack.Unmarshal(b, &footer); err != nil {
		return nil, fmt.Errorf("The footer of %s could not be decoded: %w",
			fname, err)
	}

	sf := &SqshFile{
		fname: fname, f: f, vars: map[string]*sqshVar{},
		infos: map[string]VarInfo{},
	}
	if sf.attrs, err = decodeAttrs(footer.Attrs); err != nil { return nil, err }
	for i := range footer.Vars {
		v := &footer.Vars[i]
		dt, err := ParseDType(v.DType)
		if err != nil { return nil, err }
		attrs, err := decodeAttrs(v.Attrs)
		if err != nil { return nil, err }
		info := VarInfo{
			Name: v.Name, DType: dt, Dims: v.Dims, Shape: v.Shape, Attrs: attrs,
		}
		if info.Dims == nil { info.Dims = []string{} }
		if info.Shape == nil { info.Shape = []int{} }
		if err := info.Check(); err != nil { return nil, err }
		sf.vars[v.Name], sf.infos[v.Name] = v, info
		sf.names = append(sf.names, v.Name)
	}
	sort.Strings(sf.names)
	return sf, nil
}

func (sf *SqshFile) Path() string { return sf.fname }

func (sf *SqshFile) Variables() []string { return append([]string{}, sf.names...) }

func (sf *SqshFile) Info(name string) (VarInfo, bool) {
	info, ok := sf.infos[name]
	if !ok { return VarInfo{}, false }
	return info.Copy(), true
}

func (sf *SqshFile) Attributes() Attributes { return sf.attrs.Copy() }

// ReadSlice decompresses every block that overlaps sel and copies the
// overlapping elements into the output.
func (sf *SqshFile) ReadSlice(name string, sel []Slice) (*Array, error) {
	v, ok := sf.vars[name]
	if !ok {
		return nil, fmt.Errorf("The variable '%s' is not in %s.", name, sf.fname)
	}
	info := sf.infos[name]
	if err := checkSelection(info.Shape, sel); err != nil {
		return nil, fmt.Errorf("Bad selection of '%s' in %s: %w",
			name, sf.fname, err)
	}

	rank := len(sel)
	shape := make([]int, rank)
	for i := range sel { shape[i] = sel[i].Count }
	out := NewArray(info.DType, shape)
	if out.Len() == 0 { return out, nil }

	k0, k1 := make([]int, rank), make([]int, rank)
	local := make([]Slice, rank)
	for _, blk := range v.Blocks {
		overlaps := true
		for i := 0; i < rank; i++ {
			k0[i], k1[i] = sel[i].Overlap(blk.Start[i], blk.Start[i]+blk.Shape[i])
			if k0[i] == k1[i] {
				overlaps = false
				break
			}
			local[i] = Slice{
				sel[i].Index(k0[i]) - blk.Start[i], k1[i] - k0[i], sel[i].Stride,
			}
		}
		if !overlaps { continue }

		block, err := sf.readBlock(info.DType, blk)
		if err != nil { return nil, err }
		part, err := block.Extract(local)
		if err != nil { return nil, err }
		if err := CopyBlock(out, k0, part, make([]int, rank), part.Shape); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (sf *SqshFile) readBlock(dt DType, blk sqshBlock) (*Array, error) {
	if int64(cap(sf.comp)) < blk.Size {
		sf.comp = make([]byte, blk.Size)
	}
	sf.comp = sf.comp[:blk.Size]
	if _, err := sf.f.ReadAt(sf.comp, blk.Offset); err != nil {
		if err == io.EOF { err = io.ErrUnexpectedEOF }
		return nil, err
	}
	raw, err := zstd.Decompress(nil, sf.comp)
	if err != nil {
		return nil, fmt.Errorf("A block in %s could not be decompressed: %w",
			sf.fname, err)
	}

	arr := NewArray(dt, blk.Shape)
	if len(raw) != arr.Bytes() {
		return nil, fmt.Errorf("A block in %s decompressed to %d bytes, "+
			"but a %s block of shape %v needs %d.", sf.fname, len(raw),
			dt, blk.Shape, arr.Bytes())
	}
	if err := binary.Read(bytes.NewReader(raw), sqshOrder, arr.Data); err != nil {
		return nil, err
	}
	return arr, nil
}

func (sf *SqshFile) Close() error { return sf.f.Close() }
