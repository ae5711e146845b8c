package dataset

import (
	"errors"
	"io/fs"
	"os"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVars() ([]VarInfo, []*Array) {
	n := rangeArray(2, 3, 2, 4)
	nxpe, _ := FromData([]int{}, []int32{4})
	t, _ := FromData([]int{2}, []float64{0.5, 1.0})
	return []VarInfo{
		{"n", Float64, []string{"t", "x", "y", "z"}, []int{2, 3, 2, 4},
			Attributes{"cell_location": "CELL_CENTRE", "bout_type": "Field3D_t"}},
		{"NXPE", Int32, []string{}, []int{}, Attributes{}},
		{"t_array", Float64, []string{"t"}, []int{2}, Attributes{}},
	}, []*Array{n, nxpe, t}
}

// writeSample writes the sample variables to fname, splitting the
// time-dependent field into one block per time step.
func writeSample(t *testing.T, s Store, fname string) {
	vars, data := sampleVars()
	wr, err := s.Create(fname)
	require.NoError(t, err)

	require.NoError(t, wr.SetAttribute("BOUT_VERSION", 4.4))
	require.NoError(t, wr.SetAttribute("run_id", "abc"))
	for i := range vars { require.NoError(t, wr.Define(vars[i])) }

	for it := 0; it < 2; it++ {
		block, err := data[0].Extract([]Slice{{Start: it, Count: 1, Stride: 1}, All(3), All(2), All(4)})
		require.NoError(t, err)
		require.NoError(t, wr.WriteSlice("n", []int{it, 0, 0, 0}, block))
	}
	require.NoError(t, wr.WriteSlice("NXPE", []int{}, data[1]))
	require.NoError(t, wr.WriteSlice("t_array", []int{0}, data[2]))
	require.NoError(t, wr.Close())
}

func checkSample(t *testing.T, s Store, fname string) {
	vars, data := sampleVars()
	f, err := s.Open(fname)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"NXPE", "n", "t_array"}, f.Variables())
	attrs := f.Attributes()
	assert.Equal(t, 4.4, attrs["BOUT_VERSION"])
	assert.Equal(t, "abc", attrs["run_id"])

	for i := range vars {
		info, ok := f.Info(vars[i].Name)
		require.True(t, ok, vars[i].Name)
		assert.Equal(t, vars[i].DType, info.DType, vars[i].Name)
		assert.Equal(t, vars[i].Dims, info.Dims, vars[i].Name)
		assert.Equal(t, vars[i].Shape, info.Shape, vars[i].Name)
		for k, v := range vars[i].Attrs {
			assert.Equal(t, v, info.Attrs[k], "%s:%s", vars[i].Name, k)
		}

		arr, err := ReadAll(f, vars[i].Name)
		require.NoError(t, err)
		assert.True(t, arr.Equal(data[i]), vars[i].Name)
	}

	sel := []Slice{{1, 1, 1}, {0, 2, 2}, All(2), {1, 2, 2}}
	arr, err := f.ReadSlice("n", sel)
	require.NoError(t, err)
	exp, err := data[0].Extract(sel)
	require.NoError(t, err)
	assert.Equal(t, exp.Data, arr.Data)

	v, ok, err := ReadScalar(f, "NXPE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4.0, v)

	_, ok, err = ReadScalar(f, "MXSUB")
	assert.NoError(t, err)
	assert.False(t, ok)

	info, ok := Lookup(f, "T_ARRAY")
	assert.True(t, ok)
	assert.Equal(t, "t_array", info.Name)
}

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()
	writeSample(t, s, "run/BOUT.dmp.0.sqsh")
	checkSample(t, s, "run/BOUT.dmp.0.sqsh")

	entries, err := s.List("run")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"BOUT.dmp.0.sqsh", false}}, entries)

	entries, err = s.List("")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"run", true}}, entries)

	_, err = s.Open("run/BOUT.dmp.1.sqsh")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemStoreRename(t *testing.T) {
	s := NewMemStore()
	writeSample(t, s, "out.tmp.sqsh")
	require.NoError(t, s.Rename("out.tmp.sqsh", "out.sqsh"))

	ok, err := s.Exists("out.tmp.sqsh")
	require.NoError(t, err)
	assert.False(t, ok)
	checkSample(t, s, "out.sqsh")

	require.NoError(t, s.Remove("out.sqsh"))
	ok, _ = s.Exists("out.sqsh")
	assert.False(t, ok)
	assert.Error(t, s.Remove("out.sqsh"))
}

func TestMemWriterNotVisibleBeforeClose(t *testing.T) {
	s := NewMemStore()
	wr, err := s.Create("a.sqsh")
	require.NoError(t, err)
	ok, _ := s.Exists("a.sqsh")
	assert.False(t, ok)
	require.NoError(t, wr.Close())
	ok, _ = s.Exists("a.sqsh")
	assert.True(t, ok)
}

func TestWriterErrors(t *testing.T) {
	s := NewMemStore()
	wr, err := s.Create("a.sqsh")
	require.NoError(t, err)

	info := VarInfo{"n", Float64, []string{"x", "y"}, []int{2, 2}, nil}
	require.NoError(t, wr.Define(info))
	assert.Error(t, wr.Define(info))
	assert.Error(t, wr.Define(VarInfo{"m", Float64, []string{"x"}, []int{2, 2}, nil}))

	assert.Error(t, wr.WriteSlice("m", []int{0, 0}, rangeArray(2, 2)))
	assert.Error(t, wr.WriteSlice("n", []int{1, 0}, rangeArray(2, 2)))
	assert.Error(t, wr.WriteSlice("n", []int{0, 0}, NewArray(Int32, []int{2, 2})))
	assert.NoError(t, wr.WriteSlice("n", []int{1, 0}, rangeArray(1, 2)))
}

func TestSqshRoundTrip(t *testing.T) {
	s := &DiskStore{}
	fname := filepath.Join(t.TempDir(), "gen0", "BOUT.dmp.0.sqsh")
	writeSample(t, s, fname)
	checkSample(t, s, fname)

	entries, err := s.List(filepath.Dir(fname))
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"BOUT.dmp.0.sqsh", false}}, entries)
}

func TestSqshUnwrittenRegionsAreZero(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "a.sqsh")
	wr, err := CreateSqsh(fname, 1)
	require.NoError(t, err)
	require.NoError(t, wr.Define(VarInfo{"n", Int64, []string{"x"}, []int{4}, nil}))
	part, _ := FromData([]int{2}, []int64{7, 8})
	require.NoError(t, wr.WriteSlice("n", []int{1}, part))
	require.NoError(t, wr.Close())

	f, err := OpenSqsh(fname)
	require.NoError(t, err)
	defer f.Close()
	arr, err := ReadAll(f, "n")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 7, 8, 0}, arr.Data)
}

func TestSqshRejectsTruncatedFiles(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "a.sqsh")
	writeSample(t, &DiskStore{}, fname)

	b, err := os.ReadFile(fname)
	require.NoError(t, err)
	bad := filepath.Join(dir, "bad.sqsh")
	require.NoError(t, os.WriteFile(bad, b[:len(b)-3], 0644))
	_, err = OpenSqsh(bad)
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.sqsh")
	require.NoError(t, os.WriteFile(junk, make([]byte, 64), 0644))
	_, err = OpenSqsh(junk)
	assert.Error(t, err)
}

func TestHdf5RoundTrip(t *testing.T) {
	s := &DiskStore{}
	fname := filepath.Join(t.TempDir(), "BOUT.dmp.0.h5")
	writeSample(t, s, fname)
	checkSample(t, s, fname)
}

func TestHdf5ManyVariables(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "many.h5")
	wr, err := CreateHdf5(fname)
	require.NoError(t, err)
	require.NoError(t, wr.SetAttribute("run_id", "many"))

	n := hdf5MaxDatasets - 1
	for i := 0; i < n; i++ {
		info := VarInfo{Name: fmt.Sprintf("v%02d", i), DType: Int64,
			Dims: []string{"x"}, Shape: []int{i + 1},
			Attrs: Attributes{"index": int64(i), "label": strings.Repeat("a", i+1)}}
		require.NoError(t, wr.Define(info))
		data := make([]int64, i+1)
		for j := range data { data[j] = int64(i * j) }
		arr, err := FromData(info.Shape, data)
		require.NoError(t, err)
		require.NoError(t, wr.WriteSlice(info.Name, []int{0}, arr))
	}
	assert.Error(t, wr.Define(VarInfo{Name: "extra", DType: Int32,
		Dims: []string{}, Shape: []int{}}))
	require.NoError(t, wr.Close())

	f, err := OpenHdf5(fname)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.Variables(), n)
	assert.Equal(t, Attributes{"run_id": "many"}, f.Attributes())
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("v%02d", i)
		info, ok := f.Info(name)
		require.True(t, ok, "%d) Expected %s to be readable.", i, name)
		assert.Equal(t, Attributes{"index": int64(i),
			"label": strings.Repeat("a", i+1)}, info.Attrs,
			"%d) Expected the attributes of %s to be unchanged.", i, name)
		assert.Equal(t, []string{"x"}, info.Dims, "%d)", i)

		arr, err := ReadAll(f, name)
		require.NoError(t, err)
		assert.Equal(t, []int{i + 1}, arr.Shape, "%d)", i)
		assert.Equal(t, float64(i*i), arr.Float64s()[i], "%d)", i)
	}
}

func TestHdf5WriterLimits(t *testing.T) {
	wr, err := CreateHdf5(filepath.Join(t.TempDir(), "long.h5"))
	require.NoError(t, err)
	defer wr.Close()

	long := strings.Repeat("x", 50)
	for i := 0; i < 4; i++ {
		require.NoError(t, wr.Define(VarInfo{Name: fmt.Sprintf("%s%d", long, i),
			DType: Int32, Dims: []string{}, Shape: []int{}}))
	}
	assert.Error(t, wr.Define(VarInfo{Name: long + "4", DType: Int32,
		Dims: []string{}, Shape: []int{}}))
	assert.Error(t, wr.Define(VarInfo{Name: hdf5GlobalAttrs, DType: Int32,
		Dims: []string{}, Shape: []int{}}))

	info := VarInfo{Name: "a", DType: Int32, Dims: []string{}, Shape: []int{},
		Attrs: Attributes{hdf5PadAttr + "1": int64(1)}}
	require.NoError(t, wr.Define(info))
	arr, _ := FromData([]int{}, []int32{1})
	require.NoError(t, wr.WriteSlice("a", []int{}, arr))
	assert.Error(t, wr.Close())
}

func TestDiskStore(t *testing.T) {
	s := &DiskStore{}
	dir := t.TempDir()

	_, err := s.Create(filepath.Join(dir, "a.txt"))
	assert.Error(t, err)
	_, err = s.Open(filepath.Join(dir, "a.sqsh"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	ok, err := s.Exists(dir)
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(filepath.Join(dir, "nope"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(filepath.Join(dir, "out.nc"))
	assert.Error(t, err)
	ok, _ = s.Exists(filepath.Join(dir, "out.nc"))
	assert.False(t, ok)

	assert.True(t, Supported("BOUT.dmp.3.nc"))
	assert.False(t, Writable("BOUT.dmp.3.nc"))
	assert.True(t, Writable("out.H5"))
	assert.True(t, Writable("out.sqsh"))
	assert.True(t, Supported("BOUT.dmp.3.SQSH"))
	assert.False(t, Supported("BOUT.inp"))
}

func TestDefaultDims(t *testing.T) {
	tests := []struct {
		rank int
		dims []string
	}{
		{0, []string{}},
		{1, []string{"t"}},
		{2, []string{"x", "y"}},
		{3, []string{"x", "y", "z"}},
		{4, []string{"t", "x", "y", "z"}},
		{5, []string{"dim0", "dim1", "dim2", "dim3", "dim4"}},
	}
	for i := range tests {
		assert.Equal(t, tests[i].dims, DefaultDims(tests[i].rank), "%d)", i)
	}

	dims, ok := DimsFromBoutType("FieldPerp_t")
	assert.True(t, ok)
	assert.Equal(t, []string{"t", "x", "z"}, dims)
	_, ok = DimsFromBoutType("Vector3D")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, out interface{}
	}{
		{int32(3), int64(3)},
		{3, int64(3)},
		{float32(0.5), 0.5},
		{true, int64(1)},
		{[]int32{1, 2}, []int64{1, 2}},
		{[]float32{0.5}, []float64{0.5}},
		{"s", "s"},
	}
	for i := range tests {
		out, err := Normalize(tests[i].in)
		require.NoError(t, err, "%d)", i)
		assert.Equal(t, tests[i].out, out, "%d)", i)
	}
	_, err := Normalize(struct{}{})
	assert.Error(t, err)
}
