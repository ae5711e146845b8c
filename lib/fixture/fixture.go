/*package fixture builds mock BOUT++ dump sets for tests.

Every processor gets independent random data, guard cells included, so a
collection that takes any cell from the wrong processor or the wrong guard
region produces the wrong answer. Expected computes the global array a
correct collection should produce by concatenating the relevant part of each
processor's local array.
*/
package fixture

import (
	"fmt"
	"math/rand"
	"path"

	"github.com/phil-mansfield/squash/lib/dataset"
	"github.com/phil-mansfield/squash/lib/layout"
)

// Names of the mock variables.
const (
	Field3DT   = "n"
	Field3D    = "phi"
	Field2DT   = "te"
	Field2D    = "g11"
	FieldPerpT = "perp_t"
	FieldPerp  = "perp"
	ScalarT    = "wall_time"
	TimeVar    = "t_array"
)

// Fields lists every decomposed mock variable.
var Fields = []string{Field3DT, Field3D, Field2DT, Field2D, FieldPerpT, FieldPerp}

// Grid describes a mock run.
type Grid struct {
	NXPE, NYPE   int
	MXSUB, MYSUB int
	MXG, MYG     int
	MZSUB, MZG   int
	// NT is the number of output time points.
	NT int
	// Times are T0, T0 + DT, ...
	T0, DT float64

	PeriodicX, PeriodicY bool
	// PerpRow is the processor row that holds the FieldPerp variables.
	// Negative means no row does.
	PerpRow int
	Seed    int64
}

// Small returns a 2x3 grid with distinct guard widths on every axis.
func Small() Grid {
	return Grid{
		NXPE: 2, NYPE: 3, MXSUB: 3, MYSUB: 2, MXG: 2, MYG: 1, MZSUB: 4,
		MZG: 1, NT: 4, T0: 0, DT: 1, PerpRow: 1, Seed: 1,
	}
}

// Layout returns the decomposition described by g.
func (g Grid) Layout() *layout.Layout {
	return &layout.Layout{
		X: layout.Axis{Name: "x", NProcs: g.NXPE, Sub: g.MXSUB, Guard: g.MXG,
			Lower: !g.PeriodicX, Upper: !g.PeriodicX},
		Y: layout.Axis{Name: "y", NProcs: g.NYPE, Sub: g.MYSUB, Guard: g.MYG,
			Lower: !g.PeriodicY, Upper: !g.PeriodicY},
		NZ: g.MZSUB, ZGuard: g.MZG,
	}
}

// Times returns the output times of the run.
func (g Grid) Times() []float64 {
	t := make([]float64, g.NT)
	for i := range t { t[i] = g.T0 + float64(i)*g.DT }
	return t
}

// PerpIndex is the global y index stored in the FieldPerp variables.
func (g Grid) PerpIndex() int { return g.PerpRow*g.MYSUB + g.MYG }

// Run is the content of every file of a mock run.
type Run struct {
	Grid Grid
	// Vars[i] and Data[i] are the variables of processor i.
	Vars  [][]dataset.VarInfo
	Data  [][]*dataset.Array
	Attrs dataset.Attributes
	// Files are the paths written by the last call to Write.
	Files []string
}

// New generates the random content of a run.
func New(g Grid) *Run {
	r := &Run{Grid: g, Attrs: dataset.Attributes{"run_id": "mock"}}
	rng := rand.New(rand.NewSource(g.Seed))
	nx, ny, nz := g.MXSUB+2*g.MXG, g.MYSUB+2*g.MYG, g.MZSUB+2*g.MZG

	for i := 0; i < g.NXPE*g.NYPE; i++ {
		vars, data := []dataset.VarInfo{}, []*dataset.Array{}
		add := func(info dataset.VarInfo, arr *dataset.Array) {
			vars, data = append(vars, info), append(data, arr)
		}
		field := func(name, boutType string, dt dataset.DType, dims []string, shape []int) {
			arr := randomArray(rng, dt, shape)
			add(dataset.VarInfo{Name: name, DType: dt, Dims: dims,
				Shape: shape, Attrs: fieldAttrs(boutType)}, arr)
		}

		field(Field3DT, "Field3D_t", dataset.Float64,
			[]string{"t", "x", "y", "z"}, []int{g.NT, nx, ny, nz})
		field(Field3D, "Field3D", dataset.Float64,
			[]string{"x", "y", "z"}, []int{nx, ny, nz})
		field(Field2DT, "Field2D_t", dataset.Float32,
			[]string{"t", "x", "y"}, []int{g.NT, nx, ny})
		field(Field2D, "Field2D", dataset.Float64,
			[]string{"x", "y"}, []int{nx, ny})
		field(FieldPerpT, "FieldPerp_t", dataset.Float64,
			[]string{"t", "x", "z"}, []int{g.NT, nx, nz})
		field(FieldPerp, "FieldPerp", dataset.Float64,
			[]string{"x", "z"}, []int{nx, nz})

		_, py := i%g.NXPE, i/g.NXPE
		yind := int64(-1)
		if py == g.PerpRow { yind = int64(g.PerpIndex()) }
		for j := range vars {
			if vars[j].Axis("y") < 0 && vars[j].Axis("x") >= 0 {
				vars[j].Attrs["yindex_global"] = yind
			}
		}

		tarr, _ := dataset.FromData([]int{g.NT}, g.Times())
		add(dataset.VarInfo{Name: TimeVar, DType: dataset.Float64,
			Dims: []string{"t"}, Shape: []int{g.NT}, Attrs: dataset.Attributes{}}, tarr)
		add(dataset.VarInfo{Name: ScalarT, DType: dataset.Float64,
			Dims: []string{"t"}, Shape: []int{g.NT}, Attrs: dataset.Attributes{}},
			randomArray(rng, dataset.Float64, []int{g.NT}))

		scalars := []struct {
			name string
			v    int
		}{
			{"NXPE", g.NXPE}, {"NYPE", g.NYPE}, {"MXSUB", g.MXSUB},
			{"MYSUB", g.MYSUB}, {"MXG", g.MXG}, {"MYG", g.MYG},
			{"MZSUB", g.MZSUB}, {"MZG", g.MZG}, {"MZ", g.MZSUB},
			{"PE_XIND", i % g.NXPE}, {"PE_YIND", i / g.NXPE}, {"MYPE", i},
			{"periodicX", boolInt(g.PeriodicX)}, {"periodicY", boolInt(g.PeriodicY)},
		}
		for _, s := range scalars {
			arr, _ := dataset.FromData([]int{}, []int32{int32(s.v)})
			add(dataset.VarInfo{Name: s.name, DType: dataset.Int32,
				Dims: []string{}, Shape: []int{}, Attrs: dataset.Attributes{}}, arr)
		}
		version, _ := dataset.FromData([]int{}, []float64{4.31})
		add(dataset.VarInfo{Name: "BOUT_VERSION", DType: dataset.Float64,
			Dims: []string{}, Shape: []int{}, Attrs: dataset.Attributes{}}, version)

		r.Vars, r.Data = append(r.Vars, vars), append(r.Data, data)
	}
	return r
}

func boolInt(b bool) int {
	if b { return 1 }
	return 0
}

func fieldAttrs(boutType string) dataset.Attributes {
	dirZ := "Standard"
	if boutType == "Field2D" || boutType == "Field2D_t" { dirZ = "Average" }
	return dataset.Attributes{
		"cell_location": "CELL_CENTRE",
		"direction_y":   "Standard",
		"direction_z":   dirZ,
		"bout_type":     boutType,
	}
}

func randomArray(rng *rand.Rand, dt dataset.DType, shape []int) *dataset.Array {
	arr := dataset.NewArray(dt, shape)
	switch x := arr.Data.(type) {
	case []float64:
		for i := range x { x[i] = rng.Float64() }
	case []float32:
		for i := range x { x[i] = rng.Float32() }
	case []int32:
		for i := range x { x[i] = rng.Int31() }
	case []int64:
		for i := range x { x[i] = rng.Int63() }
	}
	return arr
}

// FileName returns the name of processor i's file.
func FileName(i int, ext string) string {
	return fmt.Sprintf("BOUT.dmp.%d%s", i, ext)
}

// Write writes every processor's file to dir with the given extension,
// e.g. ".sqsh".
func (r *Run) Write(s dataset.Store, dir, ext string) error {
	r.Files = r.Files[:0]
	for i := range r.Vars {
		fname := path.Join(dir, FileName(i, ext))
		if err := write(s, fname, r.Attrs, r.Vars[i], r.Data[i]); err != nil {
			return err
		}
		r.Files = append(r.Files, fname)
	}
	return nil
}

func write(s dataset.Store, fname string, attrs dataset.Attributes,
	vars []dataset.VarInfo, data []*dataset.Array) error {
	wr, err := s.Create(fname)
	if err != nil { return err }
	for _, k := range attrs.Keys() {
		if err := wr.SetAttribute(k, attrs[k]); err != nil { return err }
	}
	for i := range vars {
		if err := wr.Define(vars[i]); err != nil { return err }
	}
	for i := range vars {
		start := make([]int, vars[i].Rank())
		if err := wr.WriteSlice(vars[i].Name, start, data[i]); err != nil {
			return err
		}
	}
	return wr.Close()
}

// Info returns processor 0's metadata for a variable.
func (r *Run) Info(name string) dataset.VarInfo {
	for _, info := range r.Vars[0] {
		if info.Name == name { return info }
	}
	panic(fmt.Sprintf("The mock run has no variable '%s'.", name))
}

// Local returns processor i's copy of a variable.
func (r *Run) Local(i int, name string) *dataset.Array {
	for j, info := range r.Vars[i] {
		if info.Name == name { return r.Data[i][j] }
	}
	panic(fmt.Sprintf("The mock run has no variable '%s'.", name))
}

// Set replaces processor i's copy of a variable, e.g. to corrupt it.
func (r *Run) Set(i int, info dataset.VarInfo, arr *dataset.Array) {
	for j := range r.Vars[i] {
		if r.Vars[i][j].Name == info.Name {
			r.Vars[i][j], r.Data[i][j] = info, arr
			return
		}
	}
	r.Vars[i] = append(r.Vars[i], info)
	r.Data[i] = append(r.Data[i], arr)
}

// Remove deletes a variable from processor i's file.
func (r *Run) Remove(i int, name string) {
	for j := range r.Vars[i] {
		if r.Vars[i][j].Name == name {
			r.Vars[i] = append(r.Vars[i][:j], r.Vars[i][j+1:]...)
			r.Data[i] = append(r.Data[i][:j], r.Data[i][j+1:]...)
			return
		}
	}
}

// span is the part of one processor's local axis that a collection keeps.
func span(p, nprocs, sub, guard int, keep, periodic bool) (lo, hi int) {
	lo, hi = guard, guard+sub
	if keep && !periodic && p == 0 { lo = 0 }
	if keep && !periodic && p == nprocs-1 { hi = sub + 2*guard }
	return lo, hi
}

// Expected returns the global array a correct collection of name produces
// under policy p, over every time point.
func (r *Run) Expected(name string, p layout.GuardPolicy) *dataset.Array {
	g := r.Grid
	info := r.Info(name)
	ix, iy, iz := info.Axis("x"), info.Axis("y"), info.Axis("z")

	if ix < 0 && iy < 0 { return r.Local(0, name) }

	xSpan := func(px int) (int, int) {
		return span(px, g.NXPE, g.MXSUB, g.MXG, p.KeepsDomain("x"), g.PeriodicX)
	}
	ySpan := func(py int) (int, int) {
		return span(py, g.NYPE, g.MYSUB, g.MYG, p.KeepsDomain("y"), g.PeriodicY)
	}

	rows := []int{}
	for py := 0; py < g.NYPE; py++ {
		if iy >= 0 || py == g.PerpRow { rows = append(rows, py) }
	}

	shape := append([]int{}, info.Shape...)
	if iz >= 0 { shape[iz] = g.MZSUB }
	shape[ix] = 0
	for px := 0; px < g.NXPE; px++ {
		lo, hi := xSpan(px)
		shape[ix] += hi - lo
	}
	if iy >= 0 {
		shape[iy] = 0
		for py := 0; py < g.NYPE; py++ {
			lo, hi := ySpan(py)
			shape[iy] += hi - lo
		}
	}
	out := dataset.NewArray(info.DType, shape)

	yOff := 0
	for _, py := range rows {
		xOff := 0
		for px := 0; px < g.NXPE; px++ {
			local := r.Local(px+py*g.NXPE, name)
			srcStart := make([]int, len(shape))
			dstStart := make([]int, len(shape))
			count := append([]int{}, shape...)

			xlo, xhi := xSpan(px)
			srcStart[ix], dstStart[ix], count[ix] = xlo, xOff, xhi-xlo
			if iy >= 0 {
				ylo, yhi := ySpan(py)
				srcStart[iy], dstStart[iy], count[iy] = ylo, yOff, yhi-ylo
			}
			if iz >= 0 { srcStart[iz] = g.MZG }

			if err := dataset.CopyBlock(out, dstStart, local, srcStart, count); err != nil {
				panic(err.Error())
			}
			xOff += xhi - xlo
		}
		if iy >= 0 {
			ylo, yhi := ySpan(py)
			yOff += yhi - ylo
		}
	}
	return out
}
