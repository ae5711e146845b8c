/*package assemble maps the local arrays of every processor onto a single
global array.

Each processor's file holds its interior cells plus guard cells on every
side. Guard cells that face a neighbouring processor are always dropped,
since the neighbour's interior owns those cells and no averaging is done.
Guard cells at a real domain boundary are kept only if the GuardPolicy asks
for them. z guard cells are always dropped.

Processors are visited in raster order: processor i sits at
px = i % NXPE, py = i / NXPE, so x varies fastest.
*/
package assemble

import (
	"fmt"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/layout"
)

// Plan describes how one variable of one run is assembled. A Plan is
// immutable and can be used with every generation of the run.
type Plan struct {
	Name  string
	DType dataset.DType
	Dims  []string
	// Shape is the shape of the assembled variable. The length of the "t"
	// axis, if any, is left as zero; callers choose how many time points to
	// read at once.
	Shape []int
	// TAxis is the index of the "t" axis or -1.
	TAxis int

	layout *layout.Layout
	policy layout.GuardPolicy
	// region[i] selects global cells along axis i. Ignored for "t".
	region []dataset.Slice
	// local is the expected local shape. The "t" entry is ignored.
	local []int
	ix, iy, iz int
	// row is the processor row read by variables with x but no y.
	row int
}

// Options are the optional parts of a Plan.
type Options struct {
	Guards layout.GuardPolicy
	// Region restricts the assembled array to part of the global array,
	// keyed by dimension name. Indices refer to the global array after the
	// guard policy has been applied. Missing axes are read whole.
	Region map[string]dataset.Slice
	// PerpRow is the processor row that holds a variable decomposed in x
	// only, e.g. a FieldPerp. Negative means no row holds it and the
	// assembled array is zero.
	PerpRow int
}

// Full returns the extents of the assembled variable before any region is
// applied. The "t" extent is zero.
func Full(l *layout.Layout, info dataset.VarInfo, p layout.GuardPolicy) []int {
	full := make([]int, info.Rank())
	for i, dim := range info.Dims {
		switch dim {
		case "t": full[i] = 0
		case "x": full[i] = l.X.Global(p)
		case "y": full[i] = l.Y.Global(p)
		case "z":
			full[i] = info.Shape[i] - 2*l.ZGuard
			if l.NZ > 0 { full[i] = l.NZ }
		default: full[i] = info.Shape[i]
		}
	}
	return full
}

// NewPlan creates the plan for a variable whose per-processor metadata is
// info. The layout and info must already be validated.
func NewPlan(l *layout.Layout, info dataset.VarInfo, opt Options) (*Plan, error) {
	if err := opt.Guards.Check(); err != nil { return nil, err }

	p := &Plan{
		Name: info.Name, DType: info.DType,
		Dims: append([]string{}, info.Dims...),
		TAxis: info.Axis("t"), layout: l, policy: opt.Guards,
		local: append([]int{}, info.Shape...),
		ix: info.Axis("x"), iy: info.Axis("y"), iz: info.Axis("z"),
		row: opt.PerpRow,
	}
	if p.ix < 0 { p.row = 0 }

	full := Full(l, info, opt.Guards)
	p.Shape = make([]int, len(full))
	p.region = make([]dataset.Slice, len(full))
	for i, dim := range p.Dims {
		if i == p.TAxis { continue }
		s, ok := opt.Region[dim]
		if !ok { s = dataset.All(full[i]) }
		if s.Stride <= 0 { s.Stride = 1 }
		if s.Count < 1 || s.Start < 0 || s.Last() >= full[i] {
			return nil, g_error.New(g_error.IndexOutOfRange, "the region "+
				"[%d:%d:%d] of '%s' is outside its %s axis, which has %d "+
				"cells", s.Start, s.Start+s.Count*s.Stride, s.Stride,
				info.Name, dim, full[i]).OnField(info.Name)
		}
		p.region[i], p.Shape[i] = s, s.Count
	}
	for dim := range opt.Region {
		if dim != "t" && info.Axis(dim) < 0 {
			return nil, g_error.New(g_error.Config, "the variable '%s' has "+
				"no '%s' axis to select a region of", info.Name, dim)
		}
	}
	return p, nil
}

// ChunkShape returns the shape of nt assembled time points, or of the whole
// variable if it has no time axis.
func (p *Plan) ChunkShape(nt int) []int {
	shape := append([]int{}, p.Shape...)
	if p.TAxis >= 0 { shape[p.TAxis] = nt }
	return shape
}

// FrameBytes returns the size of one assembled time point.
func (p *Plan) FrameBytes() int {
	return dataset.Volume(p.ChunkShape(1)) * p.DType.Size()
}

// procBlock is the part of one processor's local array that lands in the
// assembled array.
type procBlock struct {
	proc     int
	sel      []dataset.Slice
	dstStart []int
}

// blocks returns the processors that contribute to the assembled array.
// Processors outside the region are left out.
func (p *Plan) blocks(t dataset.Slice, dstT int) []procBlock {
	out := []procBlock{}
	if p.ix >= 0 && p.iy < 0 && p.row < 0 { return out }

	l := p.layout
	for i := 0; i < l.NProcs(); i++ {
		px, py := l.Proc(i)
		if (p.ix < 0 && px != 0) || (p.iy < 0 && py != p.row) { continue }

		b := procBlock{proc: i, sel: make([]dataset.Slice, len(p.Dims)),
			dstStart: make([]int, len(p.Dims))}
		empty := false
		for d, dim := range p.Dims {
			r := p.region[d]
			switch {
			case d == p.TAxis:
				b.sel[d], b.dstStart[d] = t, dstT
			case dim == "x" || dim == "y":
				ax, pos := &l.X, px
				if dim == "y" { ax, pos = &l.Y, py }
				srcLo, srcHi, dst := ax.Block(pos, p.policy)
				k0, k1 := r.Overlap(dst, dst+srcHi-srcLo)
				if k0 == k1 {
					empty = true
					break
				}
				b.sel[d] = dataset.Slice{Start: srcLo + r.Index(k0) - dst,
					Count: k1 - k0, Stride: r.Stride}
				b.dstStart[d] = k0
			case d == p.iz:
				b.sel[d] = dataset.Slice{Start: r.Start + l.ZGuard,
					Count: r.Count, Stride: r.Stride}
			default:
				b.sel[d] = r
			}
		}
		if !empty { out = append(out, b) }
	}
	return out
}

// Read assembles the local time points t of every processor into dst,
// placing the first one at index dstT of dst's time axis. files must be the
// files of one generation in processor order. For variables without a time
// axis t and dstT are ignored.
func (p *Plan) Read(files []dataset.File, t dataset.Slice, dst *dataset.Array, dstT int) error {
	if len(files) != p.layout.NProcs() {
		return fmt.Errorf("Internal error: %d files were given to a plan "+
			"for %d processors.", len(files), p.layout.NProcs())
	}
	if dst.DType() != p.DType || len(dst.Shape) != len(p.Shape) {
		return fmt.Errorf("A rank-%d %s destination was given to the "+
			"rank-%d %s variable '%s'.", len(dst.Shape), dst.DType(),
			len(p.Shape), p.DType, p.Name)
	}

	for _, b := range p.blocks(t, dstT) {
		f := files[b.proc]
		if err := p.checkLocal(f, t); err != nil { return err }

		arr, err := f.ReadSlice(p.Name, b.sel)
		if err != nil { return g_error.IO(f.Path(), err) }
		if arr.DType() != p.DType {
			return g_error.New(g_error.DtypeMismatch, "'%s' was read as %s, "+
				"but it should be %s", p.Name, arr.DType(), p.DType,
			).InFile(f.Path()).OnField(p.Name)
		}
		for d := range b.sel {
			if len(arr.Shape) != len(b.sel) || arr.Shape[d] != b.sel[d].Count {
				return g_error.New(g_error.ShapeMismatch, "reading %v from "+
					"'%s' returned shape %v", b.sel, p.Name, arr.Shape,
				).InFile(f.Path()).OnField(p.Name)
			}
		}

		err = dataset.CopyBlock(dst, b.dstStart, arr, make([]int, len(arr.Shape)), arr.Shape)
		if err != nil {
			return g_error.New(g_error.IndexOutOfRange, "the block of '%s' "+
				"from this file does not fit in the destination: %s",
				p.Name, err.Error()).InFile(f.Path()).OnField(p.Name)
		}
	}
	return nil
}

// checkLocal compares the declared shape of the variable in f with the
// shape the plan was made for.
func (p *Plan) checkLocal(f dataset.File, t dataset.Slice) error {
	info, ok := f.Info(p.Name)
	if !ok {
		return g_error.New(g_error.MissingVariable, "the variable '%s' is "+
			"not in the file", p.Name).InFile(f.Path()).OnField(p.Name)
	}
	bad := info.Rank() != len(p.local)
	for d := 0; !bad && d < len(p.local); d++ {
		if d != p.TAxis && info.Shape[d] != p.local[d] { bad = true }
	}
	if bad {
		return g_error.New(g_error.ShapeMismatch, "'%s' has local shape %v, "+
			"but the run's layout gives %v", p.Name, info.Shape, p.local,
		).InFile(f.Path()).OnField(p.Name)
	}
	if p.TAxis >= 0 && t.Count > 0 && t.Last() >= info.Shape[p.TAxis] {
		return g_error.New(g_error.IndexOutOfRange, "time index %d of '%s' "+
			"was requested, but the file only has %d time points", t.Last(),
			p.Name, info.Shape[p.TAxis]).InFile(f.Path()).OnField(p.Name)
	}
	return nil
}
