/*package layout describes how a global simulation domain is decomposed over a
grid of processes and how each process's local array (which includes guard
cells) maps onto the global array.

The x and y axes are decomposed. Processor i of an NXPE x NYPE grid sits at
px = i % NXPE, py = i / NXPE and owns Sub interior cells along each axis,
surrounded by Guard guard cells on both sides. The z axis is never
decomposed; each process holds all of it plus MZG guard cells at each end,
which are always trimmed.
*/
package layout

import (
	"fmt"

	g_error "github.com/phil-mansfield/squash/lib/error"
)

// Axis describes the decomposition of one spatial axis.
type Axis struct {
	Name string
	// NProcs is the number of processes along the axis and Sub is the
	// number of interior cells each of them owns.
	NProcs, Sub int
	// Guard is the width of the guard region on each side of every local
	// array.
	Guard int
	// Lower and Upper are true if the low and high ends of the axis are
	// real domain boundaries rather than periodic wraps.
	Lower, Upper bool
}

// Local returns the length of this axis in each per-process file.
func (a Axis) Local() int { return a.Sub + 2*a.Guard }

// Interior returns the global length of the axis without any guard cells.
func (a Axis) Interior() int { return a.NProcs * a.Sub }

// Retained returns the number of guard cells kept at the low and high ends
// of the global axis under policy p.
func (a Axis) Retained(p GuardPolicy) (lo, hi int) {
	if !p.KeepsDomain(a.Name) { return 0, 0 }
	if a.Lower { lo = a.Guard }
	if a.Upper { hi = a.Guard }
	return lo, hi
}

// Global returns the length of the assembled axis under policy p.
func (a Axis) Global(p GuardPolicy) int {
	lo, hi := a.Retained(p)
	return a.Interior() + lo + hi
}

// Block gives the part of processor p's local axis that lands in the global
// array: local cells [srcLo, srcHi) are copied to global cells starting at
// dst. Guard cells facing a neighbour are always dropped, since the
// neighbour's interior owns those cells.
func (a Axis) Block(p int, policy GuardPolicy) (srcLo, srcHi, dst int) {
	lo, hi := a.Retained(policy)
	srcLo, srcHi = a.Guard, a.Guard+a.Sub
	dst = p*a.Sub + lo
	if p == 0 {
		srcLo -= lo
		dst -= lo
	}
	if p == a.NProcs-1 { srcHi += hi }
	return srcLo, srcHi, dst
}

// Check returns an error if the axis is not a valid decomposition.
func (a Axis) Check() error {
	if a.NProcs < 1 {
		return g_error.New(g_error.LayoutMismatch, "the %s axis is split "+
			"over %d processes", a.Name, a.NProcs).OnField(a.Name)
	} else if a.Sub < 1 {
		return g_error.New(g_error.LayoutMismatch, "each process owns %d "+
			"interior cells along the %s axis", a.Sub, a.Name).OnField(a.Name)
	} else if a.Guard < 0 {
		return g_error.New(g_error.LayoutMismatch, "the %s axis has a "+
			"negative guard width, %d", a.Name, a.Guard).OnField(a.Name)
	}
	return nil
}

// Layout is the decomposition of a run, the RunLayout of a collection. It
// is immutable once derived.
type Layout struct {
	X, Y Axis
	// NZ is the number of interior z cells (zero if the run has no z
	// axis) and ZGuard is the number of z guard cells at each end.
	NZ, ZGuard int
}

// NProcs returns the number of processes, and so of files, in the grid.
func (l *Layout) NProcs() int { return l.X.NProcs * l.Y.NProcs }

// Proc returns the grid position of processor i.
func (l *Layout) Proc(i int) (px, py int) {
	return i % l.X.NProcs, i / l.X.NProcs
}

// Index is the inverse of Proc.
func (l *Layout) Index(px, py int) int { return px + py*l.X.NProcs }

// Axis returns the named decomposed axis.
func (l *Layout) Axis(dim string) (*Axis, bool) {
	switch dim {
	case "x": return &l.X, true
	case "y": return &l.Y, true
	}
	return nil, false
}

// Check returns an error if the layout is not a valid decomposition.
func (l *Layout) Check() error {
	if err := l.X.Check(); err != nil { return err }
	if err := l.Y.Check(); err != nil { return err }
	if l.NZ < 0 || l.ZGuard < 0 {
		return g_error.New(g_error.LayoutMismatch, "the z axis has %d "+
			"interior cells and %d guard cells", l.NZ, l.ZGuard).OnField("z")
	}
	return nil
}

// Diff compares two layouts and returns the name and both values of the
// first field that differs. ok is true if they agree.
func (l *Layout) Diff(m *Layout) (field string, a, b interface{}, ok bool) {
	fields := []struct {
		name string
		a, b interface{}
	}{
		{"NXPE", l.X.NProcs, m.X.NProcs},
		{"NYPE", l.Y.NProcs, m.Y.NProcs},
		{"MXSUB", l.X.Sub, m.X.Sub},
		{"MYSUB", l.Y.Sub, m.Y.Sub},
		{"MXG", l.X.Guard, m.X.Guard},
		{"MYG", l.Y.Guard, m.Y.Guard},
		{"MZ", l.NZ, m.NZ},
		{"MZG", l.ZGuard, m.ZGuard},
		{"x boundaries", [2]bool{l.X.Lower, l.X.Upper}, [2]bool{m.X.Lower, m.X.Upper}},
		{"y boundaries", [2]bool{l.Y.Lower, l.Y.Upper}, [2]bool{m.Y.Lower, m.Y.Upper}},
	}
	for _, f := range fields {
		if f.a != f.b { return f.name, f.a, f.b, false }
	}
	return "", nil, nil, true
}

func (l *Layout) String() string {
	return fmt.Sprintf("%dx%d processes, %dx%d interior cells each, "+
		"guards (x=%d, y=%d, z=%d), nz=%d",
		l.X.NProcs, l.Y.NProcs, l.X.Sub, l.Y.Sub,
		l.X.Guard, l.Y.Guard, l.ZGuard, l.NZ)
}

// GuardPolicy controls which guard cells survive assembly.
type GuardPolicy struct {
	// KeepInteriorGuards would keep guard cells between neighbouring
	// processes. Those cells duplicate the neighbour's interior, so it is
	// rejected by Check.
	KeepInteriorGuards bool
	// KeepDomainGuards keeps guard cells at real domain boundaries.
	KeepDomainGuards bool
	// Axes restricts KeepDomainGuards to the named axes. Empty means every
	// decomposed axis.
	Axes []string
}

// Check returns an error if the policy cannot be honoured.
func (p GuardPolicy) Check() error {
	if p.KeepInteriorGuards {
		return g_error.New(g_error.Config, "keeping guard cells between "+
			"neighbouring processes is not supported, since they duplicate "+
			"the neighbour's interior")
	}
	for _, ax := range p.Axes {
		if ax != "x" && ax != "y" {
			return g_error.New(g_error.Config, "guard cells can only be kept "+
				"along the decomposed axes 'x' and 'y', not '%s'", ax)
		}
	}
	return nil
}

// KeepsDomain reports whether domain-boundary guards are kept along axis.
func (p GuardPolicy) KeepsDomain(axis string) bool {
	if !p.KeepDomainGuards { return false }
	if len(p.Axes) == 0 { return true }
	for _, ax := range p.Axes {
		if ax == axis { return true }
	}
	return false
}

func (p GuardPolicy) String() string {
	switch {
	case !p.KeepDomainGuards: return "trim"
	case len(p.Axes) == 0: return "keep-boundaries"
	}
	return fmt.Sprintf("keep-boundaries%v", p.Axes)
}
