package layout

import (
	"math"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
)

// Default guard widths used when a file does not record them. Dump files
// only carry z guard cells when BOUT++ records MZG, so z defaults to none.
const (
	DefaultMXG = 2
	DefaultMYG = 2
	DefaultMZG = 0
)

// Int reads an integer-valued scalar variable from f. ok is false if the
// variable does not exist.
func Int(f dataset.File, name string) (v int, ok bool, err error) {
	x, ok, err := dataset.ReadScalar(f, name)
	if err != nil || !ok { return 0, ok, g_error.IO(f.Path(), err) }
	if x != math.Trunc(x) {
		return 0, true, g_error.New(g_error.LayoutMismatch, "%s should be "+
			"an integer, but is %g", name, x).InFile(f.Path()).OnField(name)
	}
	return int(x), true, nil
}

func intOr(f dataset.File, name string, def int) (int, error) {
	v, ok, err := Int(f, name)
	if err != nil { return 0, err }
	if !ok { return def, nil }
	return v, nil
}

func required(f dataset.File, name string) (int, error) {
	v, ok, err := Int(f, name)
	if err != nil { return 0, err }
	if !ok {
		return 0, g_error.New(g_error.MissingVariable, "the decomposition "+
			"scalar %s is not in the file", name).InFile(f.Path()).OnField(name)
	}
	return v, nil
}

// localExtent returns the local length of dim in the first variable that
// has it, preferring variables that are decomposed along both x and y.
func localExtent(f dataset.File, dim string) (int, bool) {
	best, found := 0, false
	for _, name := range f.Variables() {
		info, _ := f.Info(name)
		i := info.Axis(dim)
		if i < 0 { continue }
		if info.Axis("x") >= 0 && info.Axis("y") >= 0 {
			return info.Shape[i], true
		}
		if !found { best, found = info.Shape[i], true }
	}
	return best, found
}

// interior splits the local length of an axis into interior cells and the
// guard width at each end. An axis too short for two guard regions has a
// single interior cell, with no guards if its local length is 1 and one at
// each end if it is 3.
func interior(local, guard int) (sub, g int) {
	sub = local - 2*guard
	if sub >= 0 { return sub, guard }
	switch local {
	case 1: return 1, 0
	case 3: return 1, 1
	}
	return sub, guard
}

// Derive reads the decomposition of a run from one of its files. Guard
// widths default to DefaultMXG, DefaultMYG and DefaultMZG. When MXSUB or
// MYSUB is missing it is inferred from the local shape of a field with
// interior. An axis is periodic, and so has no domain boundaries, if the
// scalar periodicX/periodicY is non-zero. Runs decomposed in z (NZPE > 1)
// are rejected.
func Derive(f dataset.File) (*Layout, error) {
	l := &Layout{X: Axis{Name: "x"}, Y: Axis{Name: "y"}}
	var err error

	if l.X.NProcs, err = required(f, "NXPE"); err != nil { return nil, err }
	if l.Y.NProcs, err = required(f, "NYPE"); err != nil { return nil, err }
	nzpe, err := intOr(f, "NZPE", 1)
	if err != nil { return nil, err }
	if nzpe != 1 {
		return nil, g_error.New(g_error.LayoutMismatch, "NZPE is %d, but "+
			"only runs that are not decomposed in z can be collected",
			nzpe).InFile(f.Path()).OnField("NZPE")
	}
	if l.X.Guard, err = intOr(f, "MXG", DefaultMXG); err != nil { return nil, err }
	if l.Y.Guard, err = intOr(f, "MYG", DefaultMYG); err != nil { return nil, err }
	if l.ZGuard, err = intOr(f, "MZG", DefaultMZG); err != nil { return nil, err }

	for _, ax := range []struct {
		axis *Axis
		sub  string
	}{{&l.X, "MXSUB"}, {&l.Y, "MYSUB"}} {
		v, ok, err := Int(f, ax.sub)
		if err != nil { return nil, err }
		if ok {
			ax.axis.Sub = v
			continue
		}
		local, found := localExtent(f, ax.axis.Name)
		if !found {
			return nil, g_error.New(g_error.MissingVariable, "%s is not in "+
				"the file and no variable has a '%s' dimension to infer it "+
				"from", ax.sub, ax.axis.Name).InFile(f.Path()).OnField(ax.sub)
		}
		ax.axis.Sub, ax.axis.Guard = interior(local, ax.axis.Guard)
	}

	if v, ok, err := Int(f, "MZSUB"); err != nil {
		return nil, err
	} else if ok {
		l.NZ = v
	} else if local, found := localExtent(f, "z"); found {
		l.NZ, l.ZGuard = interior(local, l.ZGuard)
	} else if l.NZ, err = intOr(f, "MZ", 0); err != nil {
		return nil, err
	}

	for _, ax := range []struct {
		axis *Axis
		name string
	}{{&l.X, "periodicX"}, {&l.Y, "periodicY"}} {
		periodic, err := intOr(f, ax.name, 0)
		if err != nil { return nil, err }
		ax.axis.Lower, ax.axis.Upper = periodic == 0, periodic == 0
	}

	if err := l.Check(); err != nil {
		if e, ok := err.(*g_error.Error); ok { return nil, e.InFile(f.Path()) }
		return nil, err
	}
	return l, nil
}
