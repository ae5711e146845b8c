/*package validate checks that the files of a run agree with one another before
any bulk data is read. Only metadata and decomposition scalars are
inspected.
*/
package validate

import (
	"fmt"

	"github.com/phil-mansfield/squash/lib/dataset"
	"github.com/phil-mansfield/squash/lib/eq"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/layout"
)

// PerpAttr is the attribute that gives the global y index of a FieldPerp.
// It is -1 on processors that do not hold the FieldPerp.
const PerpAttr = "yindex_global"

// perProcessorAttrs vary between processors and are not compared.
var perProcessorAttrs = map[string]bool{PerpAttr: true}

// Generation derives the layout of one generation from its first file and
// checks every other file against it. files must be in processor order.
func Generation(files []dataset.File) (*layout.Layout, error) {
	if len(files) == 0 {
		return nil, g_error.New(g_error.IncompleteGrid, "the generation "+
			"has no files")
	}
	l, err := layout.Derive(files[0])
	if err != nil { return nil, err }
	if err := checkCount(files, l); err != nil { return nil, err }

	for i, f := range files {
		if i > 0 {
			m, err := layout.Derive(f)
			if err != nil { return nil, err }
			if field, a, b, ok := l.Diff(m); !ok {
				return nil, g_error.New(g_error.LayoutMismatch, "%s is %v, "+
					"but %v in %s", field, b, a, files[0].Path(),
				).InFile(f.Path()).OnField(field)
			}
		}
		if err := checkPosition(f, l, i); err != nil { return nil, err }
	}
	return l, nil
}

// GenerationWith checks the files of one generation against a layout that
// was given explicitly instead of derived. The files need not hold any
// decomposition scalars, but those they do hold must place them in the
// process grid of l.
func GenerationWith(files []dataset.File, l *layout.Layout) error {
	if len(files) == 0 {
		return g_error.New(g_error.IncompleteGrid, "the generation has no "+
			"files")
	}
	if err := checkCount(files, l); err != nil { return err }

	for i, f := range files {
		for _, v := range []struct {
			name string
			want int
		}{{"NXPE", l.X.NProcs}, {"NYPE", l.Y.NProcs}} {
			n, ok, err := layout.Int(f, v.name)
			if err != nil { return err }
			if ok && n != v.want {
				return g_error.New(g_error.LayoutMismatch, "%s is %d, but "+
					"the given layout has %d", v.name, n, v.want,
				).InFile(f.Path()).OnField(v.name)
			}
		}
		if err := checkPosition(f, l, i); err != nil { return err }
	}
	return nil
}

func checkCount(files []dataset.File, l *layout.Layout) error {
	if len(files) == l.NProcs() { return nil }
	return g_error.New(g_error.IncompleteGrid, "the %dx%d process grid "+
		"needs %d files, but the generation has %d", l.X.NProcs, l.Y.NProcs,
		l.NProcs(), len(files)).InFile(files[0].Path())
}

// checkPosition compares PE_XIND/PE_YIND, if present, with the position
// implied by the file's processor index.
func checkPosition(f dataset.File, l *layout.Layout, i int) error {
	px, py := l.Proc(i)
	for _, pos := range []struct {
		name string
		want int
	}{{"PE_XIND", px}, {"PE_YIND", py}} {
		v, ok, err := layout.Int(f, pos.name)
		if err != nil { return err }
		if ok && v != pos.want {
			return g_error.New(g_error.LayoutMismatch, "processor %d of a "+
				"%dx%d grid should have %s = %d, but it is %d", i, l.X.NProcs,
				l.Y.NProcs, pos.name, pos.want, v).InFile(f.Path()).OnField(pos.name)
		}
	}
	return nil
}

// Across checks that a later generation has the same layout as the first.
func Across(first, l *layout.Layout, dir string) error {
	if field, a, b, ok := first.Diff(l); !ok {
		return g_error.New(g_error.LayoutMismatch, "%s is %v in this "+
			"generation, but %v in the first generation", field, b, a,
		).InFile(dir).OnField(field)
	}
	return nil
}

// Variables checks that every named variable is present in every file with
// the same dtype, dimensions, attributes and local shape, and that its local
// shape matches the layout. Names are matched case-insensitively if there is
// no exact match. It returns processor 0's metadata for each variable.
func Variables(files []dataset.File, l *layout.Layout, names []string) ([]dataset.VarInfo, error) {
	out := make([]dataset.VarInfo, len(names))
	for j, name := range names {
		ref, ok := dataset.Lookup(files[0], name)
		if !ok { return nil, missing(files[0], name) }
		if err := LocalShape(ref, l); err != nil {
			return nil, err.InFile(files[0].Path())
		}

		for _, f := range files[1:] {
			info, ok := f.Info(ref.Name)
			if !ok { return nil, missing(f, ref.Name) }
			if err := Compatible(ref, info, true); err != nil {
				return nil, err.InFile(f.Path())
			}
		}
		out[j] = ref
	}
	return out, nil
}

func missing(f dataset.File, name string) *g_error.Error {
	return g_error.New(g_error.MissingVariable, "the variable '%s' is not "+
		"in the file", name).InFile(f.Path()).OnField(name)
}

// Compatible checks that info can be joined with ref. If sameTime is false
// the length of a "t" axis may differ, as it does between generations.
func Compatible(ref, info dataset.VarInfo, sameTime bool) *g_error.Error {
	name := ref.Name
	if info.DType != ref.DType {
		return g_error.New(g_error.DtypeMismatch, "the variable '%s' is "+
			"%s, but %s elsewhere", name, info.DType, ref.DType).OnField(name)
	}
	if !eq.Strings(info.Dims, ref.Dims) {
		return g_error.New(g_error.LayoutMismatch, "the variable '%s' has "+
			"dimensions %v, but %v elsewhere", name, info.Dims,
			ref.Dims).OnField(name)
	}
	for i := range ref.Shape {
		if !sameTime && ref.Dims[i] == "t" { continue }
		if info.Shape[i] != ref.Shape[i] {
			return g_error.New(g_error.LayoutMismatch, "the variable '%s' "+
				"has shape %v, but %v elsewhere", name, info.Shape,
				ref.Shape).OnField(name)
		}
	}
	for _, k := range ref.Attrs.Keys() {
		if perProcessorAttrs[k] { continue }
		v, ok := info.Attrs[k]
		if !ok || !eq.Generic(v, ref.Attrs[k]) {
			return g_error.New(g_error.LayoutMismatch, "the attribute "+
				"%s:%s is %v, but %v elsewhere", name, k, v,
				ref.Attrs[k]).OnField(fmt.Sprintf("%s:%s", name, k))
		}
	}
	for _, k := range info.Attrs.Keys() {
		if _, ok := ref.Attrs[k]; !ok && !perProcessorAttrs[k] {
			return g_error.New(g_error.LayoutMismatch, "the attribute "+
				"%s:%s is only in some files", name, k,
			).OnField(fmt.Sprintf("%s:%s", name, k))
		}
	}
	return nil
}

// LocalShape checks the x, y and z extents of a per-process variable
// against the layout.
func LocalShape(info dataset.VarInfo, l *layout.Layout) *g_error.Error {
	for i, dim := range info.Dims {
		want := -1
		switch dim {
		case "x": want = l.X.Local()
		case "y": want = l.Y.Local()
		case "z":
			if l.NZ > 0 { want = l.NZ + 2*l.ZGuard }
		}
		if want >= 0 && info.Shape[i] != want {
			return g_error.New(g_error.LayoutMismatch, "the variable '%s' "+
				"has %d cells along %s, but the layout (%s) gives each "+
				"process %d", info.Name, info.Shape[i], dim, l, want,
			).OnField(info.Name)
		}
	}
	return nil
}

// PerpRow finds the row of processors that holds a FieldPerp variable, which
// is stored on every processor but only meaningful where its yindex_global
// attribute is non-negative. It returns row -1 if no processor holds it.
func PerpRow(files []dataset.File, l *layout.Layout, name string) (row int, yindex int64, err error) {
	row, yindex = -1, -1
	for i, f := range files {
		info, ok := f.Info(name)
		if !ok { return 0, 0, missing(f, name) }
		y, ok := info.Attrs.Int(PerpAttr)
		if !ok { y = -1 }

		_, py := l.Proc(i)
		switch {
		case y < 0 && row == py:
			return 0, 0, g_error.New(g_error.LayoutMismatch, "processor %d "+
				"does not hold the FieldPerp '%s', but other processors in "+
				"its row do", i, name).InFile(f.Path()).OnField(name)
		case y < 0:
			continue
		case row < 0 && i%l.X.NProcs != 0:
			return 0, 0, g_error.New(g_error.LayoutMismatch, "processor %d "+
				"holds the FieldPerp '%s', but the first processor in its "+
				"row does not", i, name).InFile(f.Path()).OnField(name)
		case row < 0:
			row, yindex = py, y
		case row != py || y != yindex:
			return 0, 0, g_error.New(g_error.LayoutMismatch, "the FieldPerp "+
				"'%s' is at y index %d on processor %d, but at y index %d "+
				"on processor row %d", name, y, i, yindex, row,
			).InFile(f.Path()).OnField(name)
		}
	}
	return row, yindex, nil
}
