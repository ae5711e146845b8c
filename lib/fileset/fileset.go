/*package fileset finds the per-process dump files of a run and groups them
into restart generations.

A generation is one directory holding one file per process, named
<prefix>.<i>.<ext> where i is the processor index. Each generation must cover
the whole NXPE x NYPE process grid exactly once. Generations are put in
chronological order by an OrderKey.
*/
package fileset

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/layout"
)

// DefaultPrefix is the file prefix BOUT++ gives its dump files.
const DefaultPrefix = "BOUT.dmp"

// Generation is one complete set of per-process files.
type Generation struct {
	// Dir is the directory that holds the files.
	Dir string
	// Files[i] is the path of processor i's file.
	Files []string
	// NXPE and NYPE are the process grid dimensions recorded in the files.
	NXPE, NYPE int
	// Key is the generation's ordering key.
	Key float64
}

// Resolver finds the generations of a run. It is safe to use a single
// Resolver from multiple goroutines.
type Resolver struct {
	Store dataset.Store
	// Prefix is the dump file prefix. Empty means DefaultPrefix.
	Prefix string
	// Order puts generations in chronological order. Nil means
	// FirstTimeKey, or ExplicitKey when generations are listed explicitly.
	Order OrderKey
	// Layout, if set, gives the process grid so that files need not record
	// NXPE and NYPE.
	Layout *layout.Layout
}

func (r *Resolver) prefix() string {
	if r.Prefix == "" { return DefaultPrefix }
	return r.Prefix
}

// ProcIndex parses the processor index out of a dump file name. ok is false
// if name is not a dump file with the given prefix. Dump files without an
// index, like "BOUT.dmp.nc", have index -1.
func ProcIndex(prefix, name string) (i int, ok bool) {
	if !dataset.Supported(name) { return 0, false }
	base := strings.TrimSuffix(name, path.Ext(name))
	if base == prefix { return -1, true }
	if !strings.HasPrefix(base, prefix+".") { return 0, false }

	mid := strings.TrimPrefix(base, prefix+".")
	i, err := strconv.Atoi(mid)
	if err != nil || i < 0 || strconv.Itoa(i) != mid { return 0, false }
	return i, true
}

// Resolve returns the generations of the run stored under root in
// chronological order. If dirs is non-empty, each entry is a generation
// directory and root is ignored. Otherwise root is either a single dump file,
// a directory of dump files, or a directory whose subdirectories are
// generations.
func (r *Resolver) Resolve(root string, dirs []string) ([]*Generation, error) {
	order := r.Order
	var gens []*Generation

	switch {
	case len(dirs) > 0:
		if order == nil { order = ExplicitKey(dirs) }
		for _, dir := range dirs {
			g, err := r.scan(dir)
			if err != nil { return nil, err }
			if g == nil {
				return nil, g_error.New(g_error.IncompleteGrid, "the "+
					"generation directory contains no files named "+
					"%s.<i>.<ext>", r.prefix()).InFile(dir)
			}
			gens = append(gens, g)
		}
	case dataset.Supported(root):
		g, err := r.single(root)
		if err != nil { return nil, err }
		gens = append(gens, g)
	default:
		g, err := r.scan(root)
		if err != nil { return nil, err }
		if g != nil {
			gens = append(gens, g)
			break
		}
		if gens, err = r.scanChildren(root); err != nil { return nil, err }
	}

	if order == nil { order = FirstTimeKey{} }
	if err := r.sort(gens, order); err != nil { return nil, err }
	return gens, nil
}

// scanChildren treats every subdirectory of root that contains dump files as
// a generation.
func (r *Resolver) scanChildren(root string) ([]*Generation, error) {
	entries, err := r.Store.List(root)
	if err != nil { return nil, g_error.IO(root, err) }

	gens := []*Generation{}
	for _, e := range entries {
		if !e.IsDir { continue }
		g, err := r.scan(path.Join(root, e.Name))
		if err != nil { return nil, err }
		if g != nil { gens = append(gens, g) }
	}
	if len(gens) == 0 {
		return nil, g_error.New(g_error.IncompleteGrid, "no files named "+
			"%s.<i>.<ext> were found in the directory or any of its "+
			"subdirectories", r.prefix()).InFile(root)
	}
	return gens, nil
}

// scan builds the generation stored in dir. It returns nil if dir holds no
// dump files.
func (r *Resolver) scan(dir string) (*Generation, error) {
	entries, err := r.Store.List(dir)
	if err != nil { return nil, g_error.IO(dir, err) }

	indexed := map[int]string{}
	unindexed := []string{}
	for _, e := range entries {
		if e.IsDir { continue }
		i, ok := ProcIndex(r.prefix(), e.Name)
		if !ok { continue }
		fname := path.Join(dir, e.Name)

		if i < 0 {
			unindexed = append(unindexed, fname)
		} else if prev, ok := indexed[i]; ok {
			return nil, g_error.New(g_error.AmbiguousFile, "processor %d "+
				"has two files, %s and %s", i, prev, fname).InFile(fname)
		} else {
			indexed[i] = fname
		}
	}

	switch {
	case len(indexed) == 0 && len(unindexed) == 0:
		return nil, nil
	case len(indexed) == 0 && len(unindexed) == 1:
		return r.single(unindexed[0])
	case len(indexed) == 0:
		return nil, g_error.New(g_error.AmbiguousFile, "the directory "+
			"holds several unnumbered dump files, %s",
			strings.Join(unindexed, ", ")).InFile(dir)
	}

	nxpe, nype, err := r.grid(indexed)
	if err != nil { return nil, err }
	g := &Generation{Dir: dir, NXPE: nxpe, NYPE: nype}
	g.Files = make([]string, nxpe*nype)

	missing := []string{}
	for i := range g.Files {
		fname, ok := indexed[i]
		if !ok {
			missing = append(missing, strconv.Itoa(i))
			continue
		}
		g.Files[i] = fname
		delete(indexed, i)
	}
	if len(missing) > 0 {
		return nil, g_error.New(g_error.IncompleteGrid, "the %dx%d process "+
			"grid has no file for processor(s) %s", nxpe, nype,
			strings.Join(missing, ", ")).InFile(dir)
	}
	if len(indexed) > 0 {
		extra := []int{}
		for i := range indexed { extra = append(extra, i) }
		sort.Ints(extra)
		return nil, g_error.New(g_error.AmbiguousFile, "processor index %d "+
			"is outside the %dx%d process grid", extra[0], nxpe,
			nype).InFile(indexed[extra[0]])
	}
	return g, nil
}

// single builds a generation from one unnumbered file, such as the output of
// a previous squash.
func (r *Resolver) single(fname string) (*Generation, error) {
	nxpe, nype, err := r.readGrid(fname)
	if err != nil { return nil, err }
	if nxpe*nype != 1 {
		return nil, g_error.New(g_error.IncompleteGrid, "the file is the "+
			"only one in its generation, but records a %dx%d process grid",
			nxpe, nype).InFile(fname)
	}
	return &Generation{
		Dir: path.Dir(fname), Files: []string{fname}, NXPE: 1, NYPE: 1,
	}, nil
}

// grid reads the process grid from the lowest-numbered file.
func (r *Resolver) grid(indexed map[int]string) (nxpe, nype int, err error) {
	lowest := -1
	for i := range indexed {
		if lowest < 0 || i < lowest { lowest = i }
	}
	return r.readGrid(indexed[lowest])
}

func (r *Resolver) readGrid(fname string) (nxpe, nype int, err error) {
	if r.Layout != nil { return r.Layout.X.NProcs, r.Layout.Y.NProcs, nil }
	f, err := r.Store.Open(fname)
	if err != nil { return 0, 0, g_error.IO(fname, err) }
	defer f.Close()

	for _, v := range []struct {
		name string
		out  *int
	}{{"NXPE", &nxpe}, {"NYPE", &nype}} {
		n, ok, err := layout.Int(f, v.name)
		if err != nil { return 0, 0, err }
		if !ok {
			return 0, 0, g_error.New(g_error.MissingVariable, "the "+
				"decomposition scalar %s is not in the file",
				v.name).InFile(fname).OnField(v.name)
		} else if n < 1 {
			return 0, 0, g_error.New(g_error.LayoutMismatch, "%s is %d",
				v.name, n).InFile(fname).OnField(v.name)
		}
		*v.out = n
	}
	return nxpe, nype, nil
}

// sort orders gens by key. More than one generation requires every key to
// exist and be distinct.
func (r *Resolver) sort(gens []*Generation, order OrderKey) error {
	if len(gens) <= 1 { return nil }

	for _, g := range gens {
		key, ok, err := order.Key(r.Store, g)
		if err != nil { return err }
		if !ok {
			return g_error.New(g_error.UnorderableGenerations, "%s cannot "+
				"derive an ordering key for this generation, so %d "+
				"generations cannot be put in order", order, len(gens),
			).InFile(g.Dir)
		}
		g.Key = key
	}

	sort.SliceStable(gens, func(i, j int) bool { return gens[i].Key < gens[j].Key })
	for i := 1; i < len(gens); i++ {
		if gens[i].Key == gens[i-1].Key {
			return g_error.New(g_error.UnorderableGenerations, "%s gives "+
				"the generations in %s and %s the same key, %g", order,
				gens[i-1].Dir, gens[i].Dir, gens[i].Key).InFile(gens[i].Dir)
		}
	}
	return nil
}

// Open opens every file of the generation, in processor order. If any file
// fails to open, the ones already opened are closed.
func (g *Generation) Open(s dataset.Store) ([]dataset.File, error) {
	files := make([]dataset.File, 0, len(g.Files))
	for _, fname := range g.Files {
		f, err := s.Open(fname)
		if err != nil {
			Close(files)
			return nil, g_error.IO(fname, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func (g *Generation) String() string {
	return fmt.Sprintf("%s (%d files, %dx%d)", g.Dir, len(g.Files),
		g.NXPE, g.NYPE)
}

// Close closes every file and returns the first error.
func Close(files []dataset.File) error {
	var first error
	for _, f := range files {
		if f == nil { continue }
		if err := f.Close(); err != nil && first == nil {
			first = g_error.IO(f.Path(), err)
		}
	}
	return first
}
