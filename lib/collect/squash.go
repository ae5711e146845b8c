package collect

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/fileset"
	"github.com/phil-mansfield/squash/lib/format"
	"github.com/phil-mansfield/squash/lib/layout"
	"github.com/phil-mansfield/squash/lib/stitch"
)

// ProvenanceAttr is the global attribute that records how a squashed file
// was made.
const ProvenanceAttr = "squash_provenance"

// decompositionScalars are always copied into a squashed file, whether or
// not they were asked for, so that the output can be collected again.
var decompositionScalars = []string{
	"NXPE", "NYPE", "MXSUB", "MYSUB", "MXG", "MYG", "MZSUB", "MZG", "MZ",
	"PE_XIND", "PE_YIND", "MYPE", "periodicX", "periodicY",
}

// SquashRequest selects what a Squasher writes.
type SquashRequest struct {
	Output string
	// Variables are the variables to write. Empty means every variable.
	Variables []string
	Times     format.Selection
	// Force allows an existing output file to be replaced.
	Force bool
}

// VarReport summarizes one squashed variable.
type VarReport struct {
	Name  string
	Dims  []string
	Shape []int
	Bytes int64
	// Min, Max and Mean ignore NaNs. They are NaN if every value is.
	Min, Max, Mean float64
}

// Report summarizes a squash.
type Report struct {
	Output      string
	Files       int
	Generations int
	TimePoints  int
	Bytes       int64
	Variables   []VarReport
}

func (r *Report) String() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "%s: %d variables, %d time points, %d bytes from %d "+
		"files in %d generations\n", r.Output, len(r.Variables), r.TimePoints,
		r.Bytes, r.Files, r.Generations)
	for _, v := range r.Variables {
		fmt.Fprintf(sb, "  %-16s %-14v %-18v min %-12.5g max %-12.5g mean %.5g\n",
			v.Name, v.Dims, v.Shape, v.Min, v.Max, v.Mean)
	}
	return sb.String()
}

// Squasher writes every variable of a run to one file.
type Squasher struct {
	cfg Config
}

// NewSquasher checks cfg and creates a Squasher.
func NewSquasher(cfg Config) (*Squasher, error) {
	if err := cfg.check(); err != nil { return nil, err }
	return &Squasher{cfg.withDefaults()}, nil
}

// tempPath is where a squash is written before it is renamed into place.
// The extension is kept so that the Store picks the same format.
func tempPath(output string) string {
	dir, base := path.Split(output)
	ext := path.Ext(base)
	return path.Join(dir, fmt.Sprintf(".%s.partial%s",
		strings.TrimSuffix(base, ext), ext))
}

// Squash writes the requested variables of the run to req.Output. Every
// variable is validated in every generation before anything is written,
// and at most one chunk of time points of one variable is held in memory.
// The output only appears once it is complete.
func (s *Squasher) Squash(ctx context.Context, req SquashRequest) (*Report, error) {
	st := s.cfg.Store
	if req.Output == "" {
		return nil, g_error.New(g_error.Config, "no output file was given")
	}
	if exists, err := st.Exists(req.Output); err != nil {
		return nil, g_error.IO(req.Output, err)
	} else if exists && !req.Force {
		return nil, g_error.New(g_error.OutputExists, "the output file "+
			"already exists and overwriting was not requested",
		).InFile(req.Output)
	}

	_, log := s.cfg.context(ctx)
	p := &pipeline{cfg: s.cfg, log: log}
	r, err := p.inspect()
	if err != nil { return nil, err }

	names := squashNames(r, req.Variables)
	vars, err := p.variables(r, names)
	if err != nil { return nil, err }
	axis, err := selectTimes(r, req.Times)
	if err != nil { return nil, err }

	rep := &Report{
		Output: req.Output, Files: r.Files(),
		Generations: len(r.Generations), TimePoints: axis.Len(),
	}
	tmp := tempPath(req.Output)
	wr, err := st.Create(tmp)
	if err != nil { return nil, g_error.IO(tmp, err) }

	err = s.write(p, wr, r, vars, axis, req, rep)
	if err == nil {
		err = g_error.IO(tmp, wr.Close())
	} else {
		wr.Close()
	}
	if err == nil { err = g_error.IO(req.Output, st.Rename(tmp, req.Output)) }
	if err != nil {
		if exists, _ := st.Exists(tmp); exists {
			if rerr := st.Remove(tmp); rerr != nil {
				log.Warn("could not remove partial output", "file", tmp,
					"error", rerr)
			}
		}
		return nil, err
	}

	log.Info("squashed run", "output", req.Output, "variables",
		len(rep.Variables), "times", rep.TimePoints, "bytes", rep.Bytes)
	return rep, nil
}

// squashNames returns the variables a squash writes: the requested ones,
// or all of them, plus the decomposition scalars and the time variable.
func squashNames(r *Run, requested []string) []string {
	if len(requested) == 0 { return append([]string{}, r.Variables...) }

	seen := map[string]bool{}
	names := []string{}
	add := func(name string) {
		if key := strings.ToLower(name); !seen[key] {
			seen[key] = true
			names = append(names, name)
		}
	}
	for _, name := range requested { add(name) }

	have := map[string]bool{}
	for _, name := range r.Variables { have[name] = true }
	for _, name := range append(decompositionScalars, fileset.TimeVar) {
		if have[name] { add(name) }
	}
	return names
}

func (s *Squasher) write(p *pipeline, wr dataset.Writer, r *Run, vars []*variable,
	axis *stitch.Axis, req SquashRequest, rep *Report) error {

	for _, k := range r.Attrs.Keys() {
		if err := wr.SetAttribute(k, r.Attrs[k]); err != nil {
			return g_error.IO(req.Output, err)
		}
	}
	chunks := fmt.Sprintf("%d bytes", s.cfg.MaxChunkBytes)
	if s.cfg.ChunkSize > 0 { chunks = fmt.Sprintf("%d time points", s.cfg.ChunkSize) }
	prov := fmt.Sprintf("squash %s: %d files in %d generations, guards %s, "+
		"times %s, chunks of %s", Version, rep.Files, rep.Generations,
		s.cfg.Guards, req.Times, chunks)
	if err := wr.SetAttribute(ProvenanceAttr, prov); err != nil {
		return g_error.IO(req.Output, err)
	}

	last := len(r.Generations) - 1
	outs := make([]dataset.VarInfo, len(vars))
	for j, v := range vars {
		plan, err := p.plan(r, v, last, nil)
		if err != nil { return err }
		outs[j] = dataset.VarInfo{Name: v.info.Name, DType: v.info.DType,
			Dims: append([]string{}, v.info.Dims...),
			Shape: plan.ChunkShape(axis.Len()), Attrs: v.attrs()}
		if err := s.checkBuffer(wr, outs[j], req.Output); err != nil { return err }
		if err := wr.Define(outs[j]); err != nil { return g_error.IO(req.Output, err) }
	}

	overrides := flatScalars(r.Layout, s.cfg.Guards)
	if err := writeMissingScalars(wr, vars, overrides, rep); err != nil {
		return g_error.IO(req.Output, err)
	}

	for j, v := range vars {
		vr := VarReport{Name: outs[j].Name, Dims: outs[j].Dims,
			Shape: outs[j].Shape}
		acc := &stats{}

		err := p.read(r, v, axis, nil, func(chunk *dataset.Array, out int) error {
			if x, ok := overrides[v.info.Name]; ok && len(chunk.Shape) == 0 {
				flat, _ := dataset.FromData([]int{}, []float64{float64(x)})
				chunk = flat.Convert(chunk.DType())
			}
			start := make([]int, len(chunk.Shape))
			if it := v.info.Axis("t"); it >= 0 { start[it] = out }
			if err := wr.WriteSlice(v.info.Name, start, chunk); err != nil {
				return g_error.IO(req.Output, err)
			}
			acc.add(chunk.Float64s())
			vr.Bytes += int64(chunk.Bytes())
			return nil
		})
		if err != nil { return err }

		vr.Min, vr.Max, vr.Mean = acc.result()
		rep.Bytes += vr.Bytes
		rep.Variables = append(rep.Variables, vr)
		p.log.Info("squashed variable", "variable", vr.Name, "shape",
			fmt.Sprint(vr.Shape), "bytes", vr.Bytes)
	}

	sort.Slice(rep.Variables, func(i, j int) bool {
		return rep.Variables[i].Name < rep.Variables[j].Name
	})
	return nil
}

// checkBuffer refuses variables that a Buffered writer would have to hold
// in memory if they are larger than a chunk.
func (s *Squasher) checkBuffer(wr dataset.Writer, info dataset.VarInfo, output string) error {
	b, ok := wr.(dataset.Buffered)
	if !ok || !b.BuffersVariables() { return nil }
	bytes := dataset.Volume(info.Shape) * info.DType.Size()
	if bytes <= s.cfg.MaxChunkBytes { return nil }
	return g_error.New(g_error.Config, "the variable is %d bytes, but the "+
		"output format holds whole variables in memory and MaxChunkBytes is "+
		"%d. Raise MaxChunkBytes or write a .sqsh file", bytes,
		s.cfg.MaxChunkBytes).InFile(output).OnField(info.Name)
}

// flatScalars are the decomposition scalars of a squashed file, which is a
// single-processor dump of the assembled arrays. Retained boundary guard
// cells become the guard cells of that processor when both ends keep them.
func flatScalars(l *layout.Layout, p layout.GuardPolicy) map[string]int {
	axis := func(a layout.Axis) (sub, guard int) {
		lo, hi := a.Retained(p)
		if lo == hi { return a.Interior(), lo }
		return a.Global(p), 0
	}
	mxsub, mxg := axis(l.X)
	mysub, myg := axis(l.Y)
	return map[string]int{
		"NXPE": 1, "NYPE": 1, "MXSUB": mxsub, "MYSUB": mysub,
		"MXG": mxg, "MYG": myg, "MZSUB": l.NZ, "MZG": 0, "MZ": l.NZ,
		"PE_XIND": 0, "PE_YIND": 0, "MYPE": 0,
	}
}

// writeMissingScalars adds the decomposition scalars that the run's files
// left to their defaults, so that the defaults cannot change the meaning of
// the squashed file.
func writeMissingScalars(wr dataset.Writer, vars []*variable, flat map[string]int, rep *Report) error {
	have := map[string]bool{}
	for _, v := range vars { have[v.info.Name] = true }
	for _, name := range decompositionScalars {
		x, ok := flat[name]
		if !ok || have[name] { continue }
		info := dataset.VarInfo{Name: name, DType: dataset.Int32,
			Dims: []string{}, Shape: []int{}, Attrs: dataset.Attributes{}}
		arr, _ := dataset.FromData([]int{}, []int32{int32(x)})
		if err := wr.Define(info); err != nil { return err }
		if err := wr.WriteSlice(name, []int{}, arr); err != nil { return err }
		rep.Variables = append(rep.Variables, VarReport{Name: name,
			Dims: info.Dims, Shape: info.Shape, Bytes: int64(arr.Bytes()),
			Min: float64(x), Max: float64(x), Mean: float64(x)})
		rep.Bytes += int64(arr.Bytes())
	}
	return nil
}

// stats accumulates summary statistics one chunk at a time.
type stats struct {
	n              float64
	mean, min, max float64
}

func (s *stats) add(x []float64) {
	finite := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) { finite = append(finite, v) }
	}
	if len(finite) == 0 { return }

	lo, hi, mean := floats.Min(finite), floats.Max(finite), stat.Mean(finite, nil)
	n := float64(len(finite))
	if s.n == 0 {
		s.min, s.max = lo, hi
	} else {
		s.min, s.max = math.Min(s.min, lo), math.Max(s.max, hi)
	}
	s.mean += (mean - s.mean) * n / (s.n + n)
	s.n += n
}

func (s *stats) result() (min, max, mean float64) {
	if s.n == 0 { return math.NaN(), math.NaN(), math.NaN() }
	return s.min, s.max, s.mean
}
