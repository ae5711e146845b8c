/*package collect is the public face of squash. A Collector assembles one
variable of a run into memory and a Squasher streams every variable of a run
into a single output file.

Both run the same pipeline: resolve the run's generations, validate every
generation's layout and variables, stitch the time axes of the generations,
and then assemble each variable from its per-processor pieces. Validation
finishes before any bulk data is read. The files of a generation are opened
together and closed before the next generation is touched.
*/
package collect

import (
	"context"
	"log/slog"

	"github.com/phil-mansfield/squash/lib/assemble"
	"github.com/phil-mansfield/squash/lib/ctxlog"
	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/fileset"
	"github.com/phil-mansfield/squash/lib/format"
	"github.com/phil-mansfield/squash/lib/layout"
	"github.com/phil-mansfield/squash/lib/stitch"
	"github.com/phil-mansfield/squash/lib/validate"
)

// Version is recorded in the provenance of squashed files.
const Version = "1.0.0"

// DefaultMaxChunkBytes bounds the size of one chunk of assembled time points
// when Config.ChunkSize is not set.
const DefaultMaxChunkBytes = 64 << 20

// Config is the configuration shared by Collector and Squasher.
type Config struct {
	// Store holds the input files and the output of a squash. Nil means the
	// local filesystem.
	Store dataset.Store
	// Root is a directory of dump files, a directory of generation
	// directories, or a single dump file.
	Root string
	// Generations lists generation directories explicitly. If set, Root is
	// ignored.
	Generations []string
	// Prefix is the dump file prefix. Empty means "BOUT.dmp".
	Prefix string
	// Order puts generations in chronological order. Nil means the order
	// of Generations if it is set and the first output time otherwise.
	Order fileset.OrderKey
	// Layout replaces the layout derived from the files, which then need
	// not hold NXPE, NYPE or the other decomposition scalars. Variable
	// shapes must still agree with it.
	Layout *layout.Layout
	Guards layout.GuardPolicy
	// ChunkSize is the number of time points assembled at once. Zero means
	// as many as fit in MaxChunkBytes.
	ChunkSize int
	// MaxChunkBytes defaults to DefaultMaxChunkBytes.
	MaxChunkBytes int
	// Logger receives diagnostics. Nil means the logger in the context
	// passed to each call, if any.
	Logger *slog.Logger
}

func (cfg Config) check() error {
	if cfg.ChunkSize < 0 {
		return g_error.New(g_error.Config, "ChunkSize is %d, but must be "+
			"non-negative", cfg.ChunkSize)
	} else if cfg.MaxChunkBytes < 0 {
		return g_error.New(g_error.Config, "MaxChunkBytes is %d, but must "+
			"be non-negative", cfg.MaxChunkBytes)
	} else if cfg.Root == "" && len(cfg.Generations) == 0 {
		return g_error.New(g_error.Config, "neither a root directory nor a "+
			"list of generations was given")
	}
	if cfg.Layout != nil {
		if err := cfg.Layout.Check(); err != nil { return err }
	}
	return cfg.Guards.Check()
}

func (cfg Config) withDefaults() Config {
	if cfg.Store == nil { cfg.Store = &dataset.DiskStore{} }
	if cfg.MaxChunkBytes == 0 { cfg.MaxChunkBytes = DefaultMaxChunkBytes }
	return cfg
}

func (cfg Config) context(ctx context.Context) (context.Context, *slog.Logger) {
	if cfg.Logger != nil { ctx = ctxlog.WithLogger(ctx, cfg.Logger) }
	return ctx, ctxlog.FromContext(ctx)
}

// chunkSize returns the number of time points of a plan to assemble at once.
func (cfg Config) chunkSize(p *assemble.Plan) int {
	if cfg.ChunkSize > 0 { return cfg.ChunkSize }
	n := cfg.MaxChunkBytes / p.FrameBytes()
	if n < 1 { n = 1 }
	return n
}

// Run is the validated, metadata-only view of a run.
type Run struct {
	Generations []*fileset.Generation
	Layout      *layout.Layout
	// Times[g] are the output times of generation g.
	Times [][]float64
	Axis  *stitch.Axis
	// Variables are the variables of processor 0 in the first generation
	// and Infos their metadata, in the same order.
	Variables []string
	Infos     []dataset.VarInfo
	// Attrs are the global attributes of processor 0 in the first
	// generation.
	Attrs dataset.Attributes
}

// Files returns the total number of files in the run.
func (r *Run) Files() int {
	n := 0
	for _, g := range r.Generations { n += len(g.Files) }
	return n
}

// variable is a validated variable and, for each generation, the processor
// row that holds it if it is decomposed in x only.
type variable struct {
	info     dataset.VarInfo
	perpRows []int
	yindex   int64
	hasPerp  bool
}

type pipeline struct {
	cfg Config
	log *slog.Logger
}

// inspect resolves and validates the run.
func (p *pipeline) inspect() (*Run, error) {
	res := &fileset.Resolver{Store: p.cfg.Store, Prefix: p.cfg.Prefix,
		Order: p.cfg.Order, Layout: p.cfg.Layout}
	gens, err := res.Resolve(p.cfg.Root, p.cfg.Generations)
	if err != nil { return nil, err }

	r := &Run{Generations: gens, Layout: p.cfg.Layout}
	for g, gen := range gens {
		err := p.withFiles(g, gen, func(files []dataset.File) error {
			if p.cfg.Layout != nil {
				if err := validate.GenerationWith(files, p.cfg.Layout); err != nil {
					return err
				}
			} else {
				l, err := validate.Generation(files)
				if err != nil { return err }
				if r.Layout == nil { r.Layout = l }
				if err := validate.Across(r.Layout, l, gen.Dir); err != nil { return err }
			}

			if g == 0 {
				r.Variables = files[0].Variables()
				r.Attrs = files[0].Attributes()
				for _, name := range r.Variables {
					info, _ := files[0].Info(name)
					r.Infos = append(r.Infos, info)
				}
			}
			t, err := readTimes(files[0], len(gens))
			if err != nil { return err }
			r.Times = append(r.Times, t)
			return nil
		})
		if err != nil { return nil, err }
	}

	if r.Axis, err = stitch.Stitch(r.Times); err != nil { return nil, err }
	p.log.Debug("validated run", "generations", len(gens), "files", r.Files(),
		"layout", r.Layout.String(), "times", r.Axis.Len())
	return r, nil
}

// readTimes reads the output times of a generation. A run with a single
// generation and no time variable is indexed by output number.
func readTimes(f dataset.File, ngens int) ([]float64, error) {
	info, ok := dataset.Lookup(f, fileset.TimeVar)
	if ok && info.Rank() == 1 {
		if info.Shape[0] == 0 { return []float64{}, nil }
		arr, err := dataset.ReadAll(f, info.Name)
		if err != nil { return nil, g_error.IO(f.Path(), err) }
		return append([]float64{}, arr.Float64s()...), nil
	}

	if ngens > 1 {
		return nil, g_error.New(g_error.MissingVariable, "the time variable "+
			"'%s' is needed to join %d generations, but it is not in the "+
			"file", fileset.TimeVar, ngens).InFile(f.Path()).OnField(fileset.TimeVar)
	}
	nt := 0
	for _, name := range f.Variables() {
		info, _ := f.Info(name)
		if i := info.Axis("t"); i >= 0 && info.Shape[i] > nt { nt = info.Shape[i] }
	}
	t := make([]float64, nt)
	for i := range t { t[i] = float64(i) }
	return t, nil
}

// withFiles opens every file of a generation, calls fn, and closes them.
func (p *pipeline) withFiles(g int, gen *fileset.Generation, fn func([]dataset.File) error) error {
	files, err := gen.Open(p.cfg.Store)
	if err != nil { return err }
	p.log.Debug("opened generation", "generation", g, "dir", gen.Dir,
		"files", len(files))

	err = fn(files)
	closeErr := fileset.Close(files)
	p.log.Debug("closed generation", "generation", g, "dir", gen.Dir)
	if err != nil { return err }
	return closeErr
}

// variables validates the named variables in every generation.
func (p *pipeline) variables(r *Run, names []string) ([]*variable, error) {
	vars := make([]*variable, len(names))
	for g, gen := range r.Generations {
		err := p.withFiles(g, gen, func(files []dataset.File) error {
			infos, err := validate.Variables(files, r.Layout, names)
			if err != nil { return err }

			for j, info := range infos {
				if g == 0 {
					vars[j] = &variable{info: info, yindex: -1}
					if info.Name != names[j] {
						p.log.Warn("variable not found, using a "+
							"case-insensitive match", "requested", names[j],
							"found", info.Name)
					}
				} else if err := validate.Compatible(vars[j].info, info, false); err != nil {
					return err.InFile(files[0].Path())
				}

				if it := info.Axis("t"); it >= 0 && info.Shape[it] != len(r.Times[g]) {
					return g_error.New(g_error.LayoutMismatch, "'%s' has %d "+
						"time points, but the generation has %d output "+
						"times", info.Name, info.Shape[it], len(r.Times[g]),
					).InFile(files[0].Path()).OnField(info.Name)
				}

				row, err := p.perpRow(files, r.Layout, vars[j], info)
				if err != nil { return err }
				vars[j].perpRows = append(vars[j].perpRows, row)
			}
			return nil
		})
		if err != nil { return nil, err }
	}
	return vars, nil
}

// perpRow finds the processor row holding a variable decomposed in x only.
// Variables without a yindex_global attribute are read from row 0.
func (p *pipeline) perpRow(files []dataset.File, l *layout.Layout, v *variable, info dataset.VarInfo) (int, error) {
	if info.Axis("x") < 0 || info.Axis("y") >= 0 { return 0, nil }
	if _, ok := info.Attrs[validate.PerpAttr]; !ok { return 0, nil }

	row, y, err := validate.PerpRow(files, l, info.Name)
	if err != nil { return 0, err }
	v.hasPerp = true
	if row >= 0 { v.yindex = y }
	return row, nil
}

// plan builds the assembly plan of v for generation g.
func (p *pipeline) plan(r *Run, v *variable, g int, region map[string]dataset.Slice) (*assemble.Plan, error) {
	return assemble.NewPlan(r.Layout, v.info, assemble.Options{
		Guards: p.cfg.Guards, Region: region, PerpRow: v.perpRows[g],
	})
}

// attrs returns the attributes of an assembled variable.
func (v *variable) attrs() dataset.Attributes {
	attrs := v.info.Attrs.Copy()
	if v.hasPerp { attrs[validate.PerpAttr] = v.yindex }
	return attrs
}

// selectTimes applies a time selection to the stitched axis.
func selectTimes(r *Run, sel format.Selection) (*stitch.Axis, error) {
	if r.Axis.Len() == 0 && sel.IsAll() { return r.Axis, nil }
	idx, err := sel.Resolve(r.Axis.Len())
	if err != nil { return nil, err }
	return r.Axis.Select(idx), nil
}

// read assembles the selected time points of v, one run of consecutive
// time points at a time, calling sink with each chunk. Variables without a
// time axis are read once from the last generation.
func (p *pipeline) read(r *Run, v *variable, axis *stitch.Axis, region map[string]dataset.Slice,
	sink func(chunk *dataset.Array, out int) error) error {

	if v.info.Axis("t") < 0 {
		g := len(r.Generations) - 1
		plan, err := p.plan(r, v, g, region)
		if err != nil { return err }
		return p.withFiles(g, r.Generations[g], func(files []dataset.File) error {
			dst := dataset.NewArray(plan.DType, plan.ChunkShape(0))
			if err := plan.Read(files, dataset.Slice{}, dst, 0); err != nil { return err }
			return sink(dst, 0)
		})
	}

	runs := axis.Runs()
	for _, g := range axis.Generations() {
		plan, err := p.plan(r, v, g, region)
		if err != nil { return err }
		n := p.cfg.chunkSize(plan)

		err = p.withFiles(g, r.Generations[g], func(files []dataset.File) error {
			for _, run := range runs {
				if run.Gen != g { continue }
				for _, c := range run.Chunk(n) {
					dst := dataset.NewArray(plan.DType, plan.ChunkShape(c.Local.Count))
					if err := plan.Read(files, c.Local, dst, 0); err != nil { return err }
					p.log.Debug("assembled chunk", "variable", v.info.Name,
						"generation", g, "run", c.String())
					if err := sink(dst, c.Out); err != nil { return err }
				}
			}
			return nil
		})
		if err != nil { return err }
	}
	return nil
}

// Request selects what a Collector assembles.
type Request struct {
	Variable string
	// Times selects output time points of the stitched time axis. It is
	// ignored for variables without a time axis.
	Times format.Selection
	// Region restricts the spatial extent of the result. See
	// assemble.Options.Region.
	Region map[string]dataset.Slice
}

// Result is an assembled variable.
type Result struct {
	Name  string
	Dims  []string
	Array *dataset.Array
	// Times are the output times of the result's time axis. Nil if the
	// variable has no time axis.
	Times []float64
	Attrs dataset.Attributes
}

// Collector assembles variables into memory. It holds no state beyond its
// configuration, so one Collector can serve concurrent calls.
type Collector struct {
	cfg Config
}

// NewCollector checks cfg and creates a Collector.
func NewCollector(cfg Config) (*Collector, error) {
	if err := cfg.check(); err != nil { return nil, err }
	return &Collector{cfg.withDefaults()}, nil
}

func (c *Collector) pipeline(ctx context.Context) *pipeline {
	_, log := c.cfg.context(ctx)
	return &pipeline{cfg: c.cfg, log: log}
}

// Inspect resolves and validates the run without reading any variable
// data.
func (c *Collector) Inspect(ctx context.Context) (*Run, error) {
	return c.pipeline(ctx).inspect()
}

// Validate checks the named variables, or every variable if names is
// empty, in every file of every generation without reading their data. It
// returns the metadata of each variable in processor 0 of the first
// generation.
func (c *Collector) Validate(ctx context.Context, names []string) ([]dataset.VarInfo, error) {
	p := c.pipeline(ctx)
	r, err := p.inspect()
	if err != nil { return nil, err }
	if len(names) == 0 { names = r.Variables }
	vars, err := p.variables(r, names)
	if err != nil { return nil, err }
	infos := make([]dataset.VarInfo, len(vars))
	for i := range vars { infos[i] = vars[i].info }
	return infos, nil
}

// Collect assembles one variable. Repeated calls with the same request on
// unchanged files return identical results.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	p := c.pipeline(ctx)
	r, err := p.inspect()
	if err != nil { return nil, err }

	vars, err := p.variables(r, []string{req.Variable})
	if err != nil { return nil, err }
	v := vars[0]

	res := &Result{Name: v.info.Name, Dims: append([]string{}, v.info.Dims...),
		Attrs: v.attrs()}

	axis := r.Axis
	it := v.info.Axis("t")
	if it >= 0 {
		if axis, err = selectTimes(r, req.Times); err != nil { return nil, err }
		res.Times = append([]float64{}, axis.Times...)
	}

	plan, err := p.plan(r, v, len(r.Generations)-1, req.Region)
	if err != nil { return nil, err }
	res.Array = dataset.NewArray(plan.DType, plan.ChunkShape(axis.Len()))

	err = p.read(r, v, axis, req.Region, func(chunk *dataset.Array, out int) error {
		if it < 0 {
			res.Array = chunk
			return nil
		}
		start := make([]int, len(chunk.Shape))
		start[it] = out
		return dataset.CopyBlock(res.Array, start, chunk,
			make([]int, len(chunk.Shape)), chunk.Shape)
	})
	if err != nil { return nil, err }
	return res, nil
}
