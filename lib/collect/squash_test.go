package collect

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/fixture"
	"github.com/phil-mansfield/squash/lib/format"
	"github.com/phil-mansfield/squash/lib/layout"
)

// trackingStore records the largest block written through it and can be
// told to fail after a number of writes.
type trackingStore struct {
	*dataset.MemStore
	peak      int
	writes    int
	failAfter int
	removeErr error
}

type trackingWriter struct {
	dataset.Writer
	s *trackingStore
}

func (s *trackingStore) Create(p string) (dataset.Writer, error) {
	wr, err := s.MemStore.Create(p)
	if err != nil { return nil, err }
	return &trackingWriter{wr, s}, nil
}

func (s *trackingStore) Remove(p string) error {
	if s.removeErr != nil { return s.removeErr }
	return s.MemStore.Remove(p)
}

func (w *trackingWriter) WriteSlice(name string, start []int, data *dataset.Array) error {
	w.s.writes++
	if w.s.failAfter > 0 && w.s.writes > w.s.failAfter { return syscall.ENOSPC }
	if data.Bytes() > w.s.peak { w.s.peak = data.Bytes() }
	return w.Writer.WriteSlice(name, start, data)
}

func squash(t *testing.T, cfg Config, req SquashRequest) *Report {
	t.Helper()
	sq, err := NewSquasher(cfg)
	require.NoError(t, err)
	rep, err := sq.Squash(context.Background(), req)
	require.NoError(t, err)
	return rep
}

func TestSquashRoundTrip(t *testing.T) {
	s := dataset.NewMemStore()
	newRun(t, s, "run", fixture.Small())

	for _, p := range []layout.GuardPolicy{trim, keep} {
		out := "out/" + p.String() + ".sqsh"
		squash(t, Config{Store: s, Root: "run", Guards: p},
			SquashRequest{Output: out})

		for _, q := range []layout.GuardPolicy{trim, p} {
			for _, name := range allNames() {
				if name == "NXPE" { continue }
				exp := collect(t, Config{Store: s, Root: "run", Guards: q},
					Request{Variable: name})
				got := collect(t, Config{Store: s, Root: out, Guards: q},
					Request{Variable: name})
				assert.Equal(t, exp.Array.Shape, got.Array.Shape, "%s, %s", p, name)
				assert.True(t, exp.Array.Equal(got.Array), "%s, %s", p, name)
				assert.Equal(t, exp.Times, got.Times, "%s, %s", p, name)
			}
		}
	}
}

func TestSquashFlattensDecomposition(t *testing.T) {
	s := dataset.NewMemStore()
	g := fixture.Small()
	newRun(t, s, "run", g)
	squash(t, Config{Store: s, Root: "run", Guards: keep},
		SquashRequest{Output: "out.sqsh"})

	f, err := s.Open("out.sqsh")
	require.NoError(t, err)
	defer f.Close()

	want := map[string]float64{
		"NXPE": 1, "NYPE": 1, "MXSUB": float64(g.NXPE * g.MXSUB),
		"MYSUB": float64(g.NYPE * g.MYSUB), "MXG": float64(g.MXG),
		"MYG": float64(g.MYG), "MZG": 0, "PE_XIND": 0, "PE_YIND": 0,
	}
	for name, v := range want {
		x, ok, err := dataset.ReadScalar(f, name)
		require.NoError(t, err)
		require.True(t, ok, name)
		assert.Equal(t, v, x, name)
	}
	prov, ok := f.Attributes().String(ProvenanceAttr)
	require.True(t, ok)
	assert.Contains(t, prov, "6 files")
	run, _ := f.Attributes().String("run_id")
	assert.Equal(t, "mock", run)
}

func TestSquashMissingScalars(t *testing.T) {
	s := dataset.NewMemStore()
	g := fixture.Small()
	g.MXG, g.MYG = layout.DefaultMXG, layout.DefaultMYG
	r := fixture.New(g)
	for i := range r.Vars {
		r.Remove(i, "MXG")
		r.Remove(i, "MYG")
	}
	require.NoError(t, r.Write(s, "run", ".sqsh"))
	squash(t, Config{Store: s, Root: "run"}, SquashRequest{Output: "out.sqsh"})

	got := collect(t, Config{Store: s, Root: "out.sqsh"},
		Request{Variable: fixture.Field3D})
	assert.True(t, r.Expected(fixture.Field3D, trim).Equal(got.Array))
}

func TestSquashGenerations(t *testing.T) {
	s := dataset.NewMemStore()
	g := fixture.Small()
	newRun(t, s, "run/a", g)
	g.T0, g.Seed = 2, 7
	newRun(t, s, "run/b", g)

	cfg := Config{Store: s, Root: "run"}
	rep := squash(t, cfg, SquashRequest{Output: "out.sqsh"})
	assert.Equal(t, 6, rep.TimePoints)
	assert.Equal(t, 2, rep.Generations)
	assert.Equal(t, 12, rep.Files)

	for _, name := range []string{fixture.Field3DT, fixture.FieldPerpT, fixture.Field2D} {
		exp := collect(t, cfg, Request{Variable: name})
		got := collect(t, Config{Store: s, Root: "out.sqsh"}, Request{Variable: name})
		assert.True(t, exp.Array.Equal(got.Array), name)
	}
}

func TestSquashTimesAndVariables(t *testing.T) {
	s := dataset.NewMemStore()
	r := newRun(t, s, "run", fixture.Small())
	sel, err := format.ParseSelection("0..1 + 3")
	require.NoError(t, err)
	rep := squash(t, Config{Store: s, Root: "run"}, SquashRequest{
		Output: "out.sqsh", Variables: []string{fixture.Field2DT}, Times: sel,
	})
	assert.Equal(t, 3, rep.TimePoints)

	f, err := s.Open("out.sqsh")
	require.NoError(t, err)
	names := f.Variables()
	require.NoError(t, f.Close())
	assert.Contains(t, names, fixture.Field2DT)
	assert.Contains(t, names, fixture.TimeVar)
	assert.Contains(t, names, "NXPE")
	assert.NotContains(t, names, fixture.Field3DT)

	got := collect(t, Config{Store: s, Root: "out.sqsh"},
		Request{Variable: fixture.Field2DT})
	assert.Equal(t, []float64{0, 1, 3}, got.Times)
	full := r.Expected(fixture.Field2DT, trim)
	exp := tConcat(t, tSlice(t, full, dataset.Slice{Start: 0, Count: 2, Stride: 1}),
		tSlice(t, full, dataset.Slice{Start: 3, Count: 1, Stride: 1}))
	assert.True(t, exp.Equal(got.Array))
}

func TestSquashReport(t *testing.T) {
	s := dataset.NewMemStore()
	newRun(t, s, "run", fixture.Small())
	rep := squash(t, Config{Store: s, Root: "run"}, SquashRequest{Output: "out.sqsh"})

	var tv *VarReport
	for i := range rep.Variables {
		if rep.Variables[i].Name == fixture.TimeVar { tv = &rep.Variables[i] }
	}
	require.NotNil(t, tv)
	assert.Equal(t, 0.0, tv.Min)
	assert.Equal(t, 3.0, tv.Max)
	assert.InDelta(t, 1.5, tv.Mean, 1e-12)
	assert.Equal(t, int64(32), tv.Bytes)
	assert.Equal(t, 4, rep.TimePoints)
	assert.Contains(t, rep.String(), fixture.Field3DT)

	var total int64
	for _, v := range rep.Variables { total += v.Bytes }
	assert.Equal(t, total, rep.Bytes)
}

func TestStats(t *testing.T) {
	s := &stats{}
	s.add([]float64{1, 2, math.NaN()})
	s.add([]float64{})
	s.add([]float64{6})
	lo, hi, mean := s.result()
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 6.0, hi)
	assert.InDelta(t, 3.0, mean, 1e-12)

	lo, _, _ = (&stats{}).result()
	assert.True(t, math.IsNaN(lo))
}

func TestSquashOutputExists(t *testing.T) {
	s := dataset.NewMemStore()
	newRun(t, s, "run", fixture.Small())
	cfg := Config{Store: s, Root: "run"}
	squash(t, cfg, SquashRequest{Output: "out.sqsh"})

	sq, err := NewSquasher(cfg)
	require.NoError(t, err)
	_, err = sq.Squash(context.Background(), SquashRequest{Output: "out.sqsh"})
	assert.True(t, errors.Is(err, g_error.ErrOutputExists))

	squash(t, cfg, SquashRequest{Output: "out.sqsh", Force: true})
}

func TestSquashIdempotent(t *testing.T) {
	s := dataset.NewMemStore()
	newRun(t, s, "run", fixture.Small())
	cfg := Config{Store: s, Root: "run"}
	a := squash(t, cfg, SquashRequest{Output: "a.sqsh"})
	b := squash(t, cfg, SquashRequest{Output: "b.sqsh"})
	assert.Equal(t, a.Variables, b.Variables)

	for _, name := range fixture.Fields {
		x := collect(t, Config{Store: s, Root: "a.sqsh"}, Request{Variable: name})
		y := collect(t, Config{Store: s, Root: "b.sqsh"}, Request{Variable: name})
		assert.True(t, x.Array.Equal(y.Array), name)
	}
}

func TestSquashFailureLeavesNoOutput(t *testing.T) {
	mem := dataset.NewMemStore()
	newRun(t, mem, "run", fixture.Small())
	s := &trackingStore{MemStore: mem, failAfter: 5}

	sq, err := NewSquasher(Config{Store: s, Root: "run"})
	require.NoError(t, err)
	_, err = sq.Squash(context.Background(), SquashRequest{Output: "out.sqsh"})
	assert.True(t, errors.Is(err, g_error.ErrInsufficientSpace), "got %v", err)

	for _, p := range []string{"out.sqsh", tempPath("out.sqsh")} {
		ok, err := mem.Exists(p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
}

func TestSquashReportsLeftoverPartial(t *testing.T) {
	mem := dataset.NewMemStore()
	newRun(t, mem, "run", fixture.Small())
	s := &trackingStore{MemStore: mem, failAfter: 5,
		removeErr: errors.New("permission denied")}
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))

	sq, err := NewSquasher(Config{Store: s, Root: "run", Logger: log})
	require.NoError(t, err)
	_, err = sq.Squash(context.Background(), SquashRequest{Output: "out.sqsh"})
	assert.True(t, errors.Is(err, g_error.ErrInsufficientSpace), "got %v", err)

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "could not remove partial output")
	assert.Contains(t, buf.String(), tempPath("out.sqsh"))
	assert.Contains(t, buf.String(), "permission denied")
}

func TestSquashValidatesBeforeWriting(t *testing.T) {
	mem := dataset.NewMemStore()
	r := fixture.New(fixture.Small())
	r.Remove(5, fixture.Field2D)
	require.NoError(t, r.Write(mem, "run", ".sqsh"))
	s := &trackingStore{MemStore: mem}

	sq, err := NewSquasher(Config{Store: s, Root: "run"})
	require.NoError(t, err)
	_, err = sq.Squash(context.Background(), SquashRequest{Output: "out.sqsh"})
	assert.True(t, errors.Is(err, g_error.ErrMissingVariable))
	assert.Equal(t, 0, s.writes)
}

func TestSquashMemoryBound(t *testing.T) {
	g := fixture.Small()
	frame := g.NXPE * g.MXSUB * g.NYPE * g.MYSUB * g.MZSUB * 8

	tests := []struct {
		chunkSize, maxBytes int
		peak                int
	}{
		{1, 0, frame},
		{0, 2 * frame, 2 * frame},
		{0, frame / 2, frame},
		{0, 0, g.NT * frame},
	}
	for i := range tests {
		mem := dataset.NewMemStore()
		newRun(t, mem, "run", g)
		s := &trackingStore{MemStore: mem}
		squash(t, Config{Store: s, Root: "run", ChunkSize: tests[i].chunkSize,
			MaxChunkBytes: tests[i].maxBytes}, SquashRequest{Output: "out.sqsh"})
		assert.Equal(t, tests[i].peak, s.peak, "%d)", i)
	}
}

func TestSquashDisk(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{".sqsh", ".sqsh"},
		{".sqsh", ".h5"},
		{".h5", ".h5"},
		{".h5", ".hdf5"},
	}
	for i := range tests {
		dir := t.TempDir()
		s := &dataset.DiskStore{}
		r := fixture.New(fixture.Small())
		require.NoError(t, r.Write(s, filepath.Join(dir, "run"), tests[i].in))
		out := filepath.Join(dir, "squashed"+tests[i].out)
		squash(t, Config{Store: s, Root: filepath.Join(dir, "run")},
			SquashRequest{Output: out})

		for _, name := range allNames() {
			if name == "NXPE" { continue }
			exp := collect(t, Config{Store: s, Root: filepath.Join(dir, "run")},
				Request{Variable: name})
			got := collect(t, Config{Store: s, Root: out}, Request{Variable: name})
			assert.Equal(t, exp.Array.Shape, got.Array.Shape,
				"%d) Expected the shape of %s to survive %s.", i, name, tests[i].out)
			assert.True(t, exp.Array.Equal(got.Array),
				"%d) Expected %s to survive %s.", i, name, tests[i].out)
			assert.Equal(t, exp.Times, got.Times, "%d) %s", i, name)
		}
		for _, name := range fixture.Fields {
			got := collect(t, Config{Store: s, Root: out}, Request{Variable: name})
			assert.True(t, r.Expected(name, trim).Equal(got.Array),
				"%d) Expected %s to match the mock run.", i, name)
		}

		f, err := s.Open(out)
		require.NoError(t, err)
		prov, ok := f.Attributes().String(ProvenanceAttr)
		assert.True(t, ok, "%d)", i)
		assert.Contains(t, prov, "6 files", "%d)", i)
		require.NoError(t, f.Close())
	}
}

func TestSquashHdf5MemoryBound(t *testing.T) {
	g := fixture.Small()
	frame := g.NXPE * g.MXSUB * g.NYPE * g.MYSUB * g.MZSUB * 8
	dir := t.TempDir()
	s := &dataset.DiskStore{}
	newRun(t, s, filepath.Join(dir, "run"), g)

	tests := []struct {
		out      string
		maxBytes int
		ok       bool
	}{
		{"a.h5", g.NT * frame, true},
		{"b.h5", g.NT*frame - 1, false},
		{"c.sqsh", frame, true},
	}
	for i := range tests {
		out := filepath.Join(dir, tests[i].out)
		sq, err := NewSquasher(Config{Store: s, Root: filepath.Join(dir, "run"),
			MaxChunkBytes: tests[i].maxBytes})
		require.NoError(t, err)
		_, err = sq.Squash(context.Background(), SquashRequest{Output: out})
		if tests[i].ok {
			assert.NoError(t, err, "%d) Expected %s to be written.", i, out)
			continue
		}
		assert.True(t, errors.Is(err, g_error.ErrConfig),
			"%d) Expected a configuration error, got %v.", i, err)
		for _, p := range []string{out, tempPath(out)} {
			ok, err := s.Exists(p)
			require.NoError(t, err)
			assert.False(t, ok, "%d) Expected %s to be absent.", i, p)
		}
	}
}

func TestTempPath(t *testing.T) {
	assert.Equal(t, "out/.run.partial.sqsh", tempPath("out/run.sqsh"))
	assert.Equal(t, ".run.partial.h5", tempPath("run.h5"))
}
