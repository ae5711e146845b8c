package fileset

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/fixture"
)

func TestProcIndex(t *testing.T) {
	tests := []struct {
		name string
		i    int
		ok   bool
	}{
		{"BOUT.dmp.0.nc", 0, true},
		{"BOUT.dmp.12.sqsh", 12, true},
		{"BOUT.dmp.nc", -1, true},
		{"BOUT.dmp.01.nc", 0, false},
		{"BOUT.dmp.-1.nc", 0, false},
		{"BOUT.dmp.a.nc", 0, false},
		{"BOUT.dmp.3.txt", 0, false},
		{"BOUT.restart.3.nc", 0, false},
		{"BOUT.dmp", 0, false},
	}
	for i := range tests {
		idx, ok := ProcIndex("BOUT.dmp", tests[i].name)
		if ok != tests[i].ok || (ok && idx != tests[i].i) {
			t.Errorf("%d) Expected ProcIndex('%s') = (%d, %v), got (%d, %v).",
				i, tests[i].name, tests[i].i, tests[i].ok, idx, ok)
		}
	}
}

func writeGen(t *testing.T, s dataset.Store, dir string, t0 float64) *fixture.Run {
	g := fixture.Small()
	g.T0 = t0
	r := fixture.New(g)
	require.NoError(t, r.Write(s, dir, ".sqsh"))
	return r
}

func TestResolveSingleGeneration(t *testing.T) {
	s := dataset.NewMemStore()
	r := writeGen(t, s, "run", 0)

	res := &Resolver{Store: s}
	gens, err := res.Resolve("run", nil)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "run", gens[0].Dir)
	assert.Equal(t, r.Files, gens[0].Files)
	assert.Equal(t, 2, gens[0].NXPE)
	assert.Equal(t, 3, gens[0].NYPE)

	files, err := gens[0].Open(s)
	require.NoError(t, err)
	assert.Len(t, files, 6)
	assert.NoError(t, Close(files))
}

func TestResolveGenerations(t *testing.T) {
	s := dataset.NewMemStore()
	writeGen(t, s, "run/restart_10", 6)
	writeGen(t, s, "run/restart_2", 3)
	writeGen(t, s, "run/initial", 0)

	res := &Resolver{Store: s}
	gens, err := res.Resolve("run", nil)
	require.NoError(t, err)
	require.Len(t, gens, 3)
	assert.Equal(t, "run/initial", gens[0].Dir)
	assert.Equal(t, "run/restart_2", gens[1].Dir)
	assert.Equal(t, "run/restart_10", gens[2].Dir)
	assert.Equal(t, []float64{0, 3, 6}, []float64{gens[0].Key, gens[1].Key, gens[2].Key})

	_, err = (&Resolver{Store: s, Order: SuffixKey{}}).Resolve("run", nil)
	assert.True(t, errors.Is(err, g_error.ErrUnorderableGenerations))

	explicit := []string{"run/restart_10", "run/initial"}
	gens, err = res.Resolve("", explicit)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, "run/restart_10", gens[0].Dir)
	assert.Equal(t, "run/initial", gens[1].Dir)
}

func TestResolveSuffixKey(t *testing.T) {
	s := dataset.NewMemStore()
	writeGen(t, s, "run/restart_10", 0)
	writeGen(t, s, "run/restart_2", 0)

	_, err := (&Resolver{Store: s}).Resolve("run", nil)
	assert.True(t, errors.Is(err, g_error.ErrUnorderableGenerations))

	gens, err := (&Resolver{Store: s, Order: SuffixKey{}}).Resolve("run", nil)
	require.NoError(t, err)
	assert.Equal(t, "run/restart_2", gens[0].Dir)
	assert.Equal(t, "run/restart_10", gens[1].Dir)
}

func TestResolveErrors(t *testing.T) {
	s := dataset.NewMemStore()
	r := writeGen(t, s, "missing", 0)
	require.NoError(t, s.Remove(r.Files[4]))

	writeGen(t, s, "dup", 0)
	require.NoError(t, s.Put("dup/BOUT.dmp.3.nc", nil, nil, nil))

	r = writeGen(t, s, "extra", 0)
	require.NoError(t, s.Put("extra/BOUT.dmp.6.sqsh", nil, nil, nil))

	r = fixture.New(fixture.Small())
	r.Remove(0, "NYPE")
	require.NoError(t, r.Write(s, "nogrid", ".sqsh"))

	s.MkdirAll("empty/sub")

	tests := []struct {
		root string
		err  error
		path string
	}{
		{"missing", g_error.ErrIncompleteGrid, "missing"},
		{"dup", g_error.ErrAmbiguousFile, "dup/BOUT.dmp.3.sqsh"},
		{"extra", g_error.ErrAmbiguousFile, "extra/BOUT.dmp.6.sqsh"},
		{"nogrid", g_error.ErrMissingVariable, "nogrid/BOUT.dmp.0.sqsh"},
		{"empty", g_error.ErrIncompleteGrid, "empty"},
	}
	for i := range tests {
		_, err := (&Resolver{Store: s}).Resolve(tests[i].root, nil)
		if !errors.Is(err, tests[i].err) {
			t.Errorf("%d) Expected %v from '%s', got %v.", i,
				tests[i].err, tests[i].root, err)
			continue
		}
		var e *g_error.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, tests[i].path, e.Path, "%d)", i)
	}

	_, err := (&Resolver{Store: s}).Resolve("", []string{"empty"})
	assert.True(t, errors.Is(err, g_error.ErrIncompleteGrid))
}

func TestResolveSingleFile(t *testing.T) {
	g := fixture.Small()
	g.NXPE, g.NYPE = 1, 1
	r := fixture.New(g)

	s := &dataset.DiskStore{}
	dir := t.TempDir()
	require.NoError(t, r.Write(s, dir, ".sqsh"))
	fname := filepath.Join(dir, "BOUT.dmp.sqsh")
	require.NoError(t, s.Rename(r.Files[0], fname))

	gens, err := (&Resolver{Store: s}).Resolve(fname, nil)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, []string{fname}, gens[0].Files)

	gens, err = (&Resolver{Store: s}).Resolve(dir, nil)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, []string{fname}, gens[0].Files)

	big := fixture.New(fixture.Small())
	require.NoError(t, big.Write(s, dir, ".sqsh"))
	_, err = (&Resolver{Store: s}).Resolve(big.Files[0], nil)
	assert.True(t, errors.Is(err, g_error.ErrIncompleteGrid))
}

func TestOrderKeys(t *testing.T) {
	s := dataset.NewMemStore()
	writeGen(t, s, "a/run7", 2.5)
	g := &Generation{Dir: "a/run7", Files: []string{"a/run7/BOUT.dmp.0.sqsh"}}

	key, ok, err := SuffixKey{}.Key(s, g)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.0, key)

	key, ok, err = FirstTimeKey{}.Key(s, g)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, key)

	_, ok, err = FirstTimeKey{Var: "nope"}.Key(s, g)
	assert.NoError(t, err)
	assert.False(t, ok)

	key, ok, _ = ExplicitKey{"b", "a/run7/"}.Key(s, g)
	assert.True(t, ok)
	assert.Equal(t, 1.0, key)

	_, ok, _ = SuffixKey{}.Key(s, &Generation{Dir: "a/initial"})
	assert.False(t, ok)
}

func TestFirstTimeKeyNaN(t *testing.T) {
	s := dataset.NewMemStore()
	writeGen(t, s, "run/a", math.NaN())
	writeGen(t, s, "run/b", 4)
	g := &Generation{Dir: "run/a", Files: []string{"run/a/BOUT.dmp.0.sqsh"}}

	_, ok, err := FirstTimeKey{}.Key(s, g)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = (&Resolver{Store: s}).Resolve("run", nil)
	assert.True(t, errors.Is(err, g_error.ErrUnorderableGenerations), "got %v", err)
}
