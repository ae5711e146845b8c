package fileset

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
)

// OrderKey derives a chronological sort key for a generation. ok is false if
// no key can be derived, in which case a run with several generations cannot
// be ordered.
type OrderKey interface {
	Key(s dataset.Store, g *Generation) (key float64, ok bool, err error)
	fmt.Stringer
}

// Type assertions
var (
	_ OrderKey = SuffixKey{}
	_ OrderKey = ExplicitKey{}
	_ OrderKey = FirstTimeKey{}
)

// SuffixKey orders generations by the integer at the end of their directory
// names, e.g. "restart_2" or "run03".
type SuffixKey struct{}

var suffixRe = regexp.MustCompile(`(\d+)$`)

func (SuffixKey) Key(s dataset.Store, g *Generation) (float64, bool, error) {
	m := suffixRe.FindStringSubmatch(path.Base(g.Dir))
	if m == nil { return 0, false, nil }
	n, err := strconv.Atoi(m[1])
	if err != nil { return 0, false, nil }
	return float64(n), true, nil
}

func (SuffixKey) String() string { return "the directory-suffix ordering" }

// ExplicitKey orders generations by the position of their directories in the
// list.
type ExplicitKey []string

func (k ExplicitKey) Key(s dataset.Store, g *Generation) (float64, bool, error) {
	for i, dir := range k {
		if path.Clean(dir) == path.Clean(g.Dir) { return float64(i), true, nil }
	}
	return 0, false, nil
}

func (k ExplicitKey) String() string { return "the explicit generation list" }

// FirstTimeKey orders generations by the first value of the time variable
// in processor 0's file.
type FirstTimeKey struct {
	// Var is the name of the time variable. Empty means TimeVar.
	Var string
}

// TimeVar is the variable BOUT++ stores output times in.
const TimeVar = "t_array"

func (k FirstTimeKey) name() string {
	if k.Var == "" { return TimeVar }
	return k.Var
}

func (k FirstTimeKey) Key(s dataset.Store, g *Generation) (float64, bool, error) {
	if len(g.Files) == 0 { return 0, false, nil }
	f, err := s.Open(g.Files[0])
	if err != nil { return 0, false, g_error.IO(g.Files[0], err) }
	defer f.Close()

	info, ok := dataset.Lookup(f, k.name())
	if !ok || info.Rank() != 1 || info.Shape[0] == 0 { return 0, false, nil }
	sel := []dataset.Slice{{Start: 0, Count: 1, Stride: 1}}
	arr, err := f.ReadSlice(info.Name, sel)
	if err != nil { return 0, false, g_error.IO(g.Files[0], err) }
	t, err := arr.Scalar()
	if err != nil { return 0, false, g_error.IO(g.Files[0], err) }
	if math.IsNaN(t) { return 0, false, nil }
	return t, true, nil
}

func (k FirstTimeKey) String() string {
	return fmt.Sprintf("the first value of '%s'", k.name())
}

// ParseOrder returns the OrderKey named by s: "time" for FirstTimeKey,
// "suffix" for SuffixKey. The empty string gives nil.
func ParseOrder(s string) (OrderKey, error) {
	switch s {
	case "": return nil, nil
	case "time": return FirstTimeKey{}, nil
	case "suffix": return SuffixKey{}, nil
	}
	return nil, g_error.New(g_error.Config, "the generation order '%s' is "+
		"not one of 'time' or 'suffix'", s)
}
