/*package stitch joins the time axes of successive restart generations into a
single axis.

A restarted simulation usually re-runs a few output steps from its last
checkpoint, so generation N+1 can begin at or before the last time written by
generation N. Stitch drops the overlapping tail of the earlier generation:
the later generation is the authoritative continuation. Gaps between
generations are left alone.
*/
package stitch

import (
	"fmt"

	"github.com/phil-mansfield/squash/lib/dataset"
	g_error "github.com/phil-mansfield/squash/lib/error"
)

// Source identifies where one output time point is read from: the local time
// index Index within generation Gen.
type Source struct {
	Gen, Index int
}

// Axis is a stitched time axis. Times[i] is read from Sources[i].
type Axis struct {
	Times   []float64
	Sources []Source
}

// Stitch builds a time axis from the time values of each generation, given
// in generation order. Empty generations contribute nothing. Times must
// strictly increase within a generation and, once overlaps are resolved,
// across the whole axis; otherwise a NonMonotonicTime error is returned.
func Stitch(times [][]float64) (*Axis, error) {
	a := &Axis{}
	for g, ts := range times {
		for i := 1; i < len(ts); i++ {
			if !(ts[i] > ts[i-1]) {
				return nil, g_error.New(g_error.NonMonotonicTime, "time "+
					"does not increase within generation %d: t[%d] = %g "+
					"follows t[%d] = %g", g, i, ts[i], i-1, ts[i-1])
			}
		}
		if len(ts) == 0 { continue }

		n := len(a.Times)
		for n > 0 && a.Times[n-1] >= ts[0] { n-- }
		a.Times, a.Sources = a.Times[:n], a.Sources[:n]

		for i := range ts {
			a.Times = append(a.Times, ts[i])
			a.Sources = append(a.Sources, Source{g, i})
		}
	}

	for i := 1; i < len(a.Times); i++ {
		if !(a.Times[i] > a.Times[i-1]) {
			return nil, g_error.New(g_error.NonMonotonicTime, "time does "+
				"not increase across generations: %g (generation %d) "+
				"follows %g (generation %d)", a.Times[i], a.Sources[i].Gen,
				a.Times[i-1], a.Sources[i-1].Gen)
		}
	}
	return a, nil
}

// Len returns the number of time points on the axis.
func (a *Axis) Len() int { return len(a.Times) }

// Select returns the axis restricted to the given output indices, which
// must be valid and increasing.
func (a *Axis) Select(idx []int) *Axis {
	out := &Axis{
		Times:   make([]float64, len(idx)),
		Sources: make([]Source, len(idx)),
	}
	for i, j := range idx {
		out.Times[i], out.Sources[i] = a.Times[j], a.Sources[j]
	}
	return out
}

// Generations returns the generations that contribute at least one point.
func (a *Axis) Generations() []int {
	gens := []int{}
	for i, src := range a.Sources {
		if i == 0 || src.Gen != a.Sources[i-1].Gen {
			gens = append(gens, src.Gen)
		}
	}
	return gens
}

// Run is a block of consecutive output time points read from a single
// generation with a constant stride between local indices. Output points
// [Out, Out + Local.Count) come from Local.
type Run struct {
	Gen   int
	Out   int
	Local dataset.Slice
}

func (r Run) String() string {
	return fmt.Sprintf("gen %d [%d:%d:%d] -> out[%d:%d]", r.Gen,
		r.Local.Start, r.Local.Last()+1, r.Local.Stride, r.Out,
		r.Out+r.Local.Count)
}

// Runs splits the axis into the fewest runs that can each be read with a
// single strided slice.
func (a *Axis) Runs() []Run {
	runs := []Run{}
	for i, src := range a.Sources {
		if len(runs) > 0 {
			r := &runs[len(runs)-1]
			if r.Gen == src.Gen {
				switch {
				case r.Local.Count == 1 && src.Index > r.Local.Start:
					r.Local.Stride = src.Index - r.Local.Start
					r.Local.Count++
					continue
				case r.Local.Count > 1 && src.Index == r.Local.Last()+r.Local.Stride:
					r.Local.Count++
					continue
				}
			}
		}
		sel := dataset.Slice{Start: src.Index, Count: 1, Stride: 1}
		runs = append(runs, Run{src.Gen, i, sel})
	}
	return runs
}

// Chunk splits a run into pieces of at most n time points.
func (r Run) Chunk(n int) []Run {
	if n <= 0 || r.Local.Count <= n { return []Run{r} }
	out := []Run{}
	for k := 0; k < r.Local.Count; k += n {
		count := n
		if k+count > r.Local.Count { count = r.Local.Count - k }
		out = append(out, Run{r.Gen, r.Out + k, dataset.Slice{
			Start: r.Local.Index(k), Count: count, Stride: r.Local.Stride,
		}})
	}
	return out
}
