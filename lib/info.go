package lib

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/phil-mansfield/squash/lib/collect"
)

// Info runs squash's "info" mode, which describes a run without reading any
// variable data.
func Info(ctx context.Context, args *Args, w io.Writer) error {
	if err := args.RequireInput(); err != nil { return err }
	c, err := collect.NewCollector(args.Config())
	if err != nil { return err }
	r, err := c.Inspect(ctx)
	if err != nil { return err }

	fmt.Fprintf(w, "Layout: %s\n", r.Layout)
	fmt.Fprintf(w, "Generations: %d (%d files)\n", len(r.Generations), r.Files())
	for g, gen := range r.Generations {
		times := r.Times[g]
		span := "no time points"
		if len(times) > 0 {
			span = fmt.Sprintf("t = %g to %g", times[0], times[len(times)-1])
		}
		fmt.Fprintf(w, "    %d) %s: %d files, %d time points, %s\n", g,
			gen.Dir, len(gen.Files), len(times), span)
	}

	kept := map[int]int{}
	for _, src := range r.Axis.Sources { kept[src.Gen]++ }
	if n := r.Axis.Len(); n > 0 {
		fmt.Fprintf(w, "Time axis: %d points, t = %g to %g\n", n,
			r.Axis.Times[0], r.Axis.Times[n-1])
	} else {
		fmt.Fprintln(w, "Time axis: empty")
	}
	for g := range r.Generations {
		if dropped := len(r.Times[g]) - kept[g]; dropped > 0 {
			fmt.Fprintf(w, "    generation %d: %d points replaced by a "+
				"later generation\n", g, dropped)
		}
	}

	fmt.Fprintf(w, "Variables: %d\n", len(r.Infos))
	for _, info := range r.Infos {
		dims := make([]string, len(info.Dims))
		for i := range dims { dims[i] = fmt.Sprintf("%s=%d", info.Dims[i], info.Shape[i]) }
		fmt.Fprintf(w, "    %-20s %-8s (%s)\n", info.Name, info.DType,
			strings.Join(dims, ", "))
	}
	return nil
}
