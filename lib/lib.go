/*package lib contains the functions behind squash's command line modes:
argument parsing, the "check" and "info" modes, and the glue between Args and
the collect package. Almost all of the heavy lifting is done by lib/'s
subpackages.
*/
package lib

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/phil-mansfield/squash/lib/collect"
	"github.com/phil-mansfield/squash/lib/dataset"
	"github.com/phil-mansfield/squash/lib/fileset"
)

// Version is the version of the software. It is recorded in the provenance
// attribute of every squashed file.
var Version = collect.Version

// NewLogger returns the text logger the command line tools write to. Verbose
// loggers include debug messages.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose { level = slog.LevelDebug }
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Config converts Args into the configuration of a Collector or Squasher
// that reads from the local filesystem.
func (args *Args) Config() collect.Config {
	cfg := collect.Config{
		Store:         &dataset.DiskStore{Level: args.CompressionLevel},
		Root:          args.Input,
		Generations:   args.Generations,
		Prefix:        args.Prefix,
		Guards:        args.Guards,
		ChunkSize:     args.ChunkSize,
		MaxChunkBytes: args.MaxChunkBytes,
	}
	switch {
	case args.Order != nil: cfg.Order = args.Order
	case len(args.Generations) > 0:
		cfg.Order = fileset.ExplicitKey(args.Generations)
	}
	return cfg
}

// PrintHelp writes usage information.
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `squash %s merges the per-process dump files of a BOUT++ run into one file.

Usage:
    squash <mode> [config file] [--<Arg> <Value> ...]

Modes:
    help    Print this message.
    check   Validate every file and variable without reading any data.
    info    Print the layout, generations, time axis, and variables of a run.
    squash  Write every variable of the run to Output.

Arguments (in a config file, put them in a [squash] section):
%s
Times and selections use start:stop[:stride] ranges, single indices, or
sequences like "0..100 - 63".
`, Version, argumentHelp())
}

func argumentHelp() string {
	lines := [][2]string{
		{"Input", "Run directory, directory of restart directories, or dump file."},
		{"Generations", "Comma-separated generation directories, in order."},
		{"Prefix", "Dump file prefix. Default: " + fileset.DefaultPrefix},
		{"Order", "Generation order: time or suffix. Default: Generations, then time."},
		{"Output", "Squashed file. .h5 or .hdf5 writes HDF5; .sqsh writes a compressed file."},
		{"Variables", "Comma-separated variables. Default: all of them."},
		{"KeepBoundaries", "Keep guard cells at real domain boundaries."},
		{"BoundaryAxes", "Restrict KeepBoundaries to these axes, e.g. y."},
		{"InteriorGuards", "Keep guard cells between processes. Not supported."},
		{"Times", "Output time points to keep. Default: all."},
		{"ChunkSize", "Time points assembled at once. Default: from MaxChunkBytes."},
		{"MaxChunkBytes", "Bound on the size of one chunk. Default: 64 MiB."},
		{"CompressionLevel", "zstd level for .sqsh output."},
		{"Force", "Overwrite Output if it exists."},
		{"Verbose", "Log every generation and chunk."},
		{"WarnOnError", "In check mode, report every bad variable."},
	}
	sb := &strings.Builder{}
	for _, l := range lines { fmt.Fprintf(sb, "    %-17s %s\n", l[0], l[1]) }
	return sb.String()
}
