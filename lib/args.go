package lib

import (
	"flag"
	"fmt"
	"io"
	"reflect"
	"strings"

	"gopkg.in/gcfg.v1"

	g_error "github.com/phil-mansfield/squash/lib/error"
	"github.com/phil-mansfield/squash/lib/fileset"
	"github.com/phil-mansfield/squash/lib/format"
	"github.com/phil-mansfield/squash/lib/layout"
)

// RawArgs stores the unprocessed values which the user assigned to each config
// variable. Config files put these in a [squash] section:
//
//     [squash]
//     Input = data
//     Output = data/BOUT.squashed.h5
//     KeepBoundaries = true
//     Times = 0:100
type RawArgs struct {
	Input            string
	Generations      string
	Prefix           string
	Order            string
	Output           string
	Variables        string
	KeepBoundaries   bool
	BoundaryAxes     string
	InteriorGuards   bool
	Times            string
	ChunkSize        int
	MaxChunkBytes    int
	CompressionLevel int
	Force            bool
	Verbose          bool
	WarnOnError      bool

	// set records which fields were given explicitly on the command line.
	set map[string]bool
}

// Args stores configuration information. It is a post-processed version of
// RawArgs.
type Args struct {
	Input            string
	Generations      []string
	Prefix           string
	// Order is nil unless the user picked an ordering of generations.
	Order            fileset.OrderKey
	Output           string
	Variables        []string
	Guards           layout.GuardPolicy
	Times            format.Selection
	ChunkSize        int
	MaxChunkBytes    int
	CompressionLevel int
	Force            bool
	Verbose          bool
	Strictness       CheckStrictness
}

type configFile struct {
	Squash RawArgs
}

// ParseCommandLine parses the command line arguments and returns the mode
// squash is being run in, the name of the config file, and any arguments which
// were set. Expects that the arguments (without the program name) are
// presented in the order:
// $ squash <mode> [config file] [--<Arg1> <Value1>] [--<Arg2> <Value2>]
func ParseCommandLine(argv []string) (mode, configFile string, args *RawArgs, err error) {
	if len(argv) == 0 {
		return "", "", nil, g_error.New(g_error.Config, "no mode was given. "+
			"Run 'squash help' for usage")
	}
	mode, argv = argv[0], argv[1:]
	if len(argv) > 0 && !strings.HasPrefix(argv[0], "-") {
		configFile, argv = argv[0], argv[1:]
	}

	args = &RawArgs{set: map[string]bool{}}
	fs := flag.NewFlagSet("squash", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	args.register(fs)
	if err := fs.Parse(argv); err != nil {
		return "", "", nil, g_error.New(g_error.Config, "could not parse "+
			"the command line: %s", err.Error())
	}
	if fs.NArg() > 0 {
		return "", "", nil, g_error.New(g_error.Config, "unexpected "+
			"argument '%s'. Arguments must be given as --<Arg> <Value>",
			fs.Arg(0))
	}
	fs.Visit(func(f *flag.Flag) { args.set[f.Name] = true })
	return mode, configFile, args, nil
}

func (args *RawArgs) register(fs *flag.FlagSet) {
	fs.StringVar(&args.Input, "Input", "", "run directory or dump file")
	fs.StringVar(&args.Generations, "Generations", "", "comma-separated generation directories")
	fs.StringVar(&args.Prefix, "Prefix", "", "dump file prefix")
	fs.StringVar(&args.Order, "Order", "", "generation order: time or suffix")
	fs.StringVar(&args.Output, "Output", "", "squashed output file")
	fs.StringVar(&args.Variables, "Variables", "", "comma-separated variables")
	fs.BoolVar(&args.KeepBoundaries, "KeepBoundaries", false, "keep domain boundary guard cells")
	fs.StringVar(&args.BoundaryAxes, "BoundaryAxes", "", "axes that keep boundary cells")
	fs.BoolVar(&args.InteriorGuards, "InteriorGuards", false, "keep interior guard cells")
	fs.StringVar(&args.Times, "Times", "", "time selection")
	fs.IntVar(&args.ChunkSize, "ChunkSize", 0, "time points per chunk")
	fs.IntVar(&args.MaxChunkBytes, "MaxChunkBytes", 0, "maximum bytes per chunk")
	fs.IntVar(&args.CompressionLevel, "CompressionLevel", 0, "zstd level for .sqsh output")
	fs.BoolVar(&args.Force, "Force", false, "overwrite the output file")
	fs.BoolVar(&args.Verbose, "Verbose", false, "debug logging")
	fs.BoolVar(&args.WarnOnError, "WarnOnError", false, "report every problem in check mode")
}

// ParseConfigFile parses arguments from a config file. An empty file name
// gives empty arguments.
func ParseConfigFile(fileName string) (*RawArgs, error) {
	cfg := &configFile{}
	if fileName == "" { return &cfg.Squash, nil }
	if err := gcfg.ReadFileInto(cfg, fileName); err != nil {
		return nil, g_error.New(g_error.Config, "could not read the config "+
			"file %s: %s", fileName, err.Error()).InFile(fileName)
	}
	return &cfg.Squash, nil
}

// ParseConfigString is ParseConfigFile for a config held in memory.
func ParseConfigString(text string) (*RawArgs, error) {
	cfg := &configFile{}
	if err := gcfg.ReadStringInto(cfg, text); err != nil {
		return nil, g_error.New(g_error.Config, "could not parse the "+
			"config: %s", err.Error())
	}
	return &cfg.Squash, nil
}

// Overwrite arguments in arg1 which have been set in arg2. Arguments parsed
// from the command line count as set if they were given. Otherwise they
// count as set if they have non-default values.
func (arg1 *RawArgs) Overwrite(arg2 *RawArgs) {
	v1, v2 := reflect.ValueOf(arg1).Elem(), reflect.ValueOf(arg2).Elem()
	t := v1.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() { continue }
		given := arg2.set[f.Name]
		if arg2.set == nil { given = !v2.Field(i).IsZero() }
		if given { v1.Field(i).Set(v2.Field(i)) }
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" { out = append(out, tok) }
	}
	return out
}

// Process converts the raw user input to a format which is more useful for
// internal functions. Very simple validation will be done here, but nothing
// which requires interacting with external files.
func (args *RawArgs) Process() (*Args, error) {
	out := &Args{
		Input: args.Input, Generations: splitList(args.Generations),
		Prefix: args.Prefix, Output: args.Output,
		Variables: splitList(args.Variables),
		ChunkSize: args.ChunkSize, MaxChunkBytes: args.MaxChunkBytes,
		CompressionLevel: args.CompressionLevel,
		Force: args.Force, Verbose: args.Verbose,
		Guards: layout.GuardPolicy{
			KeepInteriorGuards: args.InteriorGuards,
			KeepDomainGuards:   args.KeepBoundaries,
			Axes:               splitList(args.BoundaryAxes),
		},
	}
	if args.WarnOnError { out.Strictness = WarnOnError }

	if err := out.Guards.Check(); err != nil { return nil, err }
	if len(out.Guards.Axes) > 0 && !out.Guards.KeepDomainGuards {
		return nil, g_error.New(g_error.Config, "BoundaryAxes was set to "+
			"'%s', but KeepBoundaries is false", args.BoundaryAxes)
	}

	for _, x := range []struct {
		name string
		v    int
	}{{"ChunkSize", args.ChunkSize}, {"MaxChunkBytes", args.MaxChunkBytes}} {
		if x.v < 0 {
			return nil, g_error.New(g_error.Config, "%s is %d, but must be "+
				"non-negative", x.name, x.v)
		}
	}

	var err error
	if out.Order, err = fileset.ParseOrder(args.Order); err != nil {
		return nil, err
	}
	if out.Times, err = format.ParseSelection(args.Times); err != nil {
		return nil, err
	}
	return out, nil
}

// RequireInput returns an error if no input was configured.
func (args *Args) RequireInput() error {
	if args.Input == "" && len(args.Generations) == 0 {
		return g_error.New(g_error.Config, "neither Input nor Generations "+
			"was set")
	}
	return nil
}

func (args *Args) String() string {
	return fmt.Sprintf("Input=%q Generations=%v Output=%q Variables=%v "+
		"Guards=%s Times=%s", args.Input, args.Generations, args.Output,
		args.Variables, args.Guards, args.Times)
}
