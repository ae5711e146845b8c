package main

import (
	"context"
	"fmt"
	"os"

	"github.com/phil-mansfield/squash/lib"
	"github.com/phil-mansfield/squash/lib/collect"
	"github.com/phil-mansfield/squash/lib/ctxlog"
	g_error "github.com/phil-mansfield/squash/lib/error"
)

func main() {
	// Parse arguments.
	mode, configFile, cmdArgs, err := lib.ParseCommandLine(os.Args[1:])
	if err != nil { g_error.External(err) }
	if mode == "help" {
		lib.PrintHelp(os.Stdout)
		return
	}

	rawArgs, err := lib.ParseConfigFile(configFile)
	if err != nil { g_error.External(err) }
	rawArgs.Overwrite(cmdArgs)

	// Do processing that doesn't need external validation.
	args, err := rawArgs.Process()
	if err != nil { g_error.External(err) }

	logger := lib.NewLogger(os.Stderr, args.Verbose)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("parsed arguments", "mode", mode, "args", args.String())

	// Run the chosen mode.
	switch mode {
	case "check":
		Check(ctx, args)
	case "info":
		if err := lib.Info(ctx, args, os.Stdout); err != nil { g_error.External(err) }
	case "squash":
		Squash(ctx, args)
	default:
		g_error.External(g_error.New(g_error.Config, "You attempted to run "+
			"squash in the mode '%s', but the only valid modes are 'help', "+
			"'check', 'info', and 'squash'.", mode))
	}
}

// Check runs squash's "check" mode which tests for errors in the configuration
// arguments and in the run's files.
func Check(ctx context.Context, args *lib.Args) {
	ok, err := lib.Check(ctx, args)
	if err != nil { g_error.External(err) }
	if !ok { os.Exit(1) }
	fmt.Println("No errors detected.")
}

// Squash runs squash's "squash" mode, which writes every variable of a run
// into a single file.
func Squash(ctx context.Context, args *lib.Args) {
	if err := args.RequireInput(); err != nil { g_error.External(err) }
	sq, err := collect.NewSquasher(args.Config())
	if err != nil { g_error.External(err) }

	rep, err := sq.Squash(ctx, collect.SquashRequest{
		Output: args.Output, Variables: args.Variables,
		Times: args.Times, Force: args.Force,
	})
	if err != nil { g_error.External(err) }
	fmt.Print(rep)
}
