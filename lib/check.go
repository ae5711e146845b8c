package lib

/* check.go contains the core functions of squash's "check" mode. */

import (
	"context"

	"github.com/phil-mansfield/squash/lib/collect"
	"github.com/phil-mansfield/squash/lib/ctxlog"
	g_error "github.com/phil-mansfield/squash/lib/error"
)

// Check runs the squash "check" command on the provided Args: every file of
// the run is resolved and every requested variable is validated, but no
// variable data is read. With CrashOnError the first problem is returned as
// an error. With WarnOnError problems with individual variables are logged
// as warnings and Check carries on. If Check completes, it returns true if
// all tests passed and false otherwise.
func Check(ctx context.Context, args *Args) (bool, error) {
	if err := args.RequireInput(); err != nil { return false, err }
	c, err := collect.NewCollector(args.Config())
	if err != nil { return false, err }

	if args.Strictness == CrashOnError {
		if _, err := c.Validate(ctx, args.Variables); err != nil {
			return false, err
		}
		return true, nil
	}

	r, err := c.Inspect(ctx)
	if err != nil { return false, err }
	names := args.Variables
	if len(names) == 0 { names = r.Variables }

	log := ctxlog.FromContext(ctx)
	ok := true
	for _, name := range names {
		if _, err := c.Validate(ctx, []string{name}); err != nil {
			log.Warn("variable failed validation", "variable", name,
				"error", g_error.Classify(err))
			ok = false
		}
	}
	return ok, nil
}
