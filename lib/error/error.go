/*package error contains the error taxonomy used by every stage of a
collection and simple functions for reporting those errors from the command
line.

Library code never exits. It returns *Error values whose Kind classifies the
failure, and errors.Is matches both the Kind's sentinel and the wrapped cause:

    errors.Is(err, g_error.ErrIncompleteGrid)
    errors.Is(err, fs.ErrNotExist)
*/
package error

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"syscall"
)

// Kind classifies an error.
type Kind int

const (
	Unknown Kind = iota
	IncompleteGrid
	AmbiguousFile
	UnorderableGenerations
	LayoutMismatch
	MissingVariable
	DtypeMismatch
	ShapeMismatch
	IndexOutOfRange
	NonMonotonicTime
	OutputExists
	InsufficientSpace
	Config
	numKinds
)

var kindNames = [numKinds]string{
	"UnknownError",
	"IncompleteGridError",
	"AmbiguousFileError",
	"UnorderableGenerationsError",
	"LayoutMismatchError",
	"MissingVariableError",
	"DtypeMismatchError",
	"ShapeMismatchError",
	"IndexOutOfRangeError",
	"NonMonotonicTimeError",
	"OutputExistsError",
	"InsufficientSpaceError",
	"ConfigError",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds { return kindNames[Unknown] }
	return kindNames[k]
}

// Sentinels for errors.Is. Every *Error of a given Kind matches the
// corresponding sentinel.
var (
	ErrIncompleteGrid         = &sentinel{IncompleteGrid}
	ErrAmbiguousFile          = &sentinel{AmbiguousFile}
	ErrUnorderableGenerations = &sentinel{UnorderableGenerations}
	ErrLayoutMismatch         = &sentinel{LayoutMismatch}
	ErrMissingVariable        = &sentinel{MissingVariable}
	ErrDtypeMismatch          = &sentinel{DtypeMismatch}
	ErrShapeMismatch          = &sentinel{ShapeMismatch}
	ErrIndexOutOfRange        = &sentinel{IndexOutOfRange}
	ErrNonMonotonicTime       = &sentinel{NonMonotonicTime}
	ErrOutputExists           = &sentinel{OutputExists}
	ErrInsufficientSpace      = &sentinel{InsufficientSpace}
	ErrConfig                 = &sentinel{Config}
)

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return s.kind.String() }

// Error is a classified error. Path names the offending file (if any) and
// Field names the offending variable, attribute, or layout parameter.
type Error struct {
	Kind  Kind
	Path  string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (file %s)", e.Kind, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes both the Kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := []error{sentinelOf(e.Kind)}
	if e.Err != nil { out = append(out, e.Err) }
	return out
}

func sentinelOf(k Kind) error {
	switch k {
	case IncompleteGrid: return ErrIncompleteGrid
	case AmbiguousFile: return ErrAmbiguousFile
	case UnorderableGenerations: return ErrUnorderableGenerations
	case LayoutMismatch: return ErrLayoutMismatch
	case MissingVariable: return ErrMissingVariable
	case DtypeMismatch: return ErrDtypeMismatch
	case ShapeMismatch: return ErrShapeMismatch
	case IndexOutOfRange: return ErrIndexOutOfRange
	case NonMonotonicTime: return ErrNonMonotonicTime
	case OutputExists: return ErrOutputExists
	case InsufficientSpace: return ErrInsufficientSpace
	case Config: return ErrConfig
	}
	return &sentinel{Unknown}
}

// New creates an *Error of the given kind with a printf-style message.
func New(kind Kind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}

// InFile returns a copy of e tagged with the offending file.
func (e *Error) InFile(path string) *Error {
	out := *e
	out.Path = path
	return &out
}

// OnField returns a copy of e tagged with the offending field.
func (e *Error) OnField(field string) *Error {
	out := *e
	out.Field = field
	return &out
}

// IO wraps a storage-layer error with the path of the file it came from. The
// cause is kept so that callers can still test for fs.ErrNotExist and
// friends. A full disk is classified as InsufficientSpace, everything else
// keeps Kind Unknown.
func IO(path string, err error) error {
	if err == nil { return nil }
	var e *Error
	if errors.As(err, &e) && e.Path != "" { return err }

	kind := Unknown
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, ErrInsufficientSpace) {
		kind = InsufficientSpace
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) { return e.Kind }
	for k := Kind(1); k < numKinds; k++ {
		if errors.Is(err, sentinelOf(k)) { return k }
	}
	return Unknown
}

// External reports an error to stderr and kills the program. It should be
// used when an error is something a user could reasonably be expected to fix
// through changes in configuration/data/environment. The error's
// classification is printed first so that scripts can grep for it.
func External(err error) {
	fmt.Fprintf(os.Stderr, "error: %s\n", Classify(err))
	os.Exit(1)
}

// Classify renders err with its classification as a prefix.
func Classify(err error) string {
	var e *Error
	if errors.As(err, &e) && e == err { return err.Error() }
	return fmt.Sprintf("%s: %s", KindOf(err), err.Error())
}

// Internal reports an error to stderr along with a stack trace and kills the
// program. It should be used when the error requires a code dive to fix. It
// has the same signature as the standard fmt.*printf() functions.
func Internal(format string, a ...interface{}) {
	log.Println("squash exited early with the following internal error:")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n\n")
	debug.PrintStack()
	os.Exit(2)
}
