package main

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/blockdiff/bidiff/internal/bidifferr"
)

// Exit codes, stable across releases so scripts can branch on them.
const (
	exitOK            = 0
	exitUsage         = 1
	exitConfigInvalid = 1
	exitIO            = 2
	exitPatchCorrupt  = 3
	exitSizeMismatch  = 3
	exitCanceled      = 6
	exitIndexOverfull = 7
)

// exitCodeFor maps a returned error to a process exit code so callers
// can distinguish "bad input file" from "ran out of memory" from
// "patch doesn't apply" without parsing stderr text.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ce cli.ExitCoder
	if errors.As(err, &ce) {
		return ce.ExitCode()
	}
	switch {
	case errors.Is(err, bidifferr.ErrConfigInvalid):
		return exitConfigInvalid
	case errors.Is(err, bidifferr.ErrPatchCorrupt):
		return exitPatchCorrupt
	case errors.Is(err, bidifferr.ErrSizeMismatch):
		return exitSizeMismatch
	case errors.Is(err, bidifferr.ErrCanceled):
		return exitCanceled
	case errors.Is(err, bidifferr.ErrIndexOverfull):
		return exitIndexOverfull
	case errors.Is(err, bidifferr.ErrIO):
		return exitIO
	default:
		return exitUsage
	}
}
