package main

import (
	"context"
	"errors"
)

// errBuildFailed reports that diagnostics were printed and at least one
// unit failed. The message is never shown.
var errBuildFailed = errors.New("build failed")

const (
	exitOK       = 0
	exitFailed   = 1
	exitUsage    = 2
	exitCanceled = 130
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errBuildFailed):
		return exitFailed
	case errors.Is(err, context.Canceled):
		return exitCanceled
	default:
		return exitUsage
	}
}
