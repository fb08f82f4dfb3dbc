package assets

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates the descriptor is malformed or missing a required field
	ErrConfig = errors.New("invalid configuration")
	// ErrResolution indicates the entry module or a copy source could not be found
	ErrResolution = errors.New("unresolved input")
	// ErrWrite indicates the output directory or an output file could not be written
	ErrWrite = errors.New("write failed")
	// ErrBundle indicates esbuild rejected the entry module
	ErrBundle = errors.New("bundle failed")
	// ErrVerify indicates an output no longer matches its source
	ErrVerify = errors.New("verification failed")
)

// Exit statuses returned by the bundlekit CLI.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitConfigError = 2
	ExitResolution  = 3
	ExitWriteError  = 4
)

// PathError records the operation and file that caused a build failure.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func pathError(kind error, op, path string, cause error) error {
	if cause == nil {
		return &PathError{Op: op, Path: path, Err: kind}
	}
	return &PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// ExitCode maps a build error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrConfig):
		return ExitConfigError
	case errors.Is(err, ErrResolution), errors.Is(err, ErrVerify):
		return ExitResolution
	case errors.Is(err, ErrWrite):
		return ExitWriteError
	default:
		return ExitFailure
	}
}
