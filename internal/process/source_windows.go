//go:build windows

package process

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by the Windows source, which has no portable way
// to read another process's working directory.
var ErrUnsupported = errors.New("process table enumeration is not supported on windows")

type unsupportedSource struct{}

// NewSource returns a source whose snapshots always fail with [ErrUnsupported].
func NewSource(WantCwdFunc) Source { return unsupportedSource{} }

func (unsupportedSource) Snapshot(context.Context) (Table, error) { return nil, ErrUnsupported }
