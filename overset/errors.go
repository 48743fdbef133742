package overset

import (
	"errors"
	"fmt"

	"github.com/notargets/OversetGrid/buffer"
	"github.com/notargets/OversetGrid/grid"
)

// LifecycleError reports an operation invoked in a session state that does
// not permit it
type LifecycleError struct {
	Op     string
	State  State
	Reason string
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("session: %s not permitted in state %s", e.Op, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// EngineError wraps a failure returned by the connectivity engine
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Error kinds reported by Kind
const (
	KindSchema    = "schema"
	KindShape     = "shape"
	KindEmptyGrid = "empty_grid"
	KindLifecycle = "lifecycle"
	KindResource  = "resource"
	KindEngine    = "engine"
	KindUnknown   = "unknown"
)

// Kind classifies an error returned by this package
func Kind(err error) string {
	var (
		schema    *grid.SchemaError
		shape     *grid.ShapeError
		empty     *grid.EmptyGridError
		lifecycle *LifecycleError
		resource  *buffer.ResourceError
		eng       *EngineError
	)
	switch {
	case errors.As(err, &schema):
		return KindSchema
	case errors.As(err, &shape):
		return KindShape
	case errors.As(err, &empty):
		return KindEmptyGrid
	case errors.As(err, &lifecycle):
		return KindLifecycle
	case errors.As(err, &resource):
		return KindResource
	case errors.As(err, &eng):
		return KindEngine
	default:
		return KindUnknown
	}
}
