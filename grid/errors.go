package grid

import (
	"fmt"
	"strings"
)

// SchemaError reports required descriptor fields that are absent or carry the
// wrong element type
type SchemaError struct {
	Missing  []string
	Mistyped []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	for _, name := range e.Mistyped {
		parts = append(parts, fmt.Sprintf("field %s must be []%s", name, FieldType(name)))
	}
	return "grid descriptor: " + strings.Join(parts, "; ")
}

// Names returns every offending field
func (e *SchemaError) Names() []string {
	return append(append([]string{}, e.Missing...), e.Mistyped...)
}

// ShapeError reports an array whose length does not fit its declared layout
type ShapeError struct {
	Field   string
	Length  int
	Divisor int
	Reason  string
}

func (e *ShapeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("grid descriptor: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("grid descriptor: %s length %d is not a multiple of %d",
		e.Field, e.Length, e.Divisor)
}

// EmptyGridError reports a descriptor with no cells of any element type
type EmptyGridError struct{}

func (e *EmptyGridError) Error() string {
	return "grid descriptor: no element type has cells; the engine requires at least one"
}
