// Package grid validates per-rank grid descriptors and builds the element-type
// dispatch table the connectivity engine consumes.
//
// A Descriptor maps fixed field names to caller-owned arrays. Nothing in this
// package copies, converts or pins those arrays: Validate and Plan only read
// lengths and the body tag, so a rejected descriptor leaves no trace.
package grid

import (
	"github.com/notargets/OversetGrid/buffer"
)

// Required descriptor field names
const (
	TetConn     = "tetConn"
	PyraConn    = "pyraConn"
	PrismConn   = "prismConn"
	HexaConn    = "hexaConn"
	WallNode    = "wallnode"
	OversetNode = "obcnode"
	BodyTag     = "bodyTag"
	Coordinates = "grid-coordinates"
	IBlank      = "iblanking"
)

// RequiredFields lists every field a descriptor must carry, in reporting order
var RequiredFields = []string{
	TetConn, PyraConn, PrismConn, HexaConn,
	WallNode, OversetNode, BodyTag, Coordinates, IBlank,
}

// FieldType returns the element type expected for a required field
func FieldType(name string) buffer.DataType {
	if name == Coordinates {
		return buffer.Float64
	}
	return buffer.INT32
}

// Descriptor is one rank's submission for one grid block
type Descriptor map[string]interface{}

// Validate checks that every required field is present with the expected
// element type. All offending fields are reported, not just the first.
func (d Descriptor) Validate() error {
	var missing, mistyped []string
	for _, name := range RequiredFields {
		v, ok := d[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if dt, ok := buffer.DataTypeOf(v); !ok || dt != FieldType(name) {
			mistyped = append(mistyped, name)
		}
	}
	if len(missing) > 0 || len(mistyped) > 0 {
		return &SchemaError{Missing: missing, Mistyped: mistyped}
	}
	return nil
}

// Float64s returns a float64 field, or nil when absent or mistyped
func (d Descriptor) Float64s(name string) []float64 {
	v, _ := d[name].([]float64)
	return v
}

// Int32s returns an int32 field, or nil when absent or mistyped
func (d Descriptor) Int32s(name string) []int32 {
	v, _ := d[name].([]int32)
	return v
}

// length returns the element count of a supported slice field
func (d Descriptor) length(name string) int {
	switch v := d[name].(type) {
	case []float64:
		return len(v)
	case []int32:
		return len(v)
	}
	return 0
}
