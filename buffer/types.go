package buffer

import (
	"fmt"
	"unsafe"
)

// DataType represents the element type of a borrowed host array
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case INT32:
		return "int32"
	case INT64:
		return "int64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// SizeOfType returns the size in bytes of a data type
func SizeOfType(dt DataType) int64 {
	switch dt {
	case Float32, INT32:
		return 4
	case Float64, INT64:
		return 8
	default:
		return 8
	}
}

// DataTypeOf returns the DataType of a host slice, and false when the host
// value is not one of the supported slice types
func DataTypeOf(host interface{}) (DataType, bool) {
	switch host.(type) {
	case []float32:
		return Float32, true
	case []float64:
		return Float64, true
	case []int32:
		return INT32, true
	case []int64:
		return INT64, true
	default:
		return 0, false
	}
}

// region is the address range covered by a host slice
type region struct {
	ptr   unsafe.Pointer
	bytes int64
}

func (r region) empty() bool { return r.bytes == 0 }

func (r region) overlaps(o region) bool {
	if r.empty() || o.empty() {
		return false
	}
	rStart, oStart := uintptr(r.ptr), uintptr(o.ptr)
	rEnd := rStart + uintptr(r.bytes)
	oEnd := oStart + uintptr(o.bytes)
	return rStart < oEnd && oStart < rEnd
}

// regionOf computes the backing memory range of a supported host slice.
// Zero-length slices cover no memory.
func regionOf(host interface{}) (r region, count int) {
	switch data := host.(type) {
	case []float32:
		count = len(data)
		if count > 0 {
			r = region{unsafe.Pointer(unsafe.SliceData(data)), int64(count) * 4}
		}
	case []float64:
		count = len(data)
		if count > 0 {
			r = region{unsafe.Pointer(unsafe.SliceData(data)), int64(count) * 8}
		}
	case []int32:
		count = len(data)
		if count > 0 {
			r = region{unsafe.Pointer(unsafe.SliceData(data)), int64(count) * 4}
		}
	case []int64:
		count = len(data)
		if count > 0 {
			r = region{unsafe.Pointer(unsafe.SliceData(data)), int64(count) * 8}
		}
	}
	return
}
