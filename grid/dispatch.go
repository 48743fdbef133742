package grid

import (
	"gonum.org/v1/gonum/mat"
)

// Geometry holds the quantities derived from a validated descriptor
type Geometry struct {
	BodyTag      int32
	NodeCount    int
	WallCount    int
	OversetCount int
	Elements     ElementTable // Conn handles are unset
}

// CellCount returns length/arity for a flat connectivity array, rejecting a
// length that is not an exact multiple of arity
func CellCount(field string, length, arity int) (int, error) {
	if arity <= 0 || length%arity != 0 {
		return 0, &ShapeError{Field: field, Length: length, Divisor: arity}
	}
	return length / arity, nil
}

// NodeCount returns the number of nodes in a flattened xyz coordinate array
func NodeCount(length int) (int, error) {
	return CellCount(Coordinates, length, 3)
}

// BuildElementTable computes the dispatch table from the four connectivity
// arrays. Kinds without cells are omitted; the result is in ascending arity.
func BuildElementTable(d Descriptor) (ElementTable, error) {
	table := make(ElementTable, 0, len(ElementKinds))
	for _, kind := range ElementKinds {
		cells, err := CellCount(kind.Field(), d.length(kind.Field()), kind.Arity())
		if err != nil {
			return nil, err
		}
		if cells > 0 {
			table = append(table, ElementType{Kind: kind, Arity: kind.Arity(), Cells: cells})
		}
	}
	if len(table) == 0 {
		return nil, &EmptyGridError{}
	}
	return table, nil
}

// Plan validates d and derives everything the engine needs except the pinned
// views. It acquires nothing, so a failed Plan needs no cleanup.
func Plan(d Descriptor) (*Geometry, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	nv, err := NodeCount(d.length(Coordinates))
	if err != nil {
		return nil, err
	}

	tag := d.Int32s(BodyTag)
	if len(tag) == 0 {
		return nil, &ShapeError{Field: BodyTag, Reason: "body tag array is empty"}
	}

	if n := d.length(IBlank); n != nv {
		return nil, &ShapeError{Field: IBlank, Length: n,
			Reason: "iblank length must equal the node count"}
	}

	table, err := BuildElementTable(d)
	if err != nil {
		return nil, err
	}

	return &Geometry{
		BodyTag:      tag[0],
		NodeCount:    nv,
		WallCount:    d.length(WallNode),
		OversetCount: d.length(OversetNode),
		Elements:     table,
	}, nil
}

// CoordinateMatrix returns an nv x 3 matrix view over a flattened coordinate
// array without copying. It returns nil for an empty array.
func CoordinateMatrix(xyz []float64) *mat.Dense {
	if len(xyz) == 0 || len(xyz)%3 != 0 {
		return nil
	}
	return mat.NewDense(len(xyz)/3, 3, xyz)
}
