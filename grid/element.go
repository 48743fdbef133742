package grid

import (
	"fmt"

	"github.com/notargets/OversetGrid/buffer"
)

// ElementKind identifies the shape of a 3D cell by its vertex count
type ElementKind uint8

const (
	Tet     ElementKind = iota // Tetrahedron, 4 vertices
	Pyramid                    // Square-based pyramid, 5 vertices
	Prism                      // Triangular prism, 6 vertices
	Hex                        // Hexahedron, 8 vertices
)

// ElementKinds lists every kind in ascending arity. The engine consumes the
// dispatch table in this order.
var ElementKinds = []ElementKind{Tet, Pyramid, Prism, Hex}

var kindInfo = [...]struct {
	name  string
	arity int
	field string
}{
	Tet:     {"tet", 4, TetConn},
	Pyramid: {"pyramid", 5, PyraConn},
	Prism:   {"prism", 6, PrismConn},
	Hex:     {"hex", 8, HexaConn},
}

// Arity returns the number of vertices per cell
func (k ElementKind) Arity() int { return kindInfo[k].arity }

// Field returns the descriptor field holding this kind's connectivity
func (k ElementKind) Field() string { return kindInfo[k].field }

func (k ElementKind) String() string {
	if int(k) >= len(kindInfo) {
		return fmt.Sprintf("ElementKind(%d)", uint8(k))
	}
	return kindInfo[k].name
}

// KindOfArity maps a vertex count to its element kind
func KindOfArity(arity int) (ElementKind, bool) {
	for _, k := range ElementKinds {
		if k.Arity() == arity {
			return k, true
		}
	}
	return 0, false
}

// ElementType is one entry of the dispatch table: a present element kind, its
// cell count and the pinned view over its connectivity
type ElementType struct {
	Kind  ElementKind
	Arity int
	Cells int
	Conn  *buffer.Handle // nil until the owning session acquires it
}

// ElementTable is the ordered dispatch table handed to the engine. It only
// holds kinds with Cells > 0, in ascending arity.
type ElementTable []ElementType

// Arities returns the arity of every entry in table order
func (t ElementTable) Arities() []int {
	arities := make([]int, len(t))
	for i, et := range t {
		arities[i] = et.Arity
	}
	return arities
}

// TotalCells sums the cell counts of all entries
func (t ElementTable) TotalCells() int {
	total := 0
	for _, et := range t {
		total += et.Cells
	}
	return total
}
