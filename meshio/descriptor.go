package meshio

import (
	"fmt"

	"github.com/notargets/OversetGrid/grid"
	"github.com/notargets/OversetGrid/partitions"
)

// Boundary holds the global IDs of wall and overset-boundary nodes
type Boundary struct {
	Wall    []int
	Overset []int
}

// Classify splits the exterior nodes of m. Nodes inside wallBox (xmin, xmax,
// ymin, ymax, zmin, zmax) are wall nodes; when outerOverset is set every
// other exterior node is an overset-boundary node. An empty wallBox means the
// block has no wall.
func Classify(m *Mesh, wallBox []float64, outerOverset bool) (Boundary, error) {
	if len(wallBox) != 0 && len(wallBox) != 6 {
		return Boundary{}, fmt.Errorf("wall box needs 6 values, got %d", len(wallBox))
	}
	var b Boundary
	for _, v := range m.ExteriorNodes() {
		switch {
		case len(wallBox) == 6 && inBox(m.Vertices[v], wallBox):
			b.Wall = append(b.Wall, v)
		case outerOverset:
			b.Overset = append(b.Overset, v)
		}
	}
	return b, nil
}

func inBox(p [3]float64, box []float64) bool {
	for d := 0; d < 3; d++ {
		if p[d] < box[2*d] || p[d] > box[2*d+1] {
			return false
		}
	}
	return true
}

// BuildDescriptor assembles the grid descriptor for the part of m owned by
// p. Connectivity and boundary nodes use p's local numbering, iblank starts
// as all field points, and every array is freshly allocated for the caller
// to own.
func BuildDescriptor(m *Mesh, p *partitions.Partition, bodyTag int32, b Boundary) grid.Descriptor {
	xyz := make([]float64, 0, 3*len(p.LocalNodes))
	for _, v := range p.LocalNodes {
		xyz = append(xyz, m.Vertices[v][0], m.Vertices[v][1], m.Vertices[v][2])
	}
	iblank := make([]int32, len(p.LocalNodes))
	for i := range iblank {
		iblank[i] = 1
	}

	d := grid.Descriptor{
		grid.WallNode:    p.LocalIndices(b.Wall),
		grid.OversetNode: p.LocalIndices(b.Overset),
		grid.BodyTag:     []int32{bodyTag},
		grid.Coordinates: xyz,
		grid.IBlank:      iblank,
	}
	for _, kind := range grid.ElementKinds {
		d[kind.Field()] = p.LocalConnectivity(m.Conn, kind)
	}
	return d
}
