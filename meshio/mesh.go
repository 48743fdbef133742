// Package meshio reads volume meshes and turns them into grid descriptors:
// elements are classified by vertex count, exterior nodes are found from
// faces used by a single element, and boundary nodes are split into wall and
// overset-boundary sets.
package meshio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notargets/gocfd/DG3D/mesh/readers"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/OversetGrid/grid"
	"github.com/notargets/OversetGrid/partitions"
)

// Mesh is a mixed-element volume mesh with global node numbering
type Mesh struct {
	Vertices [][3]float64
	EToV     [][]int
	Conn     *partitions.MeshConnectivity
}

// ReadMesh loads any mesh format the gocfd readers understand
func ReadMesh(path string) (*Mesh, error) {
	msh, err := readers.ReadMeshFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mesh %s: %w", path, err)
	}
	verts := make([][3]float64, len(msh.Vertices))
	for i, v := range msh.Vertices {
		verts[i] = [3]float64{v[0], v[1], v[2]}
	}
	eToV := make([][]int, len(msh.EtoV))
	for k, row := range msh.EtoV {
		eToV[k] = make([]int, len(row))
		for i, v := range row {
			eToV[k][i] = int(v)
		}
	}
	m, err := NewMesh(verts, eToV)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", path, err)
	}
	return m, nil
}

// NewMesh builds a mesh from vertex coordinates and element connectivity
func NewMesh(vertices [][3]float64, eToV [][]int) (*Mesh, error) {
	if len(eToV) == 0 {
		return nil, fmt.Errorf("mesh has no elements")
	}
	conn, err := partitions.NewMeshConnectivity(eToV, vertices)
	if err != nil {
		return nil, err
	}
	return &Mesh{Vertices: vertices, EToV: eToV, Conn: conn}, nil
}

// KindCounts returns the number of elements of each kind
func (m *Mesh) KindCounts() map[grid.ElementKind]int {
	counts := make(map[grid.ElementKind]int)
	for _, kind := range m.Conn.ElementKinds {
		counts[kind]++
	}
	return counts
}

// Bounds returns xmin, xmax, ymin, ymax, zmin, zmax over every vertex
func (m *Mesh) Bounds() [6]float64 {
	var b [6]float64
	if len(m.Vertices) == 0 {
		return b
	}
	col := make([]float64, len(m.Vertices))
	for d := 0; d < 3; d++ {
		for i, v := range m.Vertices {
			col[i] = v[d]
		}
		b[2*d], b[2*d+1] = floats.Min(col), floats.Max(col)
	}
	return b
}

func (m *Mesh) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Mesh: %d vertices, %d elements\n", len(m.Vertices), len(m.EToV)))
	counts := m.KindCounts()
	for _, kind := range grid.ElementKinds {
		if n := counts[kind]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %-8s %d\n", kind, n))
		}
	}
	b := m.Bounds()
	sb.WriteString(fmt.Sprintf("  Bounds: [%g, %g] x [%g, %g] x [%g, %g]\n", b[0], b[1], b[2], b[3], b[4], b[5]))
	sb.WriteString(fmt.Sprintf("  Exterior nodes: %d\n", len(m.ExteriorNodes())))
	return sb.String()
}

// Local vertex indices of each face, per element kind
var faceTables = map[grid.ElementKind][][]int{
	grid.Tet:     {{0, 1, 2}, {0, 1, 3}, {1, 2, 3}, {0, 2, 3}},
	grid.Pyramid: {{0, 1, 2, 3}, {0, 1, 4}, {1, 2, 4}, {2, 3, 4}, {3, 0, 4}},
	grid.Prism:   {{0, 1, 2}, {3, 4, 5}, {0, 1, 4, 3}, {1, 2, 5, 4}, {2, 0, 3, 5}},
	grid.Hex: {{0, 1, 2, 3}, {4, 5, 6, 7}, {0, 1, 5, 4},
		{1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7}},
}

// faceKey identifies a face by its sorted global nodes; triangles pad with -1
type faceKey [4]int

func keyOf(nodes []int) faceKey {
	k := faceKey{-1, -1, -1, -1}
	copy(k[:], nodes)
	sort.Ints(k[:len(nodes)])
	return k
}

// ExteriorFaces returns every face that belongs to exactly one element, as
// global node lists
func (m *Mesh) ExteriorFaces() [][]int {
	type use struct {
		count int
		nodes []int
	}
	seen := make(map[faceKey]*use)
	var order []faceKey
	for k, verts := range m.EToV {
		for _, face := range faceTables[m.Conn.ElementKinds[k]] {
			nodes := make([]int, len(face))
			for i, lv := range face {
				nodes[i] = verts[lv]
			}
			key := keyOf(nodes)
			if u, ok := seen[key]; ok {
				u.count++
				continue
			}
			seen[key] = &use{count: 1, nodes: nodes}
			order = append(order, key)
		}
	}
	var faces [][]int
	for _, key := range order {
		if u := seen[key]; u.count == 1 {
			faces = append(faces, u.nodes)
		}
	}
	return faces
}

// ExteriorNodes returns the sorted global IDs of nodes on exterior faces
func (m *Mesh) ExteriorNodes() []int {
	set := make(map[int]struct{})
	for _, face := range m.ExteriorFaces() {
		for _, v := range face {
			set[v] = struct{}{}
		}
	}
	nodes := make([]int, 0, len(set))
	for v := range set {
		nodes = append(nodes, v)
	}
	sort.Ints(nodes)
	return nodes
}
