package partitions

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/OversetGrid/grid"
)

// PartitionBuilder decomposes a mesh's elements across ranks
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *MeshConnectivity

	// Partitioning parameters
	NumPartitions int // Number of ranks
	Strategy      PartitionStrategy
}

// MeshConnectivity provides the mesh topology needed for partitioning
type MeshConnectivity struct {
	NumElements  int
	ElementKinds []grid.ElementKind
	EToV         [][]int // Element-to-vertex connectivity, global node IDs

	// Vertex coordinates, used by SpaceFillingCurve
	Vertices [][3]float64
}

// NewMeshConnectivity classifies each element by its vertex count
func NewMeshConnectivity(eToV [][]int, vertices [][3]float64) (*MeshConnectivity, error) {
	mc := &MeshConnectivity{
		NumElements:  len(eToV),
		ElementKinds: make([]grid.ElementKind, len(eToV)),
		EToV:         eToV,
		Vertices:     vertices,
	}
	for k, verts := range eToV {
		kind, ok := grid.KindOfArity(len(verts))
		if !ok {
			return nil, fmt.Errorf("element %d: unsupported vertex count %d", k, len(verts))
		}
		for _, v := range verts {
			if v < 0 || (vertices != nil && v >= len(vertices)) {
				return nil, fmt.Errorf("element %d: vertex %d out of range", k, v)
			}
		}
		mc.ElementKinds[k] = kind
	}
	return mc, nil
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically

	// Geometric and graph strategies
	GraphPartition    // Graph partitioner; falls back to block
	SpaceFillingCurve // Morton order of element centroids, then block
)

var strategyNames = map[string]PartitionStrategy{
	"block":       BlockPartition,
	"round-robin": RoundRobin,
	"graph":       GraphPartition,
	"morton":      SpaceFillingCurve,
}

// ParseStrategy maps a configuration name onto a strategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	if name == "" {
		return BlockPartition, nil
	}
	s, ok := strategyNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown partition strategy %q", name)
	}
	return s, nil
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil {
		return nil, fmt.Errorf("no mesh to partition")
	}
	numPartitions := pb.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}

	// Partition the elements
	eToP := pb.partitionElements(numPartitions)

	// Create partition structures
	partitions := pb.createPartitions(eToP, numPartitions)

	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      pb.calculateKpartMax(partitions),
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) []int {
	n := pb.Mesh.NumElements
	eToP := make([]int, n)

	switch pb.Strategy {
	case RoundRobin:
		for i := 0; i < n; i++ {
			eToP[i] = i % numPartitions
		}

	case SpaceFillingCurve:
		if pb.Mesh.Vertices == nil {
			return pb.partitionWithStrategy(BlockPartition, numPartitions)
		}
		order := pb.mortonOrder()
		per := blockSize(n, numPartitions)
		for pos, k := range order {
			eToP[k] = min(pos/per, numPartitions-1)
		}

	case GraphPartition:
		// No graph partitioner is linked; block keeps neighbours mostly together
		return pb.partitionWithStrategy(BlockPartition, numPartitions)

	default:
		per := blockSize(n, numPartitions)
		for i := 0; i < n; i++ {
			eToP[i] = min(i/per, numPartitions-1)
		}
	}

	return eToP
}

func blockSize(n, numPartitions int) int {
	per := int(math.Ceil(float64(n) / float64(numPartitions)))
	if per < 1 {
		per = 1
	}
	return per
}

// partitionWithStrategy recursively applies a different strategy
func (pb *PartitionBuilder) partitionWithStrategy(strategy PartitionStrategy, numPartitions int) []int {
	oldStrategy := pb.Strategy
	pb.Strategy = strategy
	result := pb.partitionElements(numPartitions)
	pb.Strategy = oldStrategy
	return result
}

// mortonOrder sorts elements by the Z-order key of their centroids
func (pb *PartitionBuilder) mortonOrder() []int {
	mesh := pb.Mesh
	centroids := make([][3]float64, mesh.NumElements)
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for k, verts := range mesh.EToV {
		for _, v := range verts {
			for d := 0; d < 3; d++ {
				centroids[k][d] += mesh.Vertices[v][d] / float64(len(verts))
			}
		}
		for d := 0; d < 3; d++ {
			lo[d] = math.Min(lo[d], centroids[k][d])
			hi[d] = math.Max(hi[d], centroids[k][d])
		}
	}

	const bits = 10
	scale := float64(uint32(1)<<bits - 1)
	keys := make([]uint64, mesh.NumElements)
	for k, c := range centroids {
		var q [3]uint32
		for d := 0; d < 3; d++ {
			if span := hi[d] - lo[d]; span > 0 {
				q[d] = uint32((c[d] - lo[d]) / span * scale)
			}
		}
		keys[k] = interleave(q[0]) | interleave(q[1])<<1 | interleave(q[2])<<2
	}

	order := make([]int, mesh.NumElements)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	return order
}

// interleave spreads the low 10 bits of x to every third bit
func interleave(x uint32) uint64 {
	v := uint64(x) & 0x3ff
	v = (v | v<<16) & 0x30000ff
	v = (v | v<<8) & 0x300f00f
	v = (v | v<<4) & 0x30c30c3
	v = (v | v<<2) & 0x9249249
	return v
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:           i,
			Elements:     make([]int, 0),
			ElementKinds: make([]grid.ElementKind, 0),
		}
	}

	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].ElementKinds = append(partitions[part].ElementKinds,
			pb.Mesh.ElementKinds[elem])
		partitions[part].NumElements++
	}

	for i := range partitions {
		partitions[i].TypeGroups = createElementGroups(&partitions[i])
		partitions[i].renumberNodes(pb.Mesh)
	}

	return partitions
}

// createElementGroups organizes elements by kind in ascending arity
func createElementGroups(p *Partition) []ElementGroup {
	byKind := make(map[grid.ElementKind][]int)
	for i, kind := range p.ElementKinds {
		byKind[kind] = append(byKind[kind], i)
	}

	var groups []ElementGroup
	for _, kind := range grid.ElementKinds {
		if ids := byKind[kind]; len(ids) > 0 {
			groups = append(groups, ElementGroup{
				Kind:     kind,
				Count:    len(ids),
				LocalIDs: ids,
			})
		}
	}
	return groups
}

// calculateKpartMax finds maximum elements across all partitions
func (pb *PartitionBuilder) calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		if p.NumElements > kpartMax {
			kpartMax = p.NumElements
		}
	}
	return kpartMax
}
