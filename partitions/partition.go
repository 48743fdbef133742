package partitions

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/OversetGrid/grid"
)

// Partition is the set of mesh elements owned by one rank, with the rank's
// local node numbering
type Partition struct {
	// Rank that owns this partition
	ID int

	// Element membership
	Elements    []int // Global element indices in this partition
	NumElements int   // Number of elements owned

	// Mixed element support
	ElementKinds []grid.ElementKind // Kind of each element, parallel to Elements
	TypeGroups   []ElementGroup     // Grouped by kind in ascending arity

	// Node renumbering
	LocalNodes    []int       // local node -> global node, ascending global order
	GlobalToLocal map[int]int // global node -> local node
}

// ElementGroup is the run of elements of one kind within a partition
type ElementGroup struct {
	Kind     grid.ElementKind
	Count    int   // Number of elements of this kind
	LocalIDs []int // Indices into the partition's Elements
}

// PartitionLayout is the complete decomposition of a mesh across ranks
type PartitionLayout struct {
	// All partitions, indexed by rank
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumElements) across all partitions
	TotalElements int // Sum of all elements across partitions
	NumPartitions int // Number of ranks

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// GetPartition returns the partition containing element k
func (pl *PartitionLayout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// ValidateLayout checks that every element is owned exactly once and that
// the sizing fields agree with the partitions
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions, NumPartitions %d", len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP length %d != TotalElements %d", len(pl.EToP), pl.TotalElements)
	}

	seen := make([]bool, pl.TotalElements)
	actualMax, total := 0, 0
	for _, p := range pl.Partitions {
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != %d elements",
				p.ID, p.NumElements, len(p.Elements))
		}
		for _, k := range p.Elements {
			if k < 0 || k >= pl.TotalElements {
				return fmt.Errorf("partition %d: element %d out of range", p.ID, k)
			}
			if seen[k] {
				return fmt.Errorf("element %d assigned twice", k)
			}
			if pl.EToP[k] != p.ID {
				return fmt.Errorf("element %d in partition %d but EToP says %d", k, p.ID, pl.EToP[k])
			}
			seen[k] = true
		}
		if p.NumElements > actualMax {
			actualMax = p.NumElements
		}
		total += p.NumElements
	}
	if total != pl.TotalElements {
		return fmt.Errorf("partitions hold %d elements, mesh has %d", total, pl.TotalElements)
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	return nil
}

// LocalConnectivity returns the connectivity of every element of kind in p,
// flattened and renumbered to local nodes. It is empty when p holds none.
func (p *Partition) LocalConnectivity(mesh *MeshConnectivity, kind grid.ElementKind) []int32 {
	conn := []int32{}
	for _, g := range p.TypeGroups {
		if g.Kind != kind {
			continue
		}
		conn = make([]int32, 0, g.Count*kind.Arity())
		for _, local := range g.LocalIDs {
			for _, v := range mesh.EToV[p.Elements[local]] {
				conn = append(conn, int32(p.GlobalToLocal[v]))
			}
		}
	}
	return conn
}

// LocalIndices maps global node IDs onto the partition, dropping nodes the
// partition does not touch
func (p *Partition) LocalIndices(global []int) []int32 {
	local := []int32{}
	for _, v := range global {
		if l, ok := p.GlobalToLocal[v]; ok {
			local = append(local, int32(l))
		}
	}
	return local
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	if pl.NumPartitions <= 0 || len(pl.Partitions) == 0 {
		return PartitionStats{NumPartitions: pl.NumPartitions}
	}
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinElements:   math.MaxInt32,
		MaxElements:   0,
		AvgElements:   float64(pl.TotalElements) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumElements < stats.MinElements {
			stats.MinElements = p.NumElements
		}
		if p.NumElements > stats.MaxElements {
			stats.MaxElements = p.NumElements
		}
	}

	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements
	}
	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}

// renumberNodes builds the partition's local node numbering from the
// elements it owns
func (p *Partition) renumberNodes(mesh *MeshConnectivity) {
	used := make(map[int]struct{})
	for _, k := range p.Elements {
		for _, v := range mesh.EToV[k] {
			used[v] = struct{}{}
		}
	}
	p.LocalNodes = make([]int, 0, len(used))
	for v := range used {
		p.LocalNodes = append(p.LocalNodes, v)
	}
	sort.Ints(p.LocalNodes)
	p.GlobalToLocal = make(map[int]int, len(p.LocalNodes))
	for l, v := range p.LocalNodes {
		p.GlobalToLocal[v] = l
	}
}
