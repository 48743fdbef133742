package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Node blanking values written into IBlank
const (
	Hole     int32 = 0
	Field    int32 = 1
	Receptor int32 = -1
)

// LocalEngine is a single-rank, in-process connectivity engine. It blanks the
// nodes of each block that fall inside the wall bounding box of a different
// body, marks a block's own overset-boundary nodes as receptors, and fills
// receptors from the nearest field node of another body. It exists so the
// registration layer can run and be tested without the external engine.
type LocalEngine struct {
	OutputDir string
	Logger    hclog.Logger

	comm         *Communicator
	blocks       map[int]*localBlock
	preprocessed bool
	writes       int
}

type localBlock struct {
	grid    GridData
	xyz     *mat.Dense // NodeCount x 3 view over grid.Coordinates
	wallBox *box
	q       []float64
}

type box struct {
	lo, hi [3]float64
}

func (b *box) contains(p []float64) bool {
	for d := 0; d < 3; d++ {
		if p[d] < b.lo[d] || p[d] > b.hi[d] {
			return false
		}
	}
	return true
}

// NewLocalEngine creates an engine writing output files under outputDir
func NewLocalEngine(outputDir string, logger hclog.Logger) *LocalEngine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LocalEngine{
		OutputDir: outputDir,
		Logger:    logger.Named("local-engine"),
		blocks:    make(map[int]*localBlock),
	}
}

func (le *LocalEngine) SetCommunicator(comm *Communicator) error {
	if comm == nil {
		return fmt.Errorf("nil communicator")
	}
	if le.comm != nil {
		return fmt.Errorf("communicator already set")
	}
	if comm.Size() != 1 {
		return fmt.Errorf("local engine runs on a single rank, communicator has %d", comm.Size())
	}
	le.comm = comm
	return nil
}

func (le *LocalEngine) RegisterGrid(g GridData) error {
	if le.comm == nil {
		return fmt.Errorf("register grid before SetCommunicator")
	}
	if len(g.Elements) == 0 {
		return fmt.Errorf("block %d: empty element table", g.BlockID)
	}
	if len(g.Coordinates) != 3*g.NodeCount || len(g.IBlank) != g.NodeCount {
		return fmt.Errorf("block %d: %d coordinates and %d iblank values for %d nodes",
			g.BlockID, len(g.Coordinates), len(g.IBlank), g.NodeCount)
	}
	for _, eb := range g.Elements {
		if len(eb.Conn) != eb.Arity*eb.Cells {
			return fmt.Errorf("block %d: arity %d connectivity has %d entries for %d cells",
				g.BlockID, eb.Arity, len(eb.Conn), eb.Cells)
		}
		if err := checkIndices(eb.Conn, g.NodeCount); err != nil {
			return fmt.Errorf("block %d arity %d: %w", g.BlockID, eb.Arity, err)
		}
	}
	for _, idx := range [][]int32{g.WallNodes, g.OversetNodes} {
		if err := checkIndices(idx, g.NodeCount); err != nil {
			return fmt.Errorf("block %d boundary nodes: %w", g.BlockID, err)
		}
	}

	lb := &localBlock{grid: g}
	if g.NodeCount > 0 {
		lb.xyz = mat.NewDense(g.NodeCount, 3, g.Coordinates)
	}
	le.blocks[g.BlockID] = lb
	le.preprocessed = false
	le.Logger.Debug("grid registered", "block", g.BlockID, "body", g.BodyTag,
		"nodes", g.NodeCount, "types", len(g.Elements))
	return nil
}

// ReleaseGrid forgets blockID; its arrays are no longer read or written
func (le *LocalEngine) ReleaseGrid(blockID int) error {
	if _, exists := le.blocks[blockID]; !exists {
		return fmt.Errorf("release of unregistered block %d", blockID)
	}
	delete(le.blocks, blockID)
	le.preprocessed = false
	le.Logger.Debug("grid released", "block", blockID)
	return nil
}

func checkIndices(idx []int32, n int) error {
	for i, v := range idx {
		if v < 0 || int(v) >= n {
			return fmt.Errorf("node index %d at position %d outside [0,%d)", v, i, n)
		}
	}
	return nil
}

// PreprocessGrids computes the wall bounding box of every block
func (le *LocalEngine) PreprocessGrids() error {
	if le.comm == nil {
		return fmt.Errorf("preprocess before SetCommunicator")
	}
	for _, id := range le.blockIDs() {
		lb := le.blocks[id]
		lb.wallBox = nil
		if len(lb.grid.WallNodes) == 0 {
			continue
		}
		coord := make([]float64, len(lb.grid.WallNodes))
		b := &box{}
		for d := 0; d < 3; d++ {
			for i, n := range lb.grid.WallNodes {
				coord[i] = lb.xyz.At(int(n), d)
			}
			b.lo[d], b.hi[d] = floats.Min(coord), floats.Max(coord)
		}
		lb.wallBox = b
	}
	le.preprocessed = true
	return nil
}

// PerformConnectivity rewrites IBlank of every registered block
func (le *LocalEngine) PerformConnectivity() error {
	if !le.preprocessed {
		if err := le.PreprocessGrids(); err != nil {
			return err
		}
	}
	ids := le.blockIDs()
	for _, id := range ids {
		lb := le.blocks[id]
		iblank := lb.grid.IBlank
		for n := range iblank {
			iblank[n] = Field
		}
		for _, other := range ids {
			cutter := le.blocks[other]
			if other == id || cutter.wallBox == nil || cutter.grid.BodyTag == lb.grid.BodyTag {
				continue
			}
			for n := 0; n < lb.grid.NodeCount; n++ {
				if cutter.wallBox.contains(lb.xyz.RawRowView(n)) {
					iblank[n] = Hole
				}
			}
		}
		for _, n := range lb.grid.OversetNodes {
			if iblank[n] == Field {
				iblank[n] = Receptor
			}
		}
	}
	return nil
}

func (le *LocalEngine) RegisterSolution(blockID int, q []float64) error {
	lb, exists := le.blocks[blockID]
	if !exists {
		return fmt.Errorf("solution for unregistered block %d", blockID)
	}
	if lb.grid.NodeCount == 0 || len(q)%lb.grid.NodeCount != 0 {
		return fmt.Errorf("block %d: solution length %d is not a multiple of %d nodes",
			blockID, len(q), lb.grid.NodeCount)
	}
	lb.q = q
	return nil
}

// DataUpdate copies the nearest donor row into every receptor node
func (le *LocalEngine) DataUpdate(nvar int, layout Layout) error {
	if layout != RowMajor {
		return ErrLayout(layout)
	}
	if nvar <= 0 {
		return fmt.Errorf("data update needs at least one variable, got %d", nvar)
	}
	ids := le.blockIDs()
	for _, id := range ids {
		if lb := le.blocks[id]; lb.q != nil && len(lb.q) != nvar*lb.grid.NodeCount {
			return fmt.Errorf("block %d: solution holds %d values, not %d x %d",
				id, len(lb.q), nvar, lb.grid.NodeCount)
		}
	}

	var updated int
	for _, id := range ids {
		lb := le.blocks[id]
		if lb.q == nil {
			continue
		}
		for n, ib := range lb.grid.IBlank {
			if ib != Receptor {
				continue
			}
			donor, dn := le.nearestDonor(lb, n)
			if donor == nil {
				continue
			}
			copy(lb.q[n*nvar:(n+1)*nvar], donor.q[dn*nvar:(dn+1)*nvar])
			updated++
		}
	}
	le.Logger.Debug("data update", "nvar", nvar, "receptors", updated)
	return nil
}

func (le *LocalEngine) nearestDonor(lb *localBlock, n int) (*localBlock, int) {
	p := lb.xyz.RawRowView(n)
	best, bestNode, bestDist := (*localBlock)(nil), -1, math.Inf(1)
	for _, id := range le.blockIDs() {
		cand := le.blocks[id]
		if cand == lb || cand.q == nil || cand.grid.BodyTag == lb.grid.BodyTag {
			continue
		}
		for m, ib := range cand.grid.IBlank {
			if ib != Field {
				continue
			}
			if d := floats.Distance(p, cand.xyz.RawRowView(m), 2); d < bestDist {
				best, bestNode, bestDist = cand, m, d
			}
		}
	}
	return best, bestNode
}

// WriteOutput writes one legacy VTK file per block
func (le *LocalEngine) WriteOutput(nvar int, layout Layout) error {
	if layout != RowMajor {
		return ErrLayout(layout)
	}
	if le.OutputDir == "" {
		le.Logger.Debug("no output directory, skipping write", "nvar", nvar)
		return nil
	}
	if err := os.MkdirAll(le.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, id := range le.blockIDs() {
		lb := le.blocks[id]
		q := lb.q
		if nvar <= 0 || len(q) != nvar*lb.grid.NodeCount {
			q = nil
		}
		path := filepath.Join(le.OutputDir,
			fmt.Sprintf("block%02d-rank%d-%04d.vtk", id, le.comm.Rank(), le.writes))
		if err := writeVTKFile(path, lb.grid, q, nvar); err != nil {
			return err
		}
		le.Logger.Info("wrote block", "block", id, "path", path)
	}
	le.writes++
	return nil
}

func (le *LocalEngine) blockIDs() []int {
	ids := make([]int, 0, len(le.blocks))
	for id := range le.blocks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
