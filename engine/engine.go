// Package engine defines the call surface into an overset connectivity engine.
//
// Every method is a collective: all ranks of the communicator must issue the
// same sequence of calls, because the engine exchanges data across ranks for
// the donor search. A rank that skips a call deadlocks its peers.
package engine

import "fmt"

// Layout is the memory layout of a multi-variable solution array
type Layout int

const (
	// RowMajor stores the variables of node i at q[i*nvar : (i+1)*nvar]
	RowMajor Layout = 0
)

func (l Layout) String() string {
	if l == RowMajor {
		return "row"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ElementBlock is one dispatch-table entry as the engine sees it
type ElementBlock struct {
	Arity int
	Cells int
	Conn  []int32 // Arity*Cells node indices, aliasing caller memory
}

// GridData is a grid registration. Every slice aliases the caller's arrays;
// the engine writes IBlank in place during the connectivity pass.
type GridData struct {
	BlockID      int
	BodyTag      int32
	NodeCount    int
	Coordinates  []float64 // 3*NodeCount
	IBlank       []int32   // NodeCount
	WallNodes    []int32
	OversetNodes []int32
	Elements     []ElementBlock // non-empty, ascending arity
}

// Engine is the connectivity engine contract
type Engine interface {
	// SetCommunicator is called once per process, before any other call
	SetCommunicator(comm *Communicator) error
	// RegisterGrid adds or replaces the grid for g.BlockID
	RegisterGrid(g GridData) error
	// PreprocessGrids runs the engine's profiling/preprocessing step
	PreprocessGrids() error
	// PerformConnectivity blanks holes and identifies receptors, writing IBlank
	PerformConnectivity() error
	// RegisterSolution points the engine at the solution array of a block
	RegisterSolution(blockID int, q []float64) error
	// DataUpdate interpolates nvar variables into receptor nodes
	DataUpdate(nvar int, layout Layout) error
	// WriteOutput writes grids, iblank and nvar solution variables
	WriteOutput(nvar int, layout Layout) error
}

// GridReleaser is implemented by engines that keep views of a registered
// grid. ReleaseGrid is called before the grid's buffers are unpinned; the
// engine must not touch the block's arrays afterwards.
type GridReleaser interface {
	ReleaseGrid(blockID int) error
}

// DeviceResident is implemented by engines that run on device mirrors of the
// registered buffers. OnDevice reports whether the connectivity pass writes
// iblank on the device rather than through the host arrays.
type DeviceResident interface {
	OnDevice() bool
}

// ErrLayout rejects any layout other than RowMajor
func ErrLayout(l Layout) error {
	return fmt.Errorf("layout %s not supported, only row-major solution arrays are", l)
}
