// Package enginetest provides an engine double that records every call
package enginetest

import (
	"fmt"

	"github.com/notargets/OversetGrid/engine"
)

// Call names recorded by Recorder
const (
	OpSetCommunicator     = "set_communicator"
	OpRegisterGrid        = "register_grid"
	OpPreprocessGrids     = "preprocess_grids"
	OpPerformConnectivity = "perform_connectivity"
	OpRegisterSolution    = "register_solution"
	OpDataUpdate          = "data_update"
	OpWriteOutput         = "write_output"
	OpReleaseGrid         = "release_grid"
)

// Call is one recorded engine invocation
type Call struct {
	Op      string
	BlockID int
	NVar    int
	Layout  engine.Layout
}

// Recorder implements engine.Engine by recording calls. PerformConnectivity
// writes BlankValue into every registered iblank array so tests can observe
// the in-place mutation through the caller's memory.
type Recorder struct {
	Calls      []Call
	Grids      map[int]engine.GridData
	Solutions  map[int][]float64
	Comm       *engine.Communicator
	BlankValue int32

	// Released lists block IDs passed to ReleaseGrid, in call order
	Released []int

	// Device makes the recorder report itself as device resident
	Device bool

	// Fail makes the named op return an error
	Fail map[string]error

	// OnRegisterSolution runs while the solution buffer is still pinned
	OnRegisterSolution func(blockID int, q []float64)

	// OnReleaseGrid runs before the block's views are dropped
	OnReleaseGrid func(blockID int)
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		Grids:      make(map[int]engine.GridData),
		Solutions:  make(map[int][]float64),
		Fail:       make(map[string]error),
		BlankValue: -1,
	}
}

// Ops returns the recorded op names in call order
func (r *Recorder) Ops() []string {
	ops := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many times op was called
func (r *Recorder) Count(op string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (r *Recorder) record(c Call) error {
	r.Calls = append(r.Calls, c)
	if err, ok := r.Fail[c.Op]; ok {
		return err
	}
	return nil
}

func (r *Recorder) SetCommunicator(comm *engine.Communicator) error {
	if err := r.record(Call{Op: OpSetCommunicator}); err != nil {
		return err
	}
	r.Comm = comm
	return nil
}

func (r *Recorder) RegisterGrid(g engine.GridData) error {
	if err := r.record(Call{Op: OpRegisterGrid, BlockID: g.BlockID}); err != nil {
		return err
	}
	if len(g.Elements) == 0 {
		return fmt.Errorf("empty element table")
	}
	r.Grids[g.BlockID] = g
	delete(r.Solutions, g.BlockID)
	return nil
}

// ReleaseGrid drops the block's views. It is not recorded in Calls because
// it is not an engine collective.
func (r *Recorder) ReleaseGrid(blockID int) error {
	if err, ok := r.Fail[OpReleaseGrid]; ok {
		return err
	}
	if r.OnReleaseGrid != nil {
		r.OnReleaseGrid(blockID)
	}
	r.Released = append(r.Released, blockID)
	delete(r.Grids, blockID)
	delete(r.Solutions, blockID)
	return nil
}

func (r *Recorder) OnDevice() bool { return r.Device }

func (r *Recorder) PreprocessGrids() error {
	return r.record(Call{Op: OpPreprocessGrids})
}

func (r *Recorder) PerformConnectivity() error {
	if err := r.record(Call{Op: OpPerformConnectivity}); err != nil {
		return err
	}
	for _, g := range r.Grids {
		for i := range g.IBlank {
			g.IBlank[i] = r.BlankValue
		}
	}
	return nil
}

func (r *Recorder) RegisterSolution(blockID int, q []float64) error {
	if err := r.record(Call{Op: OpRegisterSolution, BlockID: blockID}); err != nil {
		return err
	}
	if r.OnRegisterSolution != nil {
		r.OnRegisterSolution(blockID, q)
	}
	r.Solutions[blockID] = q
	return nil
}

func (r *Recorder) DataUpdate(nvar int, layout engine.Layout) error {
	return r.record(Call{Op: OpDataUpdate, NVar: nvar, Layout: layout})
}

func (r *Recorder) WriteOutput(nvar int, layout engine.Layout) error {
	return r.record(Call{Op: OpWriteOutput, NVar: nvar, Layout: layout})
}
