package overset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/OversetGrid/engine"
	"github.com/notargets/OversetGrid/engine/enginetest"
	"github.com/notargets/OversetGrid/grid"
)

func TestProcess_CollectivesIssuedOnce(t *testing.T) {
	f := newFixture(t)
	a, b := f.session(t), f.session(t)
	require.NoError(t, a.Register(descriptor(20, 10, 0)))
	require.NoError(t, b.Register(descriptor(30, 0, 3)))

	require.NoError(t, f.proc.Preprocess())
	assert.Equal(t, Preprocessed, a.State())
	assert.Equal(t, Preprocessed, b.State())
	require.NoError(t, f.proc.PerformConnectivity())
	assert.Equal(t, Connected, a.State())
	assert.Equal(t, Connected, b.State())

	require.NoError(t, a.RegisterSolution(a.BlockID(), make([]float64, 3*20)))
	require.NoError(t, b.RegisterSolution(b.BlockID(), make([]float64, 3*30)))
	require.NoError(t, f.proc.DataUpdate(3))
	require.NoError(t, f.proc.WriteOutput(3))

	assert.Equal(t, 1, f.rec.Count(enginetest.OpPreprocessGrids))
	assert.Equal(t, 1, f.rec.Count(enginetest.OpPerformConnectivity))
	assert.Equal(t, 1, f.rec.Count(enginetest.OpDataUpdate))
	assert.Equal(t, 1, f.rec.Count(enginetest.OpWriteOutput))
	assert.Equal(t, 2, f.rec.Count(enginetest.OpRegisterSolution))
}

func TestProcess_OneUnregisteredSessionBlocksTheCall(t *testing.T) {
	f := newFixture(t)
	a := f.session(t)
	f.session(t)
	require.NoError(t, a.Register(descriptor(20, 10, 0)))

	err := f.proc.PerformConnectivity()
	assert.Equal(t, KindLifecycle, Kind(err))
	assert.Zero(t, f.rec.Count(enginetest.OpPerformConnectivity))
	assert.Equal(t, Registered, a.State())
}

func TestProcess_DataUpdateNeedsEverySolution(t *testing.T) {
	f := newFixture(t)
	a, b := f.session(t), f.session(t)
	require.NoError(t, a.Register(descriptor(20, 10, 0)))
	require.NoError(t, b.Register(descriptor(30, 10, 0)))
	require.NoError(t, a.RegisterSolution(a.BlockID(), make([]float64, 20)))

	assert.Equal(t, KindLifecycle, Kind(f.proc.DataUpdate(1)))
	assert.Zero(t, f.rec.Count(enginetest.OpDataUpdate))

	// Grid-only output is fine without solutions
	require.NoError(t, f.proc.WriteOutput(0))
}

func TestProcess_NoOpenSessions(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, KindLifecycle, Kind(f.proc.Preprocess()))

	s := f.session(t)
	require.NoError(t, s.Register(descriptor(20, 10, 0)))
	require.NoError(t, s.Close())
	assert.Equal(t, KindLifecycle, Kind(f.proc.PerformConnectivity()))
	assert.Len(t, f.aborts.codes, 2)
}

// latticeDescriptor describes an n x n x n hex lattice spanning
// [origin, origin+h*(n-1)] on each axis
func latticeDescriptor(n int, origin, h float64, body int32, wall, obc []int32) grid.Descriptor {
	node := func(i, j, k int) int32 { return int32(i + n*j + n*n*k) }
	var xyz []float64
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				xyz = append(xyz, origin+h*float64(i), origin+h*float64(j), origin+h*float64(k))
			}
		}
	}
	var hexa []int32
	for k := 0; k < n-1; k++ {
		for j := 0; j < n-1; j++ {
			for i := 0; i < n-1; i++ {
				hexa = append(hexa,
					node(i, j, k), node(i+1, j, k), node(i+1, j+1, k), node(i, j+1, k),
					node(i, j, k+1), node(i+1, j, k+1), node(i+1, j+1, k+1), node(i, j+1, k+1))
			}
		}
	}
	return grid.Descriptor{
		grid.TetConn:     []int32{},
		grid.PyraConn:    []int32{},
		grid.PrismConn:   []int32{},
		grid.HexaConn:    hexa,
		grid.WallNode:    wall,
		grid.OversetNode: obc,
		grid.BodyTag:     []int32{body},
		grid.Coordinates: xyz,
		grid.IBlank:      make([]int32, n*n*n),
	}
}

func TestProcess_LocalEngineEndToEnd(t *testing.T) {
	ab := &aborts{}
	comm, err := engine.NewCommunicator(0, 1, nil, ab)
	require.NoError(t, err)
	proc, err := NewProcess(comm, engine.NewLocalEngine("", nil))
	require.NoError(t, err)
	defer proc.Close()

	background := latticeDescriptor(3, 0, 1, 1, []int32{}, []int32{})
	nearBody := latticeDescriptor(2, 0.4, 1.2, 2, []int32{0, 1, 2, 3, 4, 5, 6, 7}, []int32{0})

	bg, err := proc.NewSession()
	require.NoError(t, err)
	nb, err := proc.NewSession()
	require.NoError(t, err)
	require.NoError(t, bg.Register(background))
	require.NoError(t, nb.Register(nearBody))
	require.NoError(t, proc.Preprocess())
	require.NoError(t, proc.PerformConnectivity())

	// The caller's iblank arrays carry the result
	bgBlank := background.Int32s(grid.IBlank)
	assert.Equal(t, engine.Hole, bgBlank[13])
	assert.Equal(t, engine.Field, bgBlank[0])
	assert.Equal(t, engine.Receptor, nearBody.Int32s(grid.IBlank)[0])

	qb := make([]float64, 27)
	for n := range qb {
		qb[n] = 10 + float64(n)
	}
	qn := []float64{-5, -5, -5, -5, -5, -5, -5, -5}
	require.NoError(t, bg.RegisterSolution(bg.BlockID(), qb))
	require.NoError(t, nb.RegisterSolution(nb.BlockID(), qn))
	require.NoError(t, proc.DataUpdate(1))

	assert.Equal(t, 10.0, qn[0], "receptor at (0.4,0.4,0.4) takes background node 0")
	assert.Equal(t, -5.0, qn[1])
	assert.Empty(t, ab.codes)

	require.NoError(t, proc.Close())
	assert.Zero(t, proc.Provider().(interface{ Pinned() int }).Pinned())
}

func TestProcess_ClosedSessionLeavesEngine(t *testing.T) {
	ab := &aborts{}
	comm, err := engine.NewCommunicator(0, 1, nil, ab)
	require.NoError(t, err)
	proc, err := NewProcess(comm, engine.NewLocalEngine("", nil))
	require.NoError(t, err)
	defer proc.Close()

	background := latticeDescriptor(3, 0, 1, 1, []int32{}, []int32{})
	nearBody := latticeDescriptor(2, 0.4, 1.2, 2, []int32{0, 1, 2, 3, 4, 5, 6, 7}, []int32{0})
	bg, err := proc.NewSession()
	require.NoError(t, err)
	nb, err := proc.NewSession()
	require.NoError(t, err)
	require.NoError(t, bg.Register(background))
	require.NoError(t, nb.Register(nearBody))
	require.NoError(t, proc.PerformConnectivity())
	require.Equal(t, engine.Hole, background.Int32s(grid.IBlank)[13])

	require.NoError(t, bg.Close())
	bgBlank := background.Int32s(grid.IBlank)
	for n := range bgBlank {
		bgBlank[n] = 42
	}

	// The engine no longer writes the closed block's iblank
	require.NoError(t, nb.PerformConnectivity())
	require.NoError(t, proc.PerformConnectivity())
	for n, ib := range bgBlank {
		assert.Equal(t, int32(42), ib, "node %d", n)
	}
	assert.Equal(t, engine.Receptor, nearBody.Int32s(grid.IBlank)[0])

	qn := make([]float64, 8)
	require.NoError(t, nb.RegisterSolution(nb.BlockID(), qn))
	require.NoError(t, proc.DataUpdate(1))
	assert.Empty(t, ab.codes)
}
