package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// latticeBlock builds an n x n x n node lattice of hexes spanning
// [origin, origin+h*(n-1)] in each direction
func latticeBlock(id int, body int32, n int, origin, h float64) GridData {
	nv := n * n * n
	xyz := make([]float64, 0, 3*nv)
	node := func(i, j, k int) int32 { return int32(i + n*j + n*n*k) }
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				xyz = append(xyz, origin+h*float64(i), origin+h*float64(j), origin+h*float64(k))
			}
		}
	}
	var conn []int32
	for k := 0; k < n-1; k++ {
		for j := 0; j < n-1; j++ {
			for i := 0; i < n-1; i++ {
				conn = append(conn,
					node(i, j, k), node(i+1, j, k), node(i+1, j+1, k), node(i, j+1, k),
					node(i, j, k+1), node(i+1, j, k+1), node(i+1, j+1, k+1), node(i, j+1, k+1))
			}
		}
	}
	return GridData{
		BlockID:     id,
		BodyTag:     body,
		NodeCount:   nv,
		Coordinates: xyz,
		IBlank:      make([]int32, nv),
		Elements:    []ElementBlock{{Arity: 8, Cells: len(conn) / 8, Conn: conn}},
	}
}

type recordingAborter struct {
	codes []int
	errs  []error
}

func (ra *recordingAborter) Abort(code int, err error) {
	ra.codes = append(ra.codes, code)
	ra.errs = append(ra.errs, err)
}

func singleRank(t *testing.T) *Communicator {
	comm, err := NewCommunicator(0, 1, nil, &recordingAborter{})
	require.NoError(t, err)
	return comm
}

func TestNewCommunicator(t *testing.T) {
	ra := &recordingAborter{}
	comm, err := NewCommunicator(2, 4, "world", ra)
	require.NoError(t, err)
	assert.Equal(t, 2, comm.Rank())
	assert.Equal(t, 4, comm.Size())
	assert.Equal(t, "world", comm.Handle())

	comm.Abort(AbortCode, errors.New("boom"))
	assert.Equal(t, []int{789}, ra.codes)

	_, err = NewCommunicator(4, 4, nil, ra)
	assert.Error(t, err)
	_, err = NewCommunicator(0, 0, nil, ra)
	assert.Error(t, err)
	_, err = NewCommunicator(0, 1, nil, nil)
	assert.Error(t, err)
}

func TestCommunicatorFromEnv(t *testing.T) {
	t.Setenv("OMPI_COMM_WORLD_RANK", "3")
	t.Setenv("OMPI_COMM_WORLD_SIZE", "8")
	comm, err := CommunicatorFromEnv(&recordingAborter{})
	require.NoError(t, err)
	assert.Equal(t, 3, comm.Rank())
	assert.Equal(t, 8, comm.Size())

	t.Setenv("OMPI_COMM_WORLD_SIZE", "eight")
	_, err = CommunicatorFromEnv(&recordingAborter{})
	assert.Error(t, err)
}

func TestLocalEngine_SingleRankOnly(t *testing.T) {
	le := NewLocalEngine("", nil)
	comm, err := NewCommunicator(0, 2, nil, &recordingAborter{})
	require.NoError(t, err)
	assert.Error(t, le.SetCommunicator(comm))

	require.NoError(t, le.SetCommunicator(singleRank(t)))
	assert.Error(t, le.SetCommunicator(singleRank(t)), "communicator is set once")
}

func TestLocalEngine_RegisterGridChecks(t *testing.T) {
	le := NewLocalEngine("", nil)
	g := latticeBlock(0, 1, 2, 0, 1)
	assert.Error(t, le.RegisterGrid(g), "before SetCommunicator")

	require.NoError(t, le.SetCommunicator(singleRank(t)))
	require.NoError(t, le.RegisterGrid(g))

	empty := g
	empty.Elements = nil
	assert.Error(t, le.RegisterGrid(empty))

	bad := latticeBlock(1, 1, 2, 0, 1)
	bad.Elements[0].Conn[3] = 99
	assert.Error(t, le.RegisterGrid(bad), "node index out of range")
}

func TestLocalEngine_HoleCutAndDataUpdate(t *testing.T) {
	le := NewLocalEngine("", nil)
	require.NoError(t, le.SetCommunicator(singleRank(t)))

	// Background lattice 0..2, near-body cube 0.4..1.6 whose nodes are all wall
	background := latticeBlock(0, 1, 3, 0, 1)
	nearBody := latticeBlock(1, 2, 2, 0.4, 1.2)
	nearBody.WallNodes = []int32{0, 1, 2, 3, 4, 5, 6, 7}
	nearBody.OversetNodes = []int32{0}

	require.NoError(t, le.RegisterGrid(background))
	require.NoError(t, le.RegisterGrid(nearBody))
	require.NoError(t, le.PreprocessGrids())
	require.NoError(t, le.PerformConnectivity())

	// Only the background node at (1,1,1) lies inside the wall box
	for n, ib := range background.IBlank {
		if n == 13 {
			assert.Equal(t, Hole, ib, "node %d", n)
		} else {
			assert.Equal(t, Field, ib, "node %d", n)
		}
	}
	assert.Equal(t, Receptor, nearBody.IBlank[0])
	for n := 1; n < 8; n++ {
		assert.Equal(t, Field, nearBody.IBlank[n])
	}

	nvar := 2
	qb := make([]float64, nvar*background.NodeCount)
	for n := 0; n < background.NodeCount; n++ {
		qb[n*nvar], qb[n*nvar+1] = float64(n), 100+float64(n)
	}
	qn := make([]float64, nvar*nearBody.NodeCount)
	for i := range qn {
		qn[i] = -5
	}
	require.NoError(t, le.RegisterSolution(0, qb))
	require.NoError(t, le.RegisterSolution(1, qn))
	require.NoError(t, le.DataUpdate(nvar, RowMajor))

	// Receptor at (0.4,0.4,0.4) takes the row of background node 0
	assert.Equal(t, []float64{0, 100}, qn[0:2])
	assert.Equal(t, []float64{-5, -5}, qn[2:4])

	assert.Error(t, le.DataUpdate(3, RowMajor), "nvar disagrees with solution length")
	assert.Error(t, le.DataUpdate(nvar, Layout(1)))
	assert.Error(t, le.RegisterSolution(5, qb))
}

func TestLocalEngine_RepeatedConnectivityIsStable(t *testing.T) {
	le := NewLocalEngine("", nil)
	require.NoError(t, le.SetCommunicator(singleRank(t)))
	background := latticeBlock(0, 1, 3, 0, 1)
	nearBody := latticeBlock(1, 2, 2, 0.4, 1.2)
	nearBody.WallNodes = []int32{0, 7}
	require.NoError(t, le.RegisterGrid(background))
	require.NoError(t, le.RegisterGrid(nearBody))

	require.NoError(t, le.PerformConnectivity())
	first := append([]int32{}, background.IBlank...)
	require.NoError(t, le.PerformConnectivity())
	assert.Equal(t, first, background.IBlank)

	// Move the body out of the background in place and recompute
	for i := range nearBody.Coordinates {
		nearBody.Coordinates[i] += 10
	}
	require.NoError(t, le.PreprocessGrids())
	require.NoError(t, le.PerformConnectivity())
	for _, ib := range background.IBlank {
		assert.Equal(t, Field, ib)
	}
}

func TestLocalEngine_ReleaseGrid(t *testing.T) {
	le := NewLocalEngine("", nil)
	require.NoError(t, le.SetCommunicator(singleRank(t)))
	background := latticeBlock(0, 1, 3, 0, 1)
	nearBody := latticeBlock(1, 2, 2, 0.4, 1.2)
	nearBody.WallNodes = []int32{0, 1, 2, 3, 4, 5, 6, 7}
	require.NoError(t, le.RegisterGrid(background))
	require.NoError(t, le.RegisterGrid(nearBody))
	require.NoError(t, le.PerformConnectivity())
	require.Equal(t, Hole, background.IBlank[13])

	// A released block is neither cut nor a cutter
	require.NoError(t, le.ReleaseGrid(1))
	require.NoError(t, le.PerformConnectivity())
	for _, ib := range background.IBlank {
		assert.Equal(t, Field, ib)
	}

	require.NoError(t, le.ReleaseGrid(0))
	for i := range background.IBlank {
		background.IBlank[i] = 42
	}
	require.NoError(t, le.PerformConnectivity())
	assert.Equal(t, int32(42), background.IBlank[0])
	assert.Error(t, le.ReleaseGrid(0))
	assert.Error(t, le.RegisterSolution(0, make([]float64, 27)))
}

func TestLocalEngine_WriteOutput(t *testing.T) {
	dir := t.TempDir()
	le := NewLocalEngine(dir, nil)
	require.NoError(t, le.SetCommunicator(singleRank(t)))
	g := latticeBlock(3, 1, 3, 0, 1)
	require.NoError(t, le.RegisterGrid(g))
	require.NoError(t, le.RegisterSolution(3, make([]float64, 2*g.NodeCount)))

	require.NoError(t, le.WriteOutput(2, RowMajor))
	require.NoError(t, le.WriteOutput(0, RowMajor))

	data, err := os.ReadFile(filepath.Join(dir, "block03-rank0-0000.vtk"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "POINTS 27 double")
	assert.Contains(t, out, "CELLS 8 72")
	assert.Contains(t, out, "CELL_TYPES 8")
	assert.Contains(t, out, "SCALARS q1 double 1")

	data, err = os.ReadFile(filepath.Join(dir, "block03-rank0-0001.vtk"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SCALARS q0")
}

func TestWriteVTK_MixedCells(t *testing.T) {
	g := GridData{
		NodeCount:   6,
		Coordinates: make([]float64, 18),
		IBlank:      []int32{1, 1, 1, 0, -1, 1},
		Elements: []ElementBlock{
			{Arity: 4, Cells: 1, Conn: []int32{0, 1, 2, 3}},
			{Arity: 6, Cells: 1, Conn: []int32{0, 1, 2, 3, 4, 5}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteVTK(&buf, g, nil, 0))
	out := buf.String()
	assert.Contains(t, out, "CELLS 2 12")
	assert.True(t, strings.Contains(out, "\n10\n13\n"), "tet then wedge cell types")

	g.Elements[0].Arity = 7
	assert.Error(t, WriteVTK(&bytes.Buffer{}, g, nil, 0))
}
