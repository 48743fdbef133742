package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDescriptor returns a valid descriptor with 100 nodes and the given
// connectivity lengths for tet, pyramid, prism and hex cells
func newDescriptor(tet, pyra, prism, hexa int) Descriptor {
	return Descriptor{
		TetConn:     make([]int32, tet),
		PyraConn:    make([]int32, pyra),
		PrismConn:   make([]int32, prism),
		HexaConn:    make([]int32, hexa),
		WallNode:    []int32{0, 1, 2},
		OversetNode: []int32{97, 98, 99, 96},
		BodyTag:     []int32{7},
		Coordinates: make([]float64, 300),
		IBlank:      make([]int32, 100),
	}
}

func TestValidate_EachMissingFieldIsNamed(t *testing.T) {
	for _, field := range RequiredFields {
		t.Run(field, func(t *testing.T) {
			d := newDescriptor(40, 0, 0, 80)
			delete(d, field)

			err := d.Validate()
			var se *SchemaError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, []string{field}, se.Missing)
			assert.Contains(t, se.Error(), field)

			_, err = Plan(d)
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestValidate_ReportsEveryMissingField(t *testing.T) {
	d := newDescriptor(40, 0, 0, 0)
	delete(d, PyraConn)
	delete(d, OversetNode)
	d[IBlank] = nil

	err := d.Validate()
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{PyraConn, OversetNode, IBlank}, se.Missing)
}

func TestValidate_Mistyped(t *testing.T) {
	d := newDescriptor(40, 0, 0, 0)
	d[Coordinates] = make([]float32, 300)
	d[HexaConn] = []int{}

	err := d.Validate()
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, se.Missing)
	assert.Equal(t, []string{HexaConn, Coordinates}, se.Mistyped)
	assert.Contains(t, err.Error(), "grid-coordinates must be []float64")
}

func TestBuildElementTable(t *testing.T) {
	tests := []struct {
		name                    string
		tet, pyra, prism, hexa  int
		wantArities, wantCounts []int
	}{
		{"TetAndHex", 40, 0, 0, 80, []int{4, 8}, []int{10, 10}},
		{"TetOnly", 4, 0, 0, 0, []int{4}, []int{1}},
		{"HexOnly", 0, 0, 0, 16, []int{8}, []int{2}},
		{"PyraPrism", 0, 10, 12, 0, []int{5, 6}, []int{2, 2}},
		{"AllFour", 8, 5, 6, 8, []int{4, 5, 6, 8}, []int{2, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := BuildElementTable(newDescriptor(tt.tet, tt.pyra, tt.prism, tt.hexa))
			require.NoError(t, err)
			assert.Equal(t, tt.wantArities, table.Arities())
			counts := make([]int, len(table))
			for i, et := range table {
				counts[i] = et.Cells
				assert.Equal(t, et.Kind.Arity(), et.Arity)
				assert.Nil(t, et.Conn)
			}
			assert.Equal(t, tt.wantCounts, counts)
		})
	}
}

func TestBuildElementTable_EveryPresenceCombination(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		lengths := make([]int, 4)
		var want []int
		for i, kind := range ElementKinds {
			if mask&(1<<i) != 0 {
				lengths[i] = 3 * kind.Arity()
				want = append(want, kind.Arity())
			}
		}
		table, err := BuildElementTable(newDescriptor(lengths[0], lengths[1], lengths[2], lengths[3]))
		if mask == 0 {
			var ee *EmptyGridError
			assert.True(t, errors.As(err, &ee), "mask %04b", mask)
			continue
		}
		require.NoError(t, err, "mask %04b", mask)
		assert.Equal(t, want, table.Arities(), "mask %04b", mask)
		assert.Equal(t, 3*len(want), table.TotalCells())
	}
}

func TestBuildElementTable_ShapeErrors(t *testing.T) {
	for _, kind := range ElementKinds {
		t.Run(kind.String(), func(t *testing.T) {
			d := newDescriptor(40, 0, 0, 80)
			d[kind.Field()] = make([]int32, kind.Arity()*3+1)

			_, err := Plan(d)
			var se *ShapeError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, kind.Field(), se.Field)
			assert.Equal(t, kind.Arity(), se.Divisor)
		})
	}
}

func TestPlan_EmptyGrid(t *testing.T) {
	_, err := Plan(newDescriptor(0, 0, 0, 0))
	var ee *EmptyGridError
	assert.True(t, errors.As(err, &ee))
}

func TestNodeCount(t *testing.T) {
	nv, err := NodeCount(300)
	require.NoError(t, err)
	assert.Equal(t, 100, nv)

	_, err = NodeCount(301)
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Coordinates, se.Field)
}

func TestPlan_DerivedQuantities(t *testing.T) {
	g, err := Plan(newDescriptor(40, 0, 0, 80))
	require.NoError(t, err)
	assert.Equal(t, int32(7), g.BodyTag)
	assert.Equal(t, 100, g.NodeCount)
	assert.Equal(t, 3, g.WallCount, "wall count is the raw length")
	assert.Equal(t, 4, g.OversetCount, "overset count is the raw length")
	assert.Equal(t, []int{4, 8}, g.Elements.Arities())

	t.Run("CoordinateRemainder", func(t *testing.T) {
		d := newDescriptor(40, 0, 0, 0)
		d[Coordinates] = make([]float64, 301)
		_, err := Plan(d)
		var se *ShapeError
		require.True(t, errors.As(err, &se))
	})

	t.Run("EmptyBodyTag", func(t *testing.T) {
		d := newDescriptor(40, 0, 0, 0)
		d[BodyTag] = []int32{}
		_, err := Plan(d)
		var se *ShapeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, BodyTag, se.Field)
	})

	t.Run("IBlankLength", func(t *testing.T) {
		d := newDescriptor(40, 0, 0, 0)
		d[IBlank] = make([]int32, 99)
		_, err := Plan(d)
		var se *ShapeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, IBlank, se.Field)
	})
}

func TestCoordinateMatrix_Aliases(t *testing.T) {
	xyz := []float64{0, 1, 2, 3, 4, 5}
	m := CoordinateMatrix(xyz)
	require.NotNil(t, m)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	m.Set(1, 2, 50)
	assert.Equal(t, 50.0, xyz[5])
	assert.Nil(t, CoordinateMatrix(nil))
}

func TestKindOfArity(t *testing.T) {
	for _, kind := range ElementKinds {
		got, ok := KindOfArity(kind.Arity())
		assert.True(t, ok)
		assert.Equal(t, kind, got)
	}
	_, ok := KindOfArity(7)
	assert.False(t, ok)
}
