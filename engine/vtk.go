package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// VTK legacy cell type per arity
var vtkCellType = map[int]int{
	4: 10, // VTK_TETRA
	5: 14, // VTK_PYRAMID
	6: 13, // VTK_WEDGE
	8: 12, // VTK_HEXAHEDRON
}

func writeVTKFile(path string, g GridData, q []float64, nvar int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return WriteVTK(f, g, q, nvar)
}

// WriteVTK writes a block as a legacy ASCII unstructured grid with iblank and,
// when q is non-nil, nvar row-major point variables named q0..q{nvar-1}
func WriteVTK(w io.Writer, g GridData, q []float64, nvar int) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# vtk DataFile Version 3.0\n")
	fmt.Fprintf(bw, "overset block %d body %d\n", g.BlockID, g.BodyTag)
	fmt.Fprintf(bw, "ASCII\nDATASET UNSTRUCTURED_GRID\n")

	fmt.Fprintf(bw, "POINTS %d double\n", g.NodeCount)
	for n := 0; n < g.NodeCount; n++ {
		fmt.Fprintf(bw, "%g %g %g\n", g.Coordinates[3*n], g.Coordinates[3*n+1], g.Coordinates[3*n+2])
	}

	var ncells, size int
	for _, eb := range g.Elements {
		if _, ok := vtkCellType[eb.Arity]; !ok {
			return fmt.Errorf("no VTK cell type for arity %d", eb.Arity)
		}
		ncells += eb.Cells
		size += eb.Cells * (eb.Arity + 1)
	}
	fmt.Fprintf(bw, "CELLS %d %d\n", ncells, size)
	for _, eb := range g.Elements {
		for c := 0; c < eb.Cells; c++ {
			fmt.Fprintf(bw, "%d", eb.Arity)
			for _, n := range eb.Conn[c*eb.Arity : (c+1)*eb.Arity] {
				fmt.Fprintf(bw, " %d", n)
			}
			fmt.Fprintln(bw)
		}
	}
	fmt.Fprintf(bw, "CELL_TYPES %d\n", ncells)
	for _, eb := range g.Elements {
		for c := 0; c < eb.Cells; c++ {
			fmt.Fprintf(bw, "%d\n", vtkCellType[eb.Arity])
		}
	}

	fmt.Fprintf(bw, "POINT_DATA %d\n", g.NodeCount)
	fmt.Fprintf(bw, "SCALARS iblank int 1\nLOOKUP_TABLE default\n")
	for _, ib := range g.IBlank {
		fmt.Fprintf(bw, "%d\n", ib)
	}
	if q != nil {
		for v := 0; v < nvar; v++ {
			fmt.Fprintf(bw, "SCALARS q%d double 1\nLOOKUP_TABLE default\n", v)
			for n := 0; n < g.NodeCount; n++ {
				fmt.Fprintf(bw, "%g\n", q[n*nvar+v])
			}
		}
	}
	return bw.Flush()
}
