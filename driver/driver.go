// Package driver runs an overset simulation loop: it loads and partitions
// every configured block, registers the blocks with the engine, runs the
// connectivity pass, and then steps a solution field through data updates
// and periodic output.
package driver

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-hclog"

	"github.com/notargets/OversetGrid/config"
	"github.com/notargets/OversetGrid/engine"
	"github.com/notargets/OversetGrid/grid"
	"github.com/notargets/OversetGrid/meshio"
	"github.com/notargets/OversetGrid/overset"
	"github.com/notargets/OversetGrid/partitions"
)

// MeshLoader reads the mesh for one block
type MeshLoader func(path string) (*meshio.Mesh, error)

// Block is one configured grid block on this rank
type Block struct {
	Config     config.BlockConfig
	Session    *overset.Session
	Mesh       *meshio.Mesh
	Descriptor grid.Descriptor
	// Q is the row-major solution, NVar values per local node
	Q []float64
}

// BlankCounts returns the number of field, hole and receptor nodes
func (b *Block) BlankCounts() (field, hole, receptor int) {
	for _, ib := range b.Descriptor.Int32s(grid.IBlank) {
		switch ib {
		case engine.Field:
			field++
		case engine.Hole:
			hole++
		case engine.Receptor:
			receptor++
		}
	}
	return
}

// Option configures a Driver
type Option func(*Driver)

// WithMeshLoader replaces meshio.ReadMesh
func WithMeshLoader(loader MeshLoader) Option {
	return func(d *Driver) { d.loader = loader }
}

// WithLogger sets the driver logger
func WithLogger(logger hclog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// Driver owns the blocks of one rank
type Driver struct {
	cfg    *config.Config
	proc   *overset.Process
	loader MeshLoader
	logger hclog.Logger
	blocks []*Block
}

// New creates a driver for cfg on proc
func New(cfg *config.Config, proc *overset.Process, opts ...Option) *Driver {
	d := &Driver{
		cfg:    cfg,
		proc:   proc,
		loader: meshio.ReadMesh,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("driver")
	return d
}

// Blocks returns the blocks in configuration order
func (d *Driver) Blocks() []*Block { return d.blocks }

// Setup registers every block on this rank and runs the first connectivity
// pass
func (d *Driver) Setup() error {
	strategy, err := partitions.ParseStrategy(d.cfg.Partition)
	if err != nil {
		return err
	}
	comm := d.proc.Communicator()
	for i, bc := range d.cfg.Blocks {
		block, err := d.loadBlock(bc, strategy, comm.Size(), comm.Rank())
		if err != nil {
			return fmt.Errorf("block %d (%s): %w", i, bc.Mesh, err)
		}
		if block.Session, err = d.proc.NewSession(); err != nil {
			return err
		}
		if err = block.Session.Register(block.Descriptor); err != nil {
			return fmt.Errorf("block %d (%s): %w", i, bc.Mesh, err)
		}
		d.blocks = append(d.blocks, block)
	}

	if err = d.proc.Preprocess(); err != nil {
		return err
	}
	if err = d.proc.PerformConnectivity(); err != nil {
		return err
	}
	for _, b := range d.blocks {
		field, hole, receptor := b.BlankCounts()
		d.logger.Info("connectivity", "block", b.Session.BlockID(), "mesh", b.Config.Mesh,
			"field", field, "hole", hole, "receptor", receptor)
	}
	return nil
}

func (d *Driver) loadBlock(bc config.BlockConfig, strategy partitions.PartitionStrategy,
	size, rank int) (*Block, error) {
	m, err := d.loader(bc.Mesh)
	if err != nil {
		return nil, err
	}
	boundary, err := meshio.Classify(m, bc.WallBox, bc.OuterOverset)
	if err != nil {
		return nil, err
	}
	pb := &partitions.PartitionBuilder{Mesh: m.Conn, NumPartitions: size, Strategy: strategy}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, err
	}
	p := &layout.Partitions[rank]
	d.logger.Debug("block partitioned", "mesh", bc.Mesh, "elements", p.NumElements,
		"nodes", len(p.LocalNodes), "wall", len(boundary.Wall), "overset", len(boundary.Overset))

	return &Block{
		Config:     bc,
		Mesh:       m,
		Descriptor: meshio.BuildDescriptor(m, p, bc.BodyTag, boundary),
		Q:          make([]float64, d.cfg.NVar*len(p.LocalNodes)),
	}, nil
}

// Run advances the solution through cfg.Steps steps. Each step recomputes
// the field, registers it, propagates it to receptors and writes output
// every cfg.WriteEvery steps.
func (d *Driver) Run() error {
	nvar := d.cfg.NVar
	for step := 1; step <= d.cfg.Steps; step++ {
		if nvar > 0 {
			for _, b := range d.blocks {
				d.advance(b, step)
				if err := b.Session.RegisterSolution(b.Session.BlockID(), b.Q); err != nil {
					return err
				}
			}
			if err := d.proc.DataUpdate(nvar); err != nil {
				return err
			}
		}
		if d.cfg.WriteEvery > 0 && step%d.cfg.WriteEvery == 0 {
			if err := d.proc.WriteOutput(nvar); err != nil {
				return err
			}
		}
		d.logger.Debug("step complete", "step", step)
	}
	d.logger.Info("run complete", "steps", d.cfg.Steps, "blocks", len(d.blocks))
	return nil
}

// advance fills field and hole nodes with a travelling wave; receptors keep
// the values the last data update gave them
func (d *Driver) advance(b *Block, step int) {
	nvar := d.cfg.NVar
	xyz := b.Descriptor.Float64s(grid.Coordinates)
	iblank := b.Descriptor.Int32s(grid.IBlank)
	t := float64(step)
	for n, ib := range iblank {
		if ib == engine.Receptor && step > 1 {
			continue
		}
		x, y, z := xyz[3*n], xyz[3*n+1], xyz[3*n+2]
		for v := 0; v < nvar; v++ {
			b.Q[n*nvar+v] = math.Sin(x+y+z-t) + float64(v)
		}
	}
}

// Close releases every block's handles
func (d *Driver) Close() error {
	return d.proc.Close()
}
