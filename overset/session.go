package overset

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"

	"github.com/notargets/OversetGrid/buffer"
	"github.com/notargets/OversetGrid/engine"
	"github.com/notargets/OversetGrid/grid"
)

// State is the registration state of a Session
type State int

const (
	Unregistered State = iota
	Registered
	Preprocessed
	Connected
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "UNREGISTERED"
	case Registered:
		return "REGISTERED"
	case Preprocessed:
		return "PREPROCESSED"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const solutionField = "solution"

// Session is one grid block registered with the engine. Its grid buffers stay
// pinned from Register until the next Register or Close.
type Session struct {
	proc    *Process
	id      string
	blockID int
	logger  hclog.Logger

	state  State
	closed bool

	descriptor grid.Descriptor
	geometry   *grid.Geometry
	pins       *pinSet
	nvar       int
}

func newSession(p *Process, blockID int) *Session {
	id := ulid.Make().String()
	return &Session{
		proc:    p,
		id:      id,
		blockID: blockID,
		logger:  p.logger.Named("session").With("block", blockID, "session", id),
	}
}

// ID returns the session's unique identifier, also used as the pin owner
func (s *Session) ID() string { return s.id }

// BlockID returns the engine block ID of this session
func (s *Session) BlockID() int { return s.blockID }

// State returns the current registration state
func (s *Session) State() State { return s.state }

// Closed reports whether Close has been called
func (s *Session) Closed() bool { return s.closed }

// Geometry returns the dispatch plan of the current registration, or nil
func (s *Session) Geometry() *grid.Geometry { return s.geometry }

// Handle returns the pinned grid handle for a descriptor field, or nil when
// the field is not pinned
func (s *Session) Handle(name string) *buffer.Handle {
	if s.pins == nil {
		return nil
	}
	return s.pins.byName[name]
}

// Pinned returns the number of grid handles currently held
func (s *Session) Pinned() int {
	if s.pins == nil {
		return 0
	}
	return len(s.pins.handles)
}

// Register validates d, pins its arrays and registers the block with the
// engine. Registering again releases the previous handles first.
func (s *Session) Register(d grid.Descriptor) error {
	const op = "register"
	if s.closed {
		return s.fail(op, &LifecycleError{Op: op, State: s.state, Reason: "session closed"})
	}
	geo, err := grid.Plan(d)
	if err != nil {
		return s.fail(op, err)
	}
	if err = s.releaseGrid(); err != nil {
		return s.fail(op, err)
	}
	s.state, s.nvar = Unregistered, 0

	data, pins, err := s.acquireGrid(d, geo)
	if err != nil {
		return s.fail(op, err)
	}
	if err = s.proc.collective("register_grid", func() error {
		return s.proc.engine.RegisterGrid(data)
	}); err != nil {
		if rerr := pins.releaseAll(); rerr != nil {
			err = multierror.Append(err, rerr)
		}
		return s.fail(op, err)
	}

	s.descriptor, s.geometry, s.pins = d, geo, pins
	s.state = Registered
	s.logger.Info("grid registered",
		"body", geo.BodyTag,
		"nodes", geo.NodeCount,
		"wall", geo.WallCount,
		"overset", geo.OversetCount,
		"arities", geo.Elements.Arities(),
		"cells", geo.Elements.TotalCells())
	return nil
}

// acquireGrid pins every array the engine keeps a view of. On failure every
// handle acquired so far is released before returning.
func (s *Session) acquireGrid(d grid.Descriptor, geo *grid.Geometry) (data engine.GridData, ps *pinSet, err error) {
	ps = newPinSet(s.id, s.proc.provider, s.proc.metrics)
	defer func() {
		if err != nil {
			if rerr := ps.releaseAll(); rerr != nil {
				err = multierror.Append(err, rerr)
			}
			ps = nil
		}
	}()

	data = engine.GridData{
		BlockID:   s.blockID,
		BodyTag:   geo.BodyTag,
		NodeCount: geo.NodeCount,
	}
	if data.Coordinates, err = ps.float64s(grid.Coordinates, d[grid.Coordinates]); err != nil {
		return
	}
	if data.IBlank, err = ps.int32s(grid.IBlank, d[grid.IBlank]); err != nil {
		return
	}
	if data.WallNodes, err = ps.int32s(grid.WallNode, d[grid.WallNode]); err != nil {
		return
	}
	if data.OversetNodes, err = ps.int32s(grid.OversetNode, d[grid.OversetNode]); err != nil {
		return
	}
	for i := range geo.Elements {
		et := &geo.Elements[i]
		var conn []int32
		if conn, err = ps.int32s(et.Kind.Field(), d[et.Kind.Field()]); err != nil {
			return
		}
		et.Conn = ps.byName[et.Kind.Field()]
		data.Elements = append(data.Elements, engine.ElementBlock{
			Arity: et.Arity,
			Cells: et.Cells,
			Conn:  conn,
		})
	}
	return data, ps, nil
}

// Preprocess asks the engine to preprocess every registered grid
func (s *Session) Preprocess() error {
	const op = "preprocess"
	if err := s.require(op); err != nil {
		return s.fail(op, err)
	}
	if err := s.proc.collective("preprocess_grids", s.proc.engine.PreprocessGrids); err != nil {
		return s.fail(op, err)
	}
	s.state = Preprocessed
	return nil
}

// PerformConnectivity runs the engine's connectivity pass. The engine writes
// iblank through the pinned view; the caller's iblanking array holds the
// result when this returns. Repeated passes on one registration are allowed.
func (s *Session) PerformConnectivity() error {
	const op = "perform_connectivity"
	if err := s.require(op); err != nil {
		return s.fail(op, err)
	}
	if err := s.proc.collective("perform_connectivity", s.proc.engine.PerformConnectivity); err != nil {
		return s.fail(op, err)
	}
	if err := s.syncIBlank(); err != nil {
		return s.fail(op, err)
	}
	s.state = Connected
	return nil
}

// syncIBlank makes the caller's iblank and its device copy agree after a
// connectivity pass. A device-resident engine wrote the device copy; any
// other engine wrote the host array.
func (s *Session) syncIBlank() error {
	sy, ok := s.proc.provider.(buffer.Syncer)
	if !ok {
		return nil
	}
	h := s.Handle(grid.IBlank)
	if s.proc.onDevice() {
		return sy.SyncToHost(h)
	}
	return sy.SyncToDevice(h)
}

// RegisterSolution passes q, a row-major nvar*nodeCount field, to the engine
// under blockID, which must be this session's block. q is pinned only for the
// duration of the call.
func (s *Session) RegisterSolution(blockID int, q []float64) error {
	const op = "register_solution"
	if err := s.require(op); err != nil {
		return s.fail(op, err)
	}
	if blockID != s.blockID {
		return s.fail(op, &LifecycleError{Op: op, State: s.state,
			Reason: fmt.Sprintf("block %d belongs to another session, this session is block %d",
				blockID, s.blockID)})
	}
	nodes := s.geometry.NodeCount
	if len(q) == 0 || len(q)%nodes != 0 {
		return s.fail(op, &grid.ShapeError{Field: solutionField, Length: len(q), Divisor: nodes,
			Reason: "not a whole number of variables per node"})
	}

	h, err := s.proc.provider.Acquire(s.id, solutionField, q)
	if err != nil {
		return s.fail(op, err)
	}
	s.proc.metrics.acquired()
	view, err := h.Float64s()
	if sy, ok := s.proc.provider.(buffer.Syncer); ok && err == nil {
		err = sy.SyncToDevice(h)
	}
	if err == nil {
		err = s.proc.collective("register_solution", func() error {
			return s.proc.engine.RegisterSolution(blockID, view)
		})
	}
	if rerr := s.proc.metrics.release(h); rerr != nil {
		err = multierror.Append(err, rerr).ErrorOrNil()
	}
	if err != nil {
		return s.fail(op, err)
	}
	s.nvar = len(q) / nodes
	return nil
}

// DataUpdate propagates the registered solution from donors to receptors
func (s *Session) DataUpdate(nvar int) error {
	const op = "data_update"
	if err := s.require(op); err != nil {
		return s.fail(op, err)
	}
	if err := s.checkVars(op, nvar, true); err != nil {
		return s.fail(op, err)
	}
	if err := s.proc.collective("data_update", func() error {
		return s.proc.engine.DataUpdate(nvar, engine.RowMajor)
	}); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// WriteOutput asks the engine to write grids and nvar solution variables.
// With nvar zero only the grids are written and no solution is needed.
func (s *Session) WriteOutput(nvar int) error {
	const op = "write_output"
	if err := s.require(op); err != nil {
		return s.fail(op, err)
	}
	if err := s.checkVars(op, nvar, false); err != nil {
		return s.fail(op, err)
	}
	if err := s.proc.collective("write_output", func() error {
		return s.proc.engine.WriteOutput(nvar, engine.RowMajor)
	}); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// Close releases every grid handle still pinned. It is safe in any state and
// a second call does nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	n := s.Pinned()
	if err := s.releaseGrid(); err != nil {
		kind := Kind(err)
		s.proc.metrics.Failures.WithLabelValues(kind).Inc()
		s.logger.Error("close", "kind", kind, "error", err)
		return err
	}
	s.logger.Debug("session closed", "state", s.state, "released", n)
	return nil
}

// require checks that the session is open and registered, and that the
// caller has not swapped or resized any pinned array
func (s *Session) require(op string) error {
	if s.closed {
		return &LifecycleError{Op: op, State: s.state, Reason: "session closed"}
	}
	if s.state < Registered {
		return &LifecycleError{Op: op, State: s.state, Reason: "grid not registered"}
	}
	for _, h := range s.pins.handles {
		if !h.Matches(s.descriptor[h.Name]) {
			return &buffer.ResourceError{Name: h.Name, Owner: h.Owner,
				Reason: "array replaced or resized while pinned"}
		}
	}
	return nil
}

func (s *Session) checkVars(op string, nvar int, needSolution bool) error {
	switch {
	case nvar < 0:
		return &grid.ShapeError{Field: solutionField, Length: nvar, Reason: "negative variable count"}
	case nvar == 0 && !needSolution:
		return nil
	case s.nvar == 0:
		return &LifecycleError{Op: op, State: s.state, Reason: "no solution registered"}
	case nvar != s.nvar:
		return &grid.ShapeError{Field: solutionField, Length: nvar * s.geometry.NodeCount,
			Divisor: s.geometry.NodeCount,
			Reason:  fmt.Sprintf("%d variables requested, solution holds %d", nvar, s.nvar)}
	}
	return nil
}

// releaseGrid tells the engine to drop the block, then unpins its arrays
func (s *Session) releaseGrid() error {
	if s.pins == nil {
		return nil
	}
	var result *multierror.Error
	if gr, ok := s.proc.engine.(engine.GridReleaser); ok {
		if err := s.proc.collective("release_grid", func() error {
			return gr.ReleaseGrid(s.blockID)
		}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.pins.releaseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	s.pins, s.descriptor, s.geometry = nil, nil, nil
	return result.ErrorOrNil()
}

func (s *Session) fail(op string, err error) error {
	return s.proc.fatal(s.logger, op, err)
}

// pinSet holds the handles acquired for one registration and releases them
// together, most recent first
type pinSet struct {
	owner    string
	provider buffer.Provider
	metrics  *Metrics
	handles  []*buffer.Handle
	byName   map[string]*buffer.Handle
}

func newPinSet(owner string, provider buffer.Provider, metrics *Metrics) *pinSet {
	return &pinSet{
		owner:    owner,
		provider: provider,
		metrics:  metrics,
		byName:   make(map[string]*buffer.Handle),
	}
}

func (ps *pinSet) acquire(name string, host interface{}) (*buffer.Handle, error) {
	h, err := ps.provider.Acquire(ps.owner, name, host)
	if err != nil {
		return nil, err
	}
	ps.metrics.acquired()
	ps.handles = append(ps.handles, h)
	ps.byName[name] = h
	return h, nil
}

func (ps *pinSet) float64s(name string, host interface{}) ([]float64, error) {
	h, err := ps.acquire(name, host)
	if err != nil {
		return nil, err
	}
	return h.Float64s()
}

func (ps *pinSet) int32s(name string, host interface{}) ([]int32, error) {
	h, err := ps.acquire(name, host)
	if err != nil {
		return nil, err
	}
	return h.Int32s()
}

func (ps *pinSet) releaseAll() error {
	var result *multierror.Error
	for i := len(ps.handles) - 1; i >= 0; i-- {
		if err := ps.metrics.release(ps.handles[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	ps.handles = nil
	ps.byName = make(map[string]*buffer.Handle)
	return result.ErrorOrNil()
}
