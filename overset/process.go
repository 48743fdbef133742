// Package overset registers caller-owned grid data with a connectivity engine
// and drives the engine through its collective lifecycle. A Process owns the
// communicator and engine for one rank; every grid block on that rank is a
// Session created from it.
package overset

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/notargets/OversetGrid/buffer"
	"github.com/notargets/OversetGrid/engine"
)

// Option configures a Process
type Option func(*Process)

// WithLogger sets the process logger
func WithLogger(logger hclog.Logger) Option {
	return func(p *Process) { p.logger = logger }
}

// WithProvider sets the buffer provider used to pin caller arrays
func WithProvider(provider buffer.Provider) Option {
	return func(p *Process) { p.provider = provider }
}

// WithRegisterer registers the process metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Process) { p.registerer = reg }
}

// Process is the per-rank communicator and engine pair. It is created once,
// passed to every Session, and closed at shutdown.
type Process struct {
	comm       *engine.Communicator
	engine     engine.Engine
	provider   buffer.Provider
	logger     hclog.Logger
	registerer prometheus.Registerer
	metrics    *Metrics

	nextBlock int
	sessions  []*Session
	closed    bool
}

// NewProcess binds eng to comm. The engine's SetCommunicator is called here
// and never again.
func NewProcess(comm *engine.Communicator, eng engine.Engine, opts ...Option) (*Process, error) {
	if comm == nil {
		return nil, fmt.Errorf("overset: nil communicator")
	}
	if eng == nil {
		return nil, fmt.Errorf("overset: nil engine")
	}
	p := &Process{
		comm:   comm,
		engine: eng,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.provider == nil {
		p.provider = buffer.NewHostProvider(nil)
	}
	p.logger = p.logger.With("rank", comm.Rank())
	p.metrics = NewMetrics(p.registerer)

	if err := p.collective("set_communicator", func() error {
		return eng.SetCommunicator(comm)
	}); err != nil {
		return nil, p.fatal(p.logger, "set_communicator", err)
	}
	p.logger.Debug("process ready", "size", comm.Size())
	return p, nil
}

// Communicator returns the process communicator
func (p *Process) Communicator() *engine.Communicator { return p.comm }

// Engine returns the engine bound to this process
func (p *Process) Engine() engine.Engine { return p.engine }

// Provider returns the buffer provider sessions pin through
func (p *Process) Provider() buffer.Provider { return p.provider }

// Metrics returns the process metric set
func (p *Process) Metrics() *Metrics { return p.metrics }

// Sessions returns the sessions created on this process in block order
func (p *Process) Sessions() []*Session {
	return append([]*Session(nil), p.sessions...)
}

// NewSession creates an unregistered session for the next local block ID
func (p *Process) NewSession() (*Session, error) {
	if p.closed {
		err := &LifecycleError{Op: "new_session", State: Unregistered, Reason: "process closed"}
		return nil, p.fatal(p.logger, "new_session", err)
	}
	s := newSession(p, p.nextBlock)
	p.nextBlock++
	p.sessions = append(p.sessions, s)
	s.logger.Debug("session created")
	return s, nil
}

// Close tears down every session still open. Closing twice is a no-op.
func (p *Process) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var result *multierror.Error
	for _, s := range p.sessions {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	p.logger.Debug("process closed", "sessions", len(p.sessions))
	return result.ErrorOrNil()
}

// Preprocess issues one preprocess call covering every open session. Every
// open session must be registered.
func (p *Process) Preprocess() error {
	return p.forAll("preprocess", "preprocess_grids", p.engine.PreprocessGrids, nil,
		func(s *Session) error {
			s.state = Preprocessed
			return nil
		})
}

// PerformConnectivity issues one connectivity pass covering every open session
func (p *Process) PerformConnectivity() error {
	return p.forAll("perform_connectivity", "perform_connectivity", p.engine.PerformConnectivity, nil,
		func(s *Session) error {
			if err := s.syncIBlank(); err != nil {
				return err
			}
			s.state = Connected
			return nil
		})
}

// DataUpdate issues one update for every open session; each must hold a
// registered solution of nvar variables
func (p *Process) DataUpdate(nvar int) error {
	const op = "data_update"
	return p.forAll(op, "data_update",
		func() error { return p.engine.DataUpdate(nvar, engine.RowMajor) },
		func(s *Session) error { return s.checkVars(op, nvar, true) },
		nil)
}

// WriteOutput issues one write for every open session
func (p *Process) WriteOutput(nvar int) error {
	const op = "write_output"
	return p.forAll(op, "write_output",
		func() error { return p.engine.WriteOutput(nvar, engine.RowMajor) },
		func(s *Session) error { return s.checkVars(op, nvar, false) },
		nil)
}

// forAll checks every open session, issues call once, then applies after to
// each session
func (p *Process) forAll(op, collective string, call func() error,
	check func(*Session) error, after func(*Session) error) error {
	var open []*Session
	for _, s := range p.sessions {
		if !s.closed {
			open = append(open, s)
		}
	}
	if p.closed || len(open) == 0 {
		err := &LifecycleError{Op: op, State: Unregistered, Reason: "no open sessions"}
		return p.fatal(p.logger, op, err)
	}
	for _, s := range open {
		err := s.require(op)
		if err == nil && check != nil {
			err = check(s)
		}
		if err != nil {
			return s.fail(op, err)
		}
	}
	if err := p.collective(collective, call); err != nil {
		return p.fatal(p.logger, op, err)
	}
	if after != nil {
		for _, s := range open {
			if err := after(s); err != nil {
				return s.fail(op, err)
			}
		}
	}
	return nil
}

// onDevice reports whether the engine works on device copies of the buffers
func (p *Process) onDevice() bool {
	dr, ok := p.engine.(engine.DeviceResident)
	return ok && dr.OnDevice()
}

// collective runs one engine call, timing and counting it under op
func (p *Process) collective(op string, call func() error) error {
	start := time.Now()
	err := call()
	p.metrics.CollectiveCalls.WithLabelValues(op).Inc()
	p.metrics.CollectiveSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return &EngineError{Op: op, Err: err}
	}
	return nil
}

// fatal reports err and aborts the process group. The error is returned so
// callers with a non-exiting aborter still see it.
func (p *Process) fatal(logger hclog.Logger, op string, err error) error {
	kind := Kind(err)
	p.metrics.Failures.WithLabelValues(kind).Inc()
	logger.Error("fatal", "op", op, "kind", kind, "error", err)
	p.comm.Abort(engine.AbortCode, err)
	return err
}
