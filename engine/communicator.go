package engine

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
)

// AbortCode is the exit status used when a rank aborts the process group
const AbortCode = 789

// Aborter terminates the whole process group. Implementations backed by a
// real communicator must not return; test doubles may.
type Aborter interface {
	Abort(code int, err error)
}

// AbortFunc adapts a function to Aborter
type AbortFunc func(code int, err error)

func (f AbortFunc) Abort(code int, err error) { f(code, err) }

// ExitAborter logs err and exits the process with code. Under an MPI launcher
// a non-zero exit of one rank brings down the job.
func ExitAborter(logger hclog.Logger) Aborter {
	return AbortFunc(func(code int, err error) {
		if logger != nil {
			logger.Error("aborting process group", "code", code, "error", err)
		}
		os.Exit(code)
	})
}

// Communicator is the process-wide rank context. It is immutable after
// construction and shared by reference with every session.
type Communicator struct {
	rank    int
	size    int
	handle  interface{}
	aborter Aborter
}

// NewCommunicator creates a rank context. handle is the native communicator
// (opaque here) and may be nil for single-process runs.
func NewCommunicator(rank, size int, handle interface{}, aborter Aborter) (*Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("communicator size %d must be positive", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d outside communicator of size %d", rank, size)
	}
	if aborter == nil {
		return nil, fmt.Errorf("communicator requires an aborter")
	}
	return &Communicator{rank: rank, size: size, handle: handle, aborter: aborter}, nil
}

// rank and size variables set by common MPI launchers, in lookup order
var (
	rankEnv = []string{"OMPI_COMM_WORLD_RANK", "PMI_RANK", "PMIX_RANK", "SLURM_PROCID"}
	sizeEnv = []string{"OMPI_COMM_WORLD_SIZE", "PMI_SIZE", "SLURM_NTASKS"}
)

// CommunicatorFromEnv discovers rank and size from the launcher environment,
// defaulting to a single-rank world
func CommunicatorFromEnv(aborter Aborter) (*Communicator, error) {
	rank, err := lookupInt(rankEnv, 0)
	if err != nil {
		return nil, err
	}
	size, err := lookupInt(sizeEnv, 1)
	if err != nil {
		return nil, err
	}
	return NewCommunicator(rank, size, nil, aborter)
}

func lookupInt(names []string, def int) (int, error) {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("environment %s=%q: %w", name, v, err)
			}
			return n, nil
		}
	}
	return def, nil
}

// Rank returns this process's rank
func (c *Communicator) Rank() int { return c.rank }

// Size returns the number of ranks
func (c *Communicator) Size() int { return c.size }

// Handle returns the native communicator
func (c *Communicator) Handle() interface{} { return c.handle }

// Abort terminates the process group with code
func (c *Communicator) Abort(code int, err error) {
	c.aborter.Abort(code, err)
}
