package cluster

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/config"
	"github.com/Resinat/Sluice/logging"
)

// State is the cluster role of this process.
type State int32

const (
	// StateOff disables cluster-mode evaluation; rules use their local path.
	StateOff State = iota
	// StateClient acquires tokens from a remote token server.
	StateClient
	// StateServer runs the embedded token server.
	StateServer
)

func (s State) String() string {
	switch s {
	case StateClient:
		return "client"
	case StateServer:
		return "server"
	default:
		return "off"
	}
}

var (
	stateMu        sync.Mutex
	currentState   atomic.Int32
	lastTransition atomic.Int64
)

// CurrentState returns the cluster role.
func CurrentState() State {
	return State(currentState.Load())
}

// TransitionTo moves the state machine. Transitions are debounced: a change
// within the configured window of the previous one is refused so role
// flapping cannot churn connections.
func TransitionTo(next State) error {
	stateMu.Lock()
	defer stateMu.Unlock()

	cur := State(currentState.Load())
	if cur == next {
		return nil
	}
	now := base.TimeMillis()
	debounce := config.Global().ClusterStateDebounceMs
	if last := lastTransition.Load(); last != 0 && now-last < debounce {
		return fmt.Errorf("cluster: transition %s -> %s refused, %dms since previous change (min %dms)",
			cur, next, now-last, debounce)
	}
	currentState.Store(int32(next))
	lastTransition.Store(now)
	logging.Default().
		WithField("from", cur.String()).
		WithField("to", next.String()).
		Info("cluster state changed")
	return nil
}

// ServerTransport is the embedder-provided lifecycle of the token server's
// network front end.
type ServerTransport interface {
	Start() error
	Stop() error
}

// ServerRunner ties a Server to its transport and the state machine.
type ServerRunner struct {
	server    *Server
	transport ServerTransport
	running   atomic.Bool
}

// NewServerRunner wraps a server and its transport. A nil transport is
// valid for in-process use.
func NewServerRunner(server *Server, transport ServerTransport) *ServerRunner {
	return &ServerRunner{server: server, transport: transport}
}

// Server returns the wrapped token server.
func (r *ServerRunner) Server() *Server { return r.server }

// Start transitions to the server role, starts the transport, and installs
// the server as the process token service.
func (r *ServerRunner) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := TransitionTo(StateServer); err != nil {
		r.running.Store(false)
		return err
	}
	if r.transport != nil {
		if err := r.transport.Start(); err != nil {
			r.running.Store(false)
			return fmt.Errorf("cluster: transport start: %w", err)
		}
	}
	SetTokenService(r.server)
	return nil
}

// Stop halts the transport and returns the state machine to off. The
// transition shares the debounce, so a stop right after start fails.
func (r *ServerRunner) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := TransitionTo(StateOff); err != nil {
		r.running.Store(true)
		return err
	}
	SetTokenService(nil)
	if r.transport != nil {
		if err := r.transport.Stop(); err != nil {
			return fmt.Errorf("cluster: transport stop: %w", err)
		}
	}
	return nil
}

// resetStateForTest clears the machine between tests.
func resetStateForTest() {
	currentState.Store(int32(StateOff))
	lastTransition.Store(0)
}
