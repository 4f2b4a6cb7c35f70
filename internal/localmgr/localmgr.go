// Package localmgr implements the LocalMgr adapter of spec §4.2: load-one,
// list-all, and an optional streaming event source over the node-local VM
// manager ("local-mgr"). This agent treats local-mgr as authoritative and
// never mutates VMs through it (spec §1 Non-goals).
package localmgr

import (
	"context"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/models"
)

// Runner executes a local-mgr CLI invocation and returns its stdout. It is
// the seam that makes Adapter unit-testable without a real node (spec §4.2
// "beyond its lookup/load/event-stream contract" is explicitly out of scope
// for this spec, so the concrete transport is kept pluggable here).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Event is a single local-mgr event-stream delivery (spec §4.2).
type Event struct {
	Kind models.EventKind
	UUID uuid.UUID
	Vm   *models.VmRecord
}

// EventStreamHandle is returned by OpenEventStream; Stop tears the stream
// down and is safe to call more than once. Done is closed when the read loop
// exits, letting the caller detect a dropped connection and restart.
type EventStreamHandle interface {
	Stop()
	Done() <-chan struct{}
}

// Adapter is the concrete LocalMgr collaborator.
type Adapter struct {
	runner    Runner
	streamURL string
}

func New(runner Runner, streamURL string) *Adapter {
	return &Adapter{runner: runner, streamURL: streamURL}
}

func isHidden(vm models.VmRecord) bool {
	return vm.Hidden
}
