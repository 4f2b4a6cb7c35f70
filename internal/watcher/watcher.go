// Package watcher implements the four observation sources of spec §4.3:
// FilesystemWatcher, PeriodicPoller, EventStreamWatcher and
// StateEventWatcher. Each is independently startable/stoppable and speaks to
// the rest of the agent only through the updateVM callback (message
// passing, spec §5 "Shared-resource policy").
package watcher

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joyent/vm-agent/internal/models"
)

// UpdateFunc is the single seam every watcher reports observations through.
// partial carries only the fields the watcher is confident changed. It is nil
// for delete events and for event-stream deliveries that carry no record.
type UpdateFunc func(id uuid.UUID, kind models.EventKind, partial map[string]any)

// Watcher is the common capability spec §4.3 requires of all four sources.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
}

// Config bundles what every watcher constructor needs (spec §4.3: "a
// constructor taking {log, updateVm(uuid, kind, partial)}").
type Config struct {
	Log      *zap.SugaredLogger
	UpdateVM UpdateFunc
}

// isHidden reports whether vm is flagged do-not-inventory. Every watcher
// checks this before calling UpdateVM (spec §4.3 "MUST never call updateVm
// for hidden VMs").
func isHidden(vm models.VmRecord) bool {
	return vm.Hidden
}
