package watcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/models"
)

// StateEventWatcher is the optional watcher of SPEC_FULL.md §4.3: it opens
// the stream served by the EventSource it is given (cmd/vm-agent passes the
// same local-mgr adapter, and so the same endpoint, as EventStreamWatcher)
// and narrows every modify event to {state, zone_state}. Create and delete
// events pass through unchanged; there is no separate state-change endpoint.
// It reuses EventStreamWatcher's reconnect/replay machinery rather than
// duplicating it.
type StateEventWatcher struct {
	inner *EventStreamWatcher
}

func NewStateEventWatcher(cfg Config, source EventSource) *StateEventWatcher {
	sw := &StateEventWatcher{}
	sw.inner = NewEventStreamWatcher(Config{
		Log:      cfg.Log,
		UpdateVM: narrowToState(cfg.UpdateVM),
	}, source)
	return sw
}

// narrowToState wraps next so only state/zone_state survive into the
// partial this watcher forwards, regardless of what the underlying stream's
// VmRecord actually carried.
func narrowToState(next UpdateFunc) UpdateFunc {
	return func(id uuid.UUID, kind models.EventKind, partial map[string]any) {
		if kind != models.EventModify || partial == nil {
			next(id, kind, partial)
			return
		}
		narrowed := make(map[string]any, 2)
		if v, ok := partial["state"]; ok {
			narrowed["state"] = v
		}
		if v, ok := partial["zone_state"]; ok {
			narrowed["zone_state"] = v
		}
		next(id, kind, narrowed)
	}
}

func (sw *StateEventWatcher) Start(ctx context.Context) error {
	return sw.inner.Start(ctx)
}

func (sw *StateEventWatcher) Stop() {
	sw.inner.Stop()
}
