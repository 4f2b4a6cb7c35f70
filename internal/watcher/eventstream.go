package watcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/localmgr"
	"github.com/joyent/vm-agent/internal/models"
)

// restartDelay is the fixed backoff spec §4.3.3 prescribes between a stream
// error and the next restart attempt ("a small fixed delay (≈1s)").
const restartDelay = time.Second

// EventSource is the subset of internal/localmgr.Adapter the
// EventStreamWatcher and StateEventWatcher need.
type EventSource interface {
	OpenEventStream(ctx context.Context, handler func(localmgr.Event), readyCb func(map[uuid.UUID]models.VmRecord)) (localmgr.EventStreamHandle, error)
}

// EventStreamWatcher implements spec §4.3.3: forward live events as-is, and
// on disconnect, self-heal by restarting and replaying the delta between the
// cached snapshot and the new initial snapshot.
type EventStreamWatcher struct {
	cfg    Config
	source EventSource

	cached map[uuid.UUID]models.VmRecord
	seeded bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEventStreamWatcher(cfg Config, source EventSource) *EventStreamWatcher {
	return &EventStreamWatcher{cfg: cfg, source: source, cached: make(map[uuid.UUID]models.VmRecord)}
}

func (w *EventStreamWatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx)
	return nil
}

func (w *EventStreamWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
}

func (w *EventStreamWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		if ctx.Err() != nil {
			return
		}

		handle, err := w.source.OpenEventStream(ctx, w.handleEvent, w.handleReady)
		if err != nil {
			w.cfg.Log.Warnw("event stream watcher: open failed, retrying", "error", err)
			if !sleep(ctx, restartDelay) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			handle.Stop()
			return
		case <-handle.Done():
			w.cfg.Log.Warnw("event stream watcher: connection lost, restarting")
			if !sleep(ctx, restartDelay) {
				return
			}
		}
	}
}

func (w *EventStreamWatcher) handleEvent(ev localmgr.Event) {
	var partial map[string]any
	if ev.Vm != nil {
		if isHidden(*ev.Vm) {
			return
		}
		partial = vmRecordToPartial(*ev.Vm)
		w.cached[ev.UUID] = *ev.Vm
	}
	w.cfg.UpdateVM(ev.UUID, ev.Kind, partial)
}

// handleReady implements the recovery contract: on the first ready after a
// restart, diff the previous cached snapshot against the new one and
// synthesize the events missed during the gap.
func (w *EventStreamWatcher) handleReady(snapshot map[uuid.UUID]models.VmRecord) {
	if !w.seeded {
		w.cached = snapshot
		w.seeded = true
		return
	}

	for id, vm := range snapshot {
		if isHidden(vm) {
			continue
		}
		prev, existed := w.cached[id]
		switch {
		case !existed:
			w.cfg.UpdateVM(id, models.EventCreate, vmRecordToPartial(vm))
		case !prev.LastModified.Equal(vm.LastModified):
			w.cfg.UpdateVM(id, models.EventModify, vmRecordToPartial(vm))
		}
	}
	for id, vm := range w.cached {
		if isHidden(vm) {
			continue
		}
		if _, ok := snapshot[id]; !ok {
			w.cfg.UpdateVM(id, models.EventDelete, nil)
		}
	}
	w.cached = snapshot
}

// sleep waits for d or ctx cancellation, returning false if ctx was
// cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
