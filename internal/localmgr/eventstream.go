package localmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joyent/vm-agent/internal/models"
	agenterrors "github.com/joyent/vm-agent/pkg/errors"
)

// wireEvent is the frame shape local-mgr's event stream sends. The first
// frame of a session always carries Ready=true with the full snapshot;
// every subsequent frame is a single {kind, uuid, vm?} delta (spec §4.2).
type wireEvent struct {
	Ready bool                          `json:"ready,omitempty"`
	Vms   map[uuid.UUID]models.VmRecord `json:"vms,omitempty"`
	Kind  models.EventKind              `json:"kind,omitempty"`
	UUID  uuid.UUID                     `json:"uuid,omitempty"`
	Vm    *models.VmRecord              `json:"vm,omitempty"`
}

type streamHandle struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (h *streamHandle) Stop() {
	h.once.Do(func() {
		h.cancel()
		_ = h.conn.Close()
	})
}

// Done is closed once the stream's read loop has exited, whether because of
// Stop() or a transport error. internal/watcher.EventStreamWatcher uses this
// to detect a dead connection and self-restart (spec §4.3.3).
func (h *streamHandle) Done() <-chan struct{} {
	return h.done
}

// OpenEventStream dials local-mgr's live event endpoint over a websocket and
// delivers events to handler, calling readyCb exactly once with the initial
// snapshot (spec §4.2 "optional", §4.3.3). The returned handle's Stop tears
// the connection down; reconnection/backoff is the caller's concern
// (internal/watcher.EventStreamWatcher implements spec §4.3.3's self-heal).
func (a *Adapter) OpenEventStream(ctx context.Context, handler func(Event), readyCb func(map[uuid.UUID]models.VmRecord)) (EventStreamHandle, error) {
	if a.streamURL == "" {
		return nil, agenterrors.NewNetworkError("localmgr.openEventStream", fmt.Errorf("no event-stream URL configured"))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.streamURL, nil)
	if err != nil {
		return nil, agenterrors.NewNetworkError("localmgr.openEventStream", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	h := &streamHandle{conn: conn, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer conn.Close()
		gotReady := false
		for {
			if streamCtx.Err() != nil {
				return
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var ev wireEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}

			if ev.Ready && !gotReady {
				gotReady = true
				readyCb(ev.Vms)
				continue
			}
			if isHiddenDelta(ev) {
				continue
			}
			handler(Event{Kind: ev.Kind, UUID: ev.UUID, Vm: ev.Vm})
		}
	}()

	return h, nil
}

func isHiddenDelta(ev wireEvent) bool {
	return ev.Vm != nil && isHidden(*ev.Vm)
}
