package watcher_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/localmgr"
	"github.com/joyent/vm-agent/internal/models"
	"github.com/joyent/vm-agent/internal/watcher"
)

type fakeHandle struct {
	done chan struct{}
	once sync.Once
}

func (h *fakeHandle) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) Done() <-chan struct{} {
	return h.done
}

type fakeEventSource struct {
	mu        sync.Mutex
	opens     int
	snapshots []map[uuid.UUID]models.VmRecord
	handle    *fakeHandle
}

func (f *fakeEventSource) OpenEventStream(_ context.Context, handler func(localmgr.Event), readyCb func(map[uuid.UUID]models.VmRecord)) (localmgr.EventStreamHandle, error) {
	f.mu.Lock()
	snap := f.snapshots[f.opens]
	f.opens++
	f.handle = &fakeHandle{done: make(chan struct{})}
	h := f.handle
	f.mu.Unlock()

	readyCb(snap)
	_ = handler
	return h, nil
}

var _ = Describe("EventStreamWatcher", func() {
	It("replays the delta between sessions as create/modify/delete", func() {
		v1 := uuid.New()
		v2 := uuid.New()
		v3 := uuid.New()

		source := &fakeEventSource{
			snapshots: []map[uuid.UUID]models.VmRecord{
				{v1: {UUID: v1, State: "running"}, v2: {UUID: v2, State: "running"}},
				{v1: {UUID: v1, State: "running", LastModified: time.Unix(100, 0)}, v3: {UUID: v3, State: "running"}},
			},
		}

		rec := &eventRecorder{}
		cfg := watcher.Config{Log: zap.NewNop().Sugar(), UpdateVM: rec.record}
		w := watcher.NewEventStreamWatcher(cfg, source)

		Expect(w.Start(context.Background())).To(Succeed())

		Eventually(func() int { source.mu.Lock(); defer source.mu.Unlock(); return source.opens }, time.Second).Should(Equal(1))

		source.mu.Lock()
		h := source.handle
		source.mu.Unlock()
		h.Stop()

		Eventually(func() int { source.mu.Lock(); defer source.mu.Unlock(); return source.opens }, 2*time.Second).Should(Equal(2))
		w.Stop()

		events := rec.snapshot()
		Expect(events).To(ContainElement(HaveField("kind", models.EventModify)))
		Expect(events).To(ContainElement(HaveField("kind", models.EventCreate)))
		Expect(events).To(ContainElement(HaveField("kind", models.EventDelete)))
	})
})
