package localmgr_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/localmgr"
	"github.com/joyent/vm-agent/internal/models"
	agenterrors "github.com/joyent/vm-agent/pkg/errors"
)

func TestLocalMgr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LocalMgr Adapter Suite")
}

type fakeRunner struct {
	output []byte
	err    error
	lastArgs []string
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.lastArgs = args
	return f.output, f.err
}

var _ = Describe("Adapter", func() {
	Describe("LoadOne", func() {
		It("returns the matching VM", func() {
			id := uuid.New()
			runner := &fakeRunner{}
			vms := []models.VmRecord{{UUID: id, State: "running"}}
			out, err := json.Marshal(vms)
			Expect(err).NotTo(HaveOccurred())
			runner.output = out

			a := localmgr.New(runner, "")
			vm, err := a.LoadOne(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(vm.UUID).To(Equal(id))
			Expect(runner.lastArgs).To(ContainElement("uuid=" + id.String()))
		})

		It("returns NotFoundError when vmadm returns nothing", func() {
			runner := &fakeRunner{output: []byte("[]")}
			a := localmgr.New(runner, "")

			_, err := a.LoadOne(context.Background(), uuid.New())
			Expect(agenterrors.IsNotFound(err)).To(BeTrue())
		})

		It("treats hidden VMs as not found", func() {
			id := uuid.New()
			vms := []models.VmRecord{{UUID: id, Hidden: true}}
			out, _ := json.Marshal(vms)
			runner := &fakeRunner{output: out}
			a := localmgr.New(runner, "")

			_, err := a.LoadOne(context.Background(), id)
			Expect(agenterrors.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("ListAll", func() {
		It("filters hidden VMs out of the result", func() {
			visible := uuid.New()
			vms := []models.VmRecord{
				{UUID: visible},
				{UUID: uuid.New(), Hidden: true},
			}
			out, _ := json.Marshal(vms)
			runner := &fakeRunner{output: out}
			a := localmgr.New(runner, "")

			result, err := a.ListAll(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(HaveLen(1))
			Expect(result[0].UUID).To(Equal(visible))
		})
	})

	Describe("OpenEventStream", func() {
		It("delivers the ready snapshot then subsequent deltas", func() {
			upgrader := websocket.Upgrader{}
			vmID := uuid.New()

			mux := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				defer conn.Close()

				snapshot := map[uuid.UUID]models.VmRecord{vmID: {UUID: vmID}}
				readyFrame, _ := json.Marshal(struct {
					Ready bool                          `json:"ready"`
					Vms   map[uuid.UUID]models.VmRecord `json:"vms"`
				}{Ready: true, Vms: snapshot})
				if err := conn.WriteMessage(websocket.TextMessage, readyFrame); err != nil {
					return
				}

				deltaFrame, _ := json.Marshal(struct {
					Kind models.EventKind `json:"kind"`
					UUID uuid.UUID        `json:"uuid"`
				}{Kind: models.EventModify, UUID: vmID})
				_ = conn.WriteMessage(websocket.TextMessage, deltaFrame)

				time.Sleep(100 * time.Millisecond)
			}))
			defer mux.Close()

			wsURL := "ws" + mux.URL[len("http"):]
			a := localmgr.New(&fakeRunner{}, wsURL)

			readyCh := make(chan map[uuid.UUID]models.VmRecord, 1)
			eventCh := make(chan localmgr.Event, 1)

			handle, err := a.OpenEventStream(context.Background(),
				func(ev localmgr.Event) { eventCh <- ev },
				func(snapshot map[uuid.UUID]models.VmRecord) { readyCh <- snapshot },
			)
			Expect(err).NotTo(HaveOccurred())
			defer handle.Stop()

			Eventually(readyCh, time.Second).Should(Receive(HaveKey(vmID)))
			Eventually(eventCh, time.Second).Should(Receive())
		})
	})
})
