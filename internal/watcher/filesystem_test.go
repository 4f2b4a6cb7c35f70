package watcher_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/models"
	"github.com/joyent/vm-agent/internal/watcher"
)

func writeDescriptor(root string, id uuid.UUID, vm models.VmRecord) {
	dir := filepath.Join(root, id.String())
	Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
	data, err := json.Marshal(vm)
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(filepath.Join(dir, "config-descriptor"), data, 0o644)).To(Succeed())
}

var _ = Describe("FilesystemWatcher", func() {
	It("emits create then modify as descriptors appear and change", func() {
		root, err := os.MkdirTemp("", "vm-agent-fs-watcher")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(root)

		rec := &eventRecorder{}
		cfg := watcher.Config{Log: zap.NewNop().Sugar(), UpdateVM: rec.record}
		w := watcher.NewFilesystemWatcher(cfg, root)

		Expect(w.Start(context.Background())).To(Succeed())
		defer w.Stop()

		id := uuid.New()
		writeDescriptor(root, id, models.VmRecord{UUID: id, State: "running", Quota: 5})

		Eventually(func() []recordedEvent { return rec.snapshot() }, 2*time.Second, 50*time.Millisecond).Should(
			ContainElement(HaveField("kind", models.EventCreate)))

		time.Sleep(20 * time.Millisecond) // ensure a distinguishable mtime
		writeDescriptor(root, id, models.VmRecord{UUID: id, State: "running", Quota: 50})

		Eventually(func() []recordedEvent { return rec.snapshot() }, 2*time.Second, 50*time.Millisecond).Should(
			ContainElement(HaveField("kind", models.EventModify)))
	})

	It("emits delete once a VM's directory disappears", func() {
		root, err := os.MkdirTemp("", "vm-agent-fs-watcher")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(root)

		rec := &eventRecorder{}
		cfg := watcher.Config{Log: zap.NewNop().Sugar(), UpdateVM: rec.record}
		w := watcher.NewFilesystemWatcher(cfg, root)

		Expect(w.Start(context.Background())).To(Succeed())
		defer w.Stop()

		// the watcher's first-ever pass never emits "create" for what it
		// finds (spec: only once lastSeen has been populated at least
		// once), so write the descriptor after Start to get a real create.
		id := uuid.New()
		writeDescriptor(root, id, models.VmRecord{UUID: id})

		Eventually(func() []recordedEvent { return rec.snapshot() }, 2*time.Second, 50*time.Millisecond).Should(
			ContainElement(HaveField("kind", models.EventCreate)))

		Expect(os.RemoveAll(filepath.Join(root, id.String()))).To(Succeed())

		Eventually(func() []recordedEvent { return rec.snapshot() }, 2*time.Second, 50*time.Millisecond).Should(
			ContainElement(HaveField("kind", models.EventDelete)))
	})
})
