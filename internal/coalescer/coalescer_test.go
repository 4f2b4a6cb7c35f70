package coalescer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/coalescer"
	"github.com/joyent/vm-agent/internal/models"
)

func TestCoalescer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Coalescer Suite")
}

type fakeSubscriber struct {
	mu        sync.Mutex
	created   []uuid.UUID
	modified  []uuid.UUID
	destroyed []uuid.UUID
}

func (s *fakeSubscriber) OnCreated(id uuid.UUID)  { s.mu.Lock(); defer s.mu.Unlock(); s.created = append(s.created, id) }
func (s *fakeSubscriber) OnModified(id uuid.UUID) { s.mu.Lock(); defer s.mu.Unlock(); s.modified = append(s.modified, id) }
func (s *fakeSubscriber) OnDeleted(id uuid.UUID)  { s.mu.Lock(); defer s.mu.Unlock(); s.destroyed = append(s.destroyed, id) }

func (s *fakeSubscriber) counts() (created, modified, destroyed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), len(s.modified), len(s.destroyed)
}

var _ = Describe("VmWatcher", func() {
	var (
		sub *fakeSubscriber
		c   *coalescer.VmWatcher
	)

	BeforeEach(func() {
		sub = &fakeSubscriber{}
		c = coalescer.New(zap.NewNop().Sugar(), sub)
		Expect(c.Start(context.Background())).To(Succeed())
		DeferCleanup(c.Stop)
	})

	It("runs the S3 create/modify/modify/modify/delete lifecycle", func() {
		id := uuid.New()
		c.Submit(id, models.EventCreate, map[string]any{"quota": int64(0)}, "test")
		c.Submit(id, models.EventModify, map[string]any{"quota": int64(1000)}, "test")
		c.Submit(id, models.EventModify, map[string]any{"cpu_cap": int64(800)}, "test")
		c.Submit(id, models.EventModify, map[string]any{"cpu_cap": nil}, "test")
		c.Submit(id, models.EventDelete, nil, "test")

		Eventually(func() int { created, _, _ := sub.counts(); return created }).Should(Equal(1))
		Eventually(func() int { _, _, destroyed := sub.counts(); return destroyed }).Should(Equal(1))
		Eventually(func() int { _, modified, _ := sub.counts(); return modified }).Should(BeNumerically(">=", 2))
	})

	It("emits Created only once even if create fires twice without an intervening delete", func() {
		id := uuid.New()
		c.Submit(id, models.EventCreate, map[string]any{"state": "running"}, "a")
		c.Submit(id, models.EventCreate, map[string]any{"state": "running"}, "b")

		Eventually(func() int { created, _, _ := sub.counts(); return created }).Should(Equal(1))
		Consistently(func() int { created, _, _ := sub.counts(); return created }, 100*time.Millisecond).Should(Equal(1))
	})

	It("treats a create after destroy as a fresh VM", func() {
		id := uuid.New()
		c.Submit(id, models.EventCreate, nil, "a")
		c.Submit(id, models.EventDelete, nil, "a")
		Eventually(func() int { _, _, destroyed := sub.counts(); return destroyed }).Should(Equal(1))

		c.Submit(id, models.EventCreate, nil, "a")
		Eventually(func() int { created, _, _ := sub.counts(); return created }).Should(Equal(2))
	})

	It("drops a modify whose last_modified is older than what's stored", func() {
		id := uuid.New()
		newer := time.Unix(200, 0)
		older := time.Unix(100, 0)

		c.Submit(id, models.EventCreate, map[string]any{"last_modified": newer, "quota": int64(5)}, "a")
		Eventually(func() int { created, _, _ := sub.counts(); return created }).Should(Equal(1))

		c.Submit(id, models.EventModify, map[string]any{"last_modified": older, "quota": int64(999)}, "a")

		Consistently(func() int { _, modified, _ := sub.counts(); return modified }, 100*time.Millisecond).Should(Equal(0))
	})

	It("drops a duplicate delete silently", func() {
		id := uuid.New()
		c.Submit(id, models.EventDelete, nil, "a")
		c.Submit(id, models.EventDelete, nil, "a")

		Eventually(func() int { _, _, destroyed := sub.counts(); return destroyed }).Should(Equal(1))
		Consistently(func() int { _, _, destroyed := sub.counts(); return destroyed }, 100*time.Millisecond).Should(Equal(1))
	})
})
