package scheduler_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/joyent/vm-agent/pkg/scheduler"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

var _ = Describe("Scheduler", func() {
	var s *scheduler.Scheduler

	AfterEach(func() {
		if s != nil {
			s.Close()
		}
	})

	Describe("AddWork", func() {
		It("should run a submitted task", func() {
			s = scheduler.NewScheduler(1)

			ran := make(chan struct{})
			s.AddWork(func(ctx context.Context) error {
				close(ran)
				return nil
			})

			Eventually(ran, 2*time.Second).Should(BeClosed())
		})

		It("should recover a panicking task without killing the worker", func() {
			s = scheduler.NewScheduler(1)

			s.AddWork(func(ctx context.Context) error {
				panic("boom")
			})

			ran := make(chan struct{})
			s.AddWork(func(ctx context.Context) error {
				close(ran)
				return nil
			})

			Eventually(ran, 2*time.Second).Should(BeClosed())
		})
	})

	Describe("Run work", func() {
		It("should execute multiple work items", func() {
			s = scheduler.NewScheduler(2)

			results := make(chan int, 3)
			for i := range 3 {
				idx := i
				s.AddWork(func(ctx context.Context) error {
					results <- idx
					return nil
				})
			}

			Eventually(func() int {
				return len(results)
			}, 2*time.Second, 100*time.Millisecond).Should(Equal(3))
		})

		It("serializes tasks with a single worker", func() {
			s = scheduler.NewScheduler(1)

			var order []int
			done := make(chan struct{})
			for i := range 3 {
				idx := i
				s.AddWork(func(ctx context.Context) error {
					order = append(order, idx)
					if idx == 2 {
						close(done)
					}
					return nil
				})
			}

			Eventually(done, 2*time.Second).Should(BeClosed())
			Expect(order).To(Equal([]int{0, 1, 2}))
		})
	})

	Describe("Close behavior", func() {
		It("cancels in-flight tasks' context on Close", func() {
			s = scheduler.NewScheduler(1)

			cancelled := make(chan bool, 1)
			s.AddWork(func(ctx context.Context) error {
				<-ctx.Done()
				cancelled <- true
				return ctx.Err()
			})

			time.Sleep(100 * time.Millisecond)
			closeDone := make(chan struct{})
			go func() {
				s.Close()
				close(closeDone)
			}()

			Eventually(cancelled, 2*time.Second).Should(Receive(BeTrue()))
			Eventually(closeDone, 2*time.Second).Should(BeClosed())
			s = nil // prevent AfterEach from closing again
		})

		It("should drop work submitted after Close", func() {
			s = scheduler.NewScheduler(1)
			s.Close()

			ran := make(chan struct{})
			s.AddWork(func(ctx context.Context) error {
				close(ran)
				return nil
			})

			Consistently(ran, 200*time.Millisecond).ShouldNot(BeClosed())
		})

		It("should wait for in-flight work to finish on Close", func() {
			s = scheduler.NewScheduler(1)

			started := make(chan struct{})
			unblock := make(chan struct{})
			s.AddWork(func(ctx context.Context) error {
				close(started)
				<-unblock
				return nil
			})

			Eventually(started, 1*time.Second).Should(BeClosed())

			closeDone := make(chan struct{})
			go func() {
				s.Close()
				close(closeDone)
			}()

			Consistently(closeDone, 200*time.Millisecond).ShouldNot(BeClosed())
			close(unblock)
			Eventually(closeDone, 1*time.Second).Should(BeClosed())
			s = nil // prevent AfterEach from closing again
		})
	})

	Describe("Goroutine cleanup", func() {
		It("should not leak goroutines after Close under load", func() {
			base := runtime.NumGoroutine()
			s = scheduler.NewScheduler(4)

			for i := 0; i < 200; i++ {
				s.AddWork(func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				})
			}

			time.Sleep(100 * time.Millisecond)
			s.Close()
			s = nil // prevent AfterEach from closing again

			Eventually(func() int {
				return runtime.NumGoroutine()
			}, 5*time.Second, 100*time.Millisecond).Should(BeNumerically("<=", base+10))
		})
	})
})
