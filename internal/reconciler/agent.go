// Package reconciler implements the ReconciliationEngine of spec §4.4–§4.6:
// the component that owns startup diffing, the steady-state per-VM update
// queue, and orderly shutdown. Its type is named Agent, matching the spec's
// own name for the whole running process.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joyent/vm-agent/internal/models"
	"github.com/joyent/vm-agent/internal/watcher"
	agenterrors "github.com/joyent/vm-agent/pkg/errors"
	"github.com/joyent/vm-agent/pkg/scheduler"
)

// InventoryClient is the subset of internal/inventory.Client the engine
// needs (spec §4.1).
type InventoryClient interface {
	ListForNode(ctx context.Context, nodeID string) ([]models.VmRecord, error)
	BulkUpdateForNode(ctx context.Context, nodeID string, vms map[uuid.UUID]models.VmRecord) error
	UpdateOne(ctx context.Context, vm models.VmRecord) error
}

// LocalMgr is the subset of internal/localmgr.Adapter the engine needs
// (spec §4.2).
type LocalMgr interface {
	LoadOne(ctx context.Context, id uuid.UUID) (models.VmRecord, error)
	ListAll(ctx context.Context) ([]models.VmRecord, error)
}

// Coalescer is what the engine starts/stops alongside its own lifecycle; it
// is the engine's sole source of Created/Modified/Deleted events via the
// models.Subscriber interface the engine implements below.
type Coalescer interface {
	Start(ctx context.Context) error
	Stop()
}

// Agent is the concrete ReconciliationEngine.
type Agent struct {
	log       *zap.SugaredLogger
	nodeID    string
	inventory InventoryClient
	localMgr  LocalMgr
	watchers  []watcher.Watcher
	coalescer Coalescer
	sched     *scheduler.Scheduler
	delay     *delayScheduler

	initialDelay time.Duration
	maxDelay     time.Duration

	mu           sync.Mutex
	state        models.EngineState
	dirtyVms     map[uuid.UUID]struct{}
	lastSeenVms  map[uuid.UUID]models.VmRecord
	retryState   map[uuid.UUID]*models.RetryState
	retryBackoff map[uuid.UUID]*backoff.ExponentialBackOff
	pending      map[uuid.UUID]struct{}

	started bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds an Agent. initialDelay/maxDelay are the spec §3
// INITIAL_UPDATE_DELAY/MAX_UPDATE_DELAY constants, sourced from Config.
func New(log *zap.SugaredLogger, nodeID string, inv InventoryClient, localMgr LocalMgr, watchers []watcher.Watcher, coalescer Coalescer, initialDelay, maxDelay time.Duration) *Agent {
	return &Agent{
		log:          log,
		nodeID:       nodeID,
		inventory:    inv,
		localMgr:     localMgr,
		watchers:     watchers,
		coalescer:    coalescer,
		sched:        scheduler.NewScheduler(1), // UpdateQueue invariant (b): concurrency = 1
		delay:        newDelayScheduler(),
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		state:        models.Initializing,
		dirtyVms:     make(map[uuid.UUID]struct{}),
		lastSeenVms:  make(map[uuid.UUID]models.VmRecord),
		retryState:   make(map[uuid.UUID]*models.RetryState),
		retryBackoff: make(map[uuid.UUID]*backoff.ExponentialBackOff),
		pending:      make(map[uuid.UUID]struct{}),
	}
}

// Start begins the startup reconciliation loop (spec §4.4) and returns
// immediately; steady state runs until the supplied context is cancelled or
// Stop is called. Start may not be called more than once per Agent (spec
// §4.6: "After stop(), start() may not be called again in this lifecycle").
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("reconciler: agent already started")
	}
	a.started = true
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})

	if err := a.coalescer.Start(runCtx); err != nil {
		return fmt.Errorf("reconciler: start coalescer: %w", err)
	}

	go a.run(runCtx)
	return nil
}

// Stop implements spec §4.6 and blocks until shutdown has fully completed.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.stopped != nil {
		<-a.stopped
	}
}

func (a *Agent) run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initialDelay
	b.MaxInterval = a.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	for ctx.Err() == nil {
		if err := a.attemptStartup(ctx); err != nil {
			a.log.Warnw("initial reconciliation failed, retrying with backoff", "error", err)
			if !sleepCtx(ctx, b.NextBackOff()) {
				break
			}
			continue
		}
		break
	}

	<-ctx.Done()
	a.shutdown()
}

// attemptStartup is spec §4.4 steps 1–10.
func (a *Agent) attemptStartup(ctx context.Context) error {
	a.mu.Lock()
	a.state = models.Initializing
	// events buffered before Start or during a failed attempt are kept and
	// queued once Ready (step 10).
	if a.dirtyVms == nil {
		a.dirtyVms = make(map[uuid.UUID]struct{})
	}
	a.mu.Unlock()

	// step 3
	inventoryVms, err := a.inventory.ListForNode(ctx, a.nodeID)
	if err != nil {
		return fmt.Errorf("listForNode: %w", err)
	}

	// step 4: start watchers before the local list so mutations during step
	// 5 land in dirtyVms rather than being missed.
	started := make([]watcher.Watcher, 0, len(a.watchers))
	for _, w := range a.watchers {
		if err := w.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return fmt.Errorf("start watcher: %w", err)
		}
		started = append(started, w)
	}

	// step 5
	localVms, err := a.localMgr.ListAll(ctx)
	if err != nil {
		a.stopWatchers()
		return fmt.Errorf("listAll: %w", err)
	}

	// steps 6-7
	payload := computeStartupDiff(inventoryVms, localVms)

	// step 8
	if len(payload) > 0 {
		if err := a.inventory.BulkUpdateForNode(ctx, a.nodeID, payload); err != nil {
			a.stopWatchers()
			return fmt.Errorf("bulkUpdateForNode: %w", err)
		}
	}

	seen := make(map[uuid.UUID]int, len(localVms)+len(inventoryVms))
	for _, vm := range localVms {
		seen[vm.UUID] |= 1
	}
	for _, vm := range inventoryVms {
		seen[vm.UUID] |= 2
	}
	var created, updated, destroyed int
	for id := range payload {
		switch seen[id] {
		case 1:
			created++
		case 2:
			destroyed++
		default:
			updated++
		}
	}
	a.log.Infow("initial reconciliation complete", "created", created, "updated", updated, "destroyed", destroyed, "unchanged", len(localVms)-created-updated)

	// step 9
	a.mu.Lock()
	lastSeen := make(map[uuid.UUID]models.VmRecord, len(localVms))
	for _, vm := range localVms {
		lastSeen[vm.UUID] = vm
	}
	a.lastSeenVms = lastSeen

	// step 10
	a.state = models.Ready
	dirty := a.dirtyVms
	a.dirtyVms = nil
	a.mu.Unlock()

	for id := range dirty {
		a.queueVm(id)
	}
	return nil
}

func (a *Agent) stopWatchers() {
	for _, w := range a.watchers {
		w.Stop()
	}
}

// OnCreated, OnModified and OnDeleted implement models.Subscriber: the
// coalescer calls these directly off its own event loop.
func (a *Agent) OnCreated(id uuid.UUID)  { a.ingress(id) }
func (a *Agent) OnModified(id uuid.UUID) { a.ingress(id) }
func (a *Agent) OnDeleted(id uuid.UUID)  { a.ingress(id) }

// ingress implements spec §4.4 step 2 / §4.5 "queueVm": buffer while
// Initializing, enqueue while Ready, drop once Stopped.
func (a *Agent) ingress(id uuid.UUID) {
	a.mu.Lock()
	state := a.state
	if state == models.Initializing && a.dirtyVms != nil {
		a.dirtyVms[id] = struct{}{}
	}
	a.mu.Unlock()

	if state == models.Ready {
		a.queueVm(id)
	}
}

// queueVm implements spec §4.5: append to the pending set iff not already
// pending (invariant: each uuid appears at most once in the pending
// portion of UpdateQueue).
func (a *Agent) queueVm(id uuid.UUID) {
	a.mu.Lock()
	if _, alreadyPending := a.pending[id]; alreadyPending {
		a.mu.Unlock()
		return
	}
	a.pending[id] = struct{}{}
	a.mu.Unlock()

	a.sched.AddWork(func(ctx context.Context) error {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return a.processOne(ctx, id)
	})
}

// processOne is the serial worker's per-VM step of spec §4.5.
func (a *Agent) processOne(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	ready := a.state == models.Ready
	a.mu.Unlock()
	if !ready {
		return nil
	}

	payload, err := a.loadPayload(ctx, id)
	if err != nil {
		a.scheduleRetry(id)
		return err
	}

	if err := a.inventory.UpdateOne(ctx, payload); err != nil {
		a.scheduleRetry(id)
		return err
	}

	a.clearRetry(id)
	return nil
}

// loadPayload is spec §4.5 step 2.
func (a *Agent) loadPayload(ctx context.Context, id uuid.UUID) (models.VmRecord, error) {
	vm, err := a.localMgr.LoadOne(ctx, id)
	if err == nil {
		a.mu.Lock()
		a.lastSeenVms[id] = vm
		a.mu.Unlock()
		return vm, nil
	}

	if !agenterrors.IsNotFound(err) {
		return models.VmRecord{}, err
	}

	a.mu.Lock()
	stored, ok := a.lastSeenVms[id]
	a.mu.Unlock()
	if !ok {
		// spec §9 Open Question 1, decided in DESIGN.md: surface loudly but
		// do not crash the process; this attempt fails and processOne
		// schedules a retry like any other failure.
		a.log.Errorw("processOne: NotFound with no prior lastSeenVms entry", "uuid", id)
		return models.VmRecord{}, fmt.Errorf("reconciler: programming invariant violated for %s: NotFound with no lastSeenVms entry", id)
	}
	return stored.AsDestroyed(), nil
}

// scheduleRetry is spec §4.5's "scheduleRetry".
func (a *Agent) scheduleRetry(id uuid.UUID) {
	a.mu.Lock()
	rs, exists := a.retryState[id]
	if exists && rs.Scheduled {
		a.mu.Unlock()
		return
	}
	if !exists {
		rs = &models.RetryState{Delay: a.initialDelay}
		a.retryState[id] = rs
	}

	bo, ok := a.retryBackoff[id]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = a.initialDelay
		bo.MaxInterval = a.maxDelay
		// Deterministic doubling, no jitter: spec §8 invariant 4 requires the
		// per-VM retry delay to be monotonically non-decreasing, which
		// cenkalti's default RandomizationFactor (0.5) can violate on its own.
		bo.Multiplier = 2
		bo.RandomizationFactor = 0
		a.retryBackoff[id] = bo
	}
	d := bo.NextBackOff()
	if d > a.maxDelay {
		d = a.maxDelay
	}
	rs.Delay = d
	rs.Scheduled = true
	a.mu.Unlock()

	a.delay.Schedule(id, d, func() {
		a.mu.Lock()
		if rs, ok := a.retryState[id]; ok {
			rs.Scheduled = false
		}
		a.mu.Unlock()
		a.queueVm(id)
	})
}

// clearRetry cancels any pending timer and resets backoff for id, per
// "a successful update resets the backoff for that VM".
func (a *Agent) clearRetry(id uuid.UUID) {
	a.delay.Cancel(id)
	a.mu.Lock()
	delete(a.retryState, id)
	delete(a.retryBackoff, id)
	a.mu.Unlock()
}

// shutdown is spec §4.6.
func (a *Agent) shutdown() {
	a.mu.Lock()
	a.state = models.Stopped
	a.mu.Unlock()

	a.stopWatchers()
	a.coalescer.Stop()
	a.delay.CancelAll()
	a.sched.Close()

	a.mu.Lock()
	a.lastSeenVms = make(map[uuid.UUID]models.VmRecord)
	a.dirtyVms = make(map[uuid.UUID]struct{})
	a.retryState = make(map[uuid.UUID]*models.RetryState)
	a.retryBackoff = make(map[uuid.UUID]*backoff.ExponentialBackOff)
	a.mu.Unlock()

	close(a.stopped)
}

// sleepCtx waits for d or ctx cancellation, returning false if ctx won the
// race (mirrors internal/watcher's identically-purposed helper).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
