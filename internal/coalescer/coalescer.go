// Package coalescer implements spec §4.3.4: the single component that
// deduplicates raw observations arriving from every watcher into the
// Created/Modified/Deleted events the reconciliation engine actually acts
// on. It owns KnownVms exclusively, through one serialized event-loop
// goroutine (spec §5 "Shared-resource policy"), so it needs no locks.
package coalescer

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joyent/vm-agent/internal/models"
)

// VmWatcher is the concrete coalescer. The name matches spec §4.3.4's
// internal vocabulary for this component (not to be confused with
// internal/watcher.Watcher, the interface its inputs implement).
type VmWatcher struct {
	log        *zap.SugaredLogger
	subscriber models.Subscriber

	knownVms map[uuid.UUID]*models.KnownVm

	events chan models.WatcherEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *zap.SugaredLogger, subscriber models.Subscriber) *VmWatcher {
	return &VmWatcher{
		log:        log,
		subscriber: subscriber,
		knownVms:   make(map[uuid.UUID]*models.KnownVm),
		events:     make(chan models.WatcherEvent, 256),
	}
}

// SetSubscriber replaces the coalescer's subscriber. Only safe to call
// before Start: the reconciliation engine is the subscriber and is
// constructed after the coalescer (the engine's constructor takes the
// coalescer as a collaborator), so callers wire it in once, right after
// both exist and before either is started.
func (c *VmWatcher) SetSubscriber(subscriber models.Subscriber) {
	c.subscriber = subscriber
}

func (c *VmWatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(runCtx)
	return nil
}

func (c *VmWatcher) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

// Submit enqueues a raw observation. Safe to call from any watcher's own
// goroutine; the loop below is the only thing that ever touches knownVms.
func (c *VmWatcher) Submit(id uuid.UUID, kind models.EventKind, partial map[string]any, watcherName string) {
	c.events <- models.WatcherEvent{UUID: id, Kind: kind, Partial: partial, WatcherName: watcherName}
}

func (c *VmWatcher) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *VmWatcher) handle(ev models.WatcherEvent) {
	switch ev.Kind {
	case models.EventCreate:
		c.handleCreate(ev)
	case models.EventModify:
		c.handleModify(ev)
	case models.EventDelete:
		c.handleDelete(ev)
	default:
		c.log.Warnw("coalescer: unknown event kind", "uuid", ev.UUID, "kind", ev.Kind)
	}
}

// handleCreate is spec §4.3.4's "On create" rule.
func (c *VmWatcher) handleCreate(ev models.WatcherEvent) {
	entry, exists := c.knownVms[ev.UUID]
	if exists && entry.DestroyedAt != nil {
		delete(c.knownVms, ev.UUID)
		exists = false
	}
	if !exists {
		entry = &models.KnownVm{Fields: make(map[string]any)}
		c.knownVms[ev.UUID] = entry
		c.subscriber.OnCreated(ev.UUID)
	}
	mergeFields(entry, ev.Partial)
}

// handleModify is spec §4.3.4's "On modify" rule.
func (c *VmWatcher) handleModify(ev models.WatcherEvent) {
	entry, exists := c.knownVms[ev.UUID]
	if !exists {
		entry = &models.KnownVm{Fields: make(map[string]any)}
		c.knownVms[ev.UUID] = entry
	}
	if entry.DestroyedAt != nil {
		c.log.Debugw("coalescer: modify for already-destroyed vm, dropping", "uuid", ev.UUID, "watcher", ev.WatcherName)
		return
	}
	changed := mergeFields(entry, ev.Partial)
	if len(changed) > 0 {
		c.subscriber.OnModified(ev.UUID)
	}
}

// handleDelete is spec §4.3.4's "On delete" rule.
func (c *VmWatcher) handleDelete(ev models.WatcherEvent) {
	entry, exists := c.knownVms[ev.UUID]
	if exists && entry.DestroyedAt != nil {
		c.log.Debugw("coalescer: duplicate delete, dropping", "uuid", ev.UUID, "watcher", ev.WatcherName)
		return
	}
	if !exists {
		entry = &models.KnownVm{Fields: make(map[string]any)}
		c.knownVms[ev.UUID] = entry
	}
	now := time.Now()
	entry.DestroyedAt = &now
	c.subscriber.OnDeleted(ev.UUID)
}

// mergeFields applies spec §4.3.4's newer-last-modified merge rule: if both
// sides carry last_modified and the stored one is strictly newer, the whole
// partial is dropped (monotonicity). Otherwise each differing field is
// copied over and returned in changed.
func mergeFields(entry *models.KnownVm, partial map[string]any) []string {
	if partial == nil {
		return nil
	}

	storedLM, storedHasLM := entry.Fields["last_modified"]
	incomingLM, incomingHasLM := partial["last_modified"]
	if storedHasLM && incomingHasLM && timestampGreater(storedLM, incomingLM) {
		return nil
	}

	var changed []string
	for field, value := range partial {
		if existing, ok := entry.Fields[field]; ok && reflect.DeepEqual(existing, value) {
			continue
		}
		entry.Fields[field] = value
		changed = append(changed, field)
	}
	return changed
}

// timestampGreater reports whether a is strictly after b, accepting either
// time.Time or an RFC3339 string for either side (watchers may hand either
// shape through a raw partial map).
func timestampGreater(a, b any) bool {
	at, aok := asTime(a)
	bt, bok := asTime(b)
	if !aok || !bok {
		return false
	}
	return at.After(bt)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
