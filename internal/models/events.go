package models

import "github.com/google/uuid"

// EventKind is the raw observation kind a watcher reports, per spec §3.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventModify EventKind = "modify"
	EventDelete EventKind = "delete"
)

// WatcherEvent is the raw, pre-coalescing observation a Watcher hands to the
// coalescer: {uuid, kind, partialFields, watcherName} (spec §4.3.4).
type WatcherEvent struct {
	UUID        uuid.UUID
	Kind        EventKind
	Partial     map[string]any
	WatcherName string
}

// Subscriber receives the coalescer's deduplicated events. Implementing it as
// a fixed method set (rather than a generic EventEmitter) is the spec §9
// design note's replacement for the source's subscription model.
type Subscriber interface {
	OnCreated(uuid.UUID)
	OnModified(uuid.UUID)
	OnDeleted(uuid.UUID)
}
