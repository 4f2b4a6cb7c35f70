package models

import "time"

// KnownVm is the coalescer's per-VM dedup record (spec §3). Once DestroyedAt
// is set, only a create event may clear it; modify/delete on a destroyed
// entry are no-ops.
type KnownVm struct {
	Fields      map[string]any
	DestroyedAt *time.Time
}

// EngineState replaces the source's tri-state "ready" flag with explicit
// states and legal transitions (spec §9 design note).
type EngineState string

const (
	Initializing EngineState = "initializing"
	Ready        EngineState = "ready"
	Stopped      EngineState = "stopped"
)

// RetryState is the per-VM backoff bookkeeping of spec §3. Scheduled is true
// iff a retry timer is currently armed for this VM.
type RetryState struct {
	Delay     time.Duration
	Scheduled bool
}
