// Package models holds the data types shared across the VM agent: the
// on-wire VM record and the small pieces of state the coalescer and
// reconciler keep per VM.
package models

import (
	"time"

	"github.com/google/uuid"
)

// VmRecord is the full attribute map describing one VM at a point in time.
// Known fields are typed; anything local-mgr or Inventory sends that this
// agent doesn't recognize is preserved in Extra so the agent never drops
// data it doesn't understand (spec §9, "dynamic VmRecord shape").
type VmRecord struct {
	UUID             uuid.UUID         `json:"uuid"`
	Brand            string            `json:"brand,omitempty"`
	State            string            `json:"state,omitempty"`
	ZoneState        string            `json:"zone_state,omitempty"`
	Alias            string            `json:"alias,omitempty"`
	LastModified     time.Time         `json:"last_modified,omitempty"`
	BootTimestamp    time.Time         `json:"boot_timestamp,omitempty"`
	Quota            int64             `json:"quota,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CustomerMetadata map[string]string `json:"customer_metadata,omitempty"`
	Nics             []Nic             `json:"nics,omitempty"`
	Snapshots        []Snapshot        `json:"snapshots,omitempty"`
	Hidden           bool              `json:"do_not_inventory,omitempty"`

	// Extra carries every field this agent doesn't model explicitly, keyed
	// by its wire name, so round-tripping a record never loses data.
	Extra map[string]any `json:"-"`
}

type Nic struct {
	Interface string `json:"interface"`
	IP        string `json:"ip,omitempty"`
	MAC       string `json:"mac,omitempty"`
}

type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AsDestroyed returns a copy of v with State and ZoneState overwritten to
// "destroyed", per spec §3's destruction-record injection rule.
func (v VmRecord) AsDestroyed() VmRecord {
	out := v
	out.State = "destroyed"
	out.ZoneState = "destroyed"
	return out
}

// PeriodicFields is the watcher.PERIODIC_FIELDS set from spec §4.3.2: the
// subset of fields the PeriodicPoller diffs pairwise against its previous
// snapshot.
var PeriodicFields = []string{
	"brand", "datasets", "disks", "indestructible_zoneroot",
	"indestructible_delegated", "last_modified", "pid", "quota",
	"snapshots", "state", "uuid", "zfs_data_compression",
	"zfs_data_recsize", "zone_state", "zoneid",
}
