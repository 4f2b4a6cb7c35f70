package reconciler

import (
	"encoding/json"
	"reflect"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/inventory"
	"github.com/joyent/vm-agent/internal/models"
)

// computeStartupDiff implements spec §4.4 steps 6–7: build each side's
// wire-shape map (via VmRecord's JSON encoding, which folds Extra in
// alongside the known fields) so every field — not just the ones this
// agent models explicitly — participates in the comparison, apply the
// AlwaysSetDefaults equivalence, and return the bulk payload for every uuid
// that diverges.
func computeStartupDiff(inventoryVms, localVms []models.VmRecord) map[uuid.UUID]models.VmRecord {
	localByID := make(map[uuid.UUID]models.VmRecord, len(localVms))
	for _, vm := range localVms {
		localByID[vm.UUID] = vm
	}
	invByID := make(map[uuid.UUID]models.VmRecord, len(inventoryVms))
	for _, vm := range inventoryVms {
		invByID[vm.UUID] = vm
	}

	payload := make(map[uuid.UUID]models.VmRecord)

	for id, local := range localByID {
		inv, existsInInventory := invByID[id]
		if !existsInInventory || recordsDiffer(wireMap(local), wireMap(inv)) {
			payload[id] = local
		}
	}
	for id, inv := range invByID {
		if _, existsLocally := localByID[id]; !existsLocally {
			payload[id] = inv.AsDestroyed()
		}
	}
	return payload
}

// recordsDiffer compares two wire-shape maps field by field, treating an
// Inventory-only field as equal to absent when it matches
// inventory.AlwaysSetDefaults (spec §6, §8 invariant 6).
func recordsDiffer(local, inv map[string]any) bool {
	keys := make(map[string]struct{}, len(local)+len(inv))
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range inv {
		keys[k] = struct{}{}
	}

	for field := range keys {
		lv, localHas := local[field]
		iv, invHas := inv[field]
		switch {
		case localHas && invHas:
			if !reflect.DeepEqual(lv, iv) {
				return true
			}
		case !localHas && invHas:
			if !inventory.IsDefaultEquivalentToAbsent(field, iv, false) {
				return true
			}
		case localHas && !invHas:
			return true
		}
	}
	return false
}

// wireMap round-trips a VmRecord through its JSON encoding so both sides of
// the comparison share one representation (RFC3339 timestamps, numbers as
// json.Number-free float64, Extra folded in alongside known fields).
func wireMap(vm models.VmRecord) map[string]any {
	data, err := json.Marshal(vm)
	if err != nil {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}
