package inventory

// AlwaysSetDefaults is the reference table from spec §6: Inventory is known
// to materialize these attributes with the stated default value when they
// are absent in storage. During startup diffing, a field from this table
// that is absent locally but present on the Inventory side with exactly the
// stated default is treated as equal (spec §8 invariant 6, scenario S1/S2).
var AlwaysSetDefaults = map[string]any{
	"alias":               nil,
	"billing_id":          nil,
	"cpu_cap":             nil,
	"cpu_shares":          nil,
	"create_timestamp":    nil,
	"datasets":            []any{},
	"destroyed":           nil,
	"image_uuid":          nil,
	"last_modified":       nil,
	"limit_priv":          nil,
	"max_locked_memory":   nil,
	"max_lwps":            nil,
	"max_physical_memory": nil,
	"max_swap":            nil,
	"owner_uuid":          nil,
	"quota":               nil,
	"ram":                 nil,
	"zfs_filesystem":      nil,
	"zfs_io_priority":     nil,
	"zpool":               nil,
}

// IsDefaultEquivalentToAbsent reports whether field is absent from local and
// the value Inventory returned for it is exactly AlwaysSetDefaults' entry,
// meaning the two sides should be treated as agreeing on that field.
func IsDefaultEquivalentToAbsent(field string, inventoryValue any, localHasField bool) bool {
	if localHasField {
		return false
	}
	def, tracked := AlwaysSetDefaults[field]
	if !tracked {
		return false
	}
	return deepEqual(def, inventoryValue)
}

func deepEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	aSlice, aIsSlice := a.([]any)
	bSlice, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		return len(aSlice) == 0 && len(bSlice) == 0
	}
	return a == b
}
