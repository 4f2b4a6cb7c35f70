package models

import "encoding/json"

// vmRecordAlias avoids infinite recursion when VmRecord implements its own
// (Un)MarshalJSON: known fields round-trip through it, Extra absorbs the rest.
type vmRecordAlias VmRecord

// MarshalJSON flattens Extra's keys alongside the known fields, so a record
// whose Extra held fields this agent doesn't model serializes exactly as
// local-mgr or Inventory would expect.
func (v VmRecord) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(vmRecordAlias(v))
	if err != nil {
		return nil, err
	}

	if len(v.Extra) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, val := range v.Extra {
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		if _, exists := merged[k]; !exists {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}

// knownVmRecordFields lists the wire names already bound to a typed field,
// so UnmarshalJSON knows what's left over for Extra.
var knownVmRecordFields = map[string]bool{
	"uuid": true, "brand": true, "state": true, "zone_state": true,
	"alias": true, "last_modified": true, "boot_timestamp": true,
	"quota": true, "metadata": true, "customer_metadata": true,
	"nics": true, "snapshots": true, "do_not_inventory": true,
}

func (v *VmRecord) UnmarshalJSON(data []byte) error {
	var alias vmRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*v = VmRecord(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, val := range raw {
		if knownVmRecordFields[k] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if v.Extra == nil {
			v.Extra = map[string]any{}
		}
		v.Extra[k] = decoded
	}
	return nil
}
