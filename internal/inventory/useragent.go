package inventory

import (
	"fmt"
	"runtime"
)

// buildUserAgent assembles the four components spec §6 requires: agent name,
// agent version, runtime identifier, and node identifier.
func buildUserAgent(agentVersion, nodeID string) string {
	return fmt.Sprintf("vm-agent/%s (%s; node=%s)", agentVersion, runtime.Version(), nodeID)
}
