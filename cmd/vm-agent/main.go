// Command vm-agent runs the per-node VM-inventory reconciliation agent: it
// watches the local VM manager for create/modify/delete activity and keeps
// Inventory's record of this node's VMs in sync.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
