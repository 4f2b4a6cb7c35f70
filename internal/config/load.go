package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joyent/vm-agent/internal/util"
)

// supportedBackends enumerates the LocalMgr.Backend values FromViper accepts.
var supportedBackends = []string{"vmadm"}

// envBackendOverride is the environment variable spec §6 calls out: "Backend
// selection MAY be overridable via an environment variable for test
// harnesses."
const envBackendOverride = "VM_AGENT_LOCALMGR_BACKEND"

// BindFlags registers the agent's flags on fs and binds them through v, so
// flag > env > default resolution falls out of Viper for free (no config
// file is read). This
// is the same division of labor the teacher's cmd layer gives to
// cobraflags/cobrautil: cobra owns the command tree, pflag owns individual
// flags, viper owns precedence and env binding.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("node-id", "", "this node's UUID (required)")
	fs.String("inventory-url", "", "Inventory base URL (required)")
	fs.String("inventory-bearer-secret", "", "secret used to sign the Inventory bearer token")
	fs.String("local-mgr-backend", "vmadm", "local-mgr backend implementation")
	fs.String("local-mgr-config-dir", "/etc/zones", "root of the VM-config directory tree to watch")
	fs.String("local-mgr-event-stream-url", "", "local-mgr live event-stream endpoint")
	fs.Duration("periodic-poll-interval", 5*time.Second, "PeriodicPoller cadence")
	fs.Bool("enable-event-stream", true, "consume local-mgr's live event stream when available")
	fs.Bool("enable-state-event-watcher", false, "consume local-mgr's state-change stream")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "console", "log format (console|json)")

	_ = v.BindPFlags(fs)
	v.SetEnvPrefix("vm_agent")
	v.AutomaticEnv()
}

// FromViper builds a Configuration from a bound Viper instance, applying
// struct defaults first so any field Viper has no opinion on still gets the
// value config.go declares.
func FromViper(v *viper.Viper) (Configuration, error) {
	cfg := NewConfigurationWithOptionsAndDefaults()

	cfg.Agent.NodeID = v.GetString("node-id")
	cfg.Agent.PeriodicPollInterval = v.GetDuration("periodic-poll-interval")
	cfg.Agent.EnableEventStream = v.GetBool("enable-event-stream")
	cfg.Agent.EnableStateEventWatcher = v.GetBool("enable-state-event-watcher")

	cfg.Inventory.BaseURL = v.GetString("inventory-url")
	cfg.Inventory.BearerSecret = v.GetString("inventory-bearer-secret")

	cfg.LocalMgr.Backend = v.GetString("local-mgr-backend")
	if override := os.Getenv(envBackendOverride); override != "" {
		cfg.LocalMgr.Backend = override
	}
	cfg.LocalMgr.ConfigDir = v.GetString("local-mgr-config-dir")
	cfg.LocalMgr.EventStreamURL = v.GetString("local-mgr-event-stream-url")

	cfg.LogLevel = v.GetString("log-level")
	cfg.LogFormat = v.GetString("log-format")

	if cfg.Agent.NodeID == "" {
		return cfg, fmt.Errorf("config: node-id is required")
	}
	if cfg.Inventory.BaseURL == "" {
		return cfg, fmt.Errorf("config: inventory-url is required")
	}
	if !util.Contains(supportedBackends, cfg.LocalMgr.Backend) {
		return cfg, fmt.Errorf("config: unsupported local-mgr-backend %q (supported: %v)", cfg.LocalMgr.Backend, supportedBackends)
	}

	return cfg, nil
}
