package config

import "time"

// Configuration is the root configuration object for the VM agent. It is
// deliberately small: per spec §1/§6 the agent has no API surface of its
// own, so there is no Server section (contrast with the teacher's
// Configuration, which nests one for its HTTP API).
type Configuration struct {
	Agent     Agent     `debugmap:"visible"`
	Inventory Inventory `debugmap:"visible"`
	LocalMgr  LocalMgr  `debugmap:"visible"`
	LogLevel  string    `default:"info" debugmap:"visible"`
	LogFormat string    `default:"console" debugmap:"visible"`
}

// Agent carries identity and the tunables spec §4.4/§4.5/§8 name by name
// (INITIAL_UPDATE_DELAY, MAX_UPDATE_DELAY).
type Agent struct {
	// NodeID is this node's UUID, used as InventoryClient's server_uuid and
	// embedded in the User-Agent header.
	NodeID string `debugmap:"visible"`
	// Version is reported in the User-Agent header.
	Version string `default:"v0.0.0" debugmap:"visible"`

	InitialUpdateDelay time.Duration `default:"1s" debugmap:"visible"`
	MaxUpdateDelay     time.Duration `default:"60s" debugmap:"visible"`

	PeriodicPollInterval time.Duration `default:"5s" debugmap:"visible"`

	// EnableEventStream turns on EventStreamWatcher; when local-mgr doesn't
	// support a live stream, leave this false and rely on the other two
	// watchers (spec §2, EventStreamWatcher is "when supported").
	EnableEventStream bool `default:"true" debugmap:"visible"`
	// EnableStateEventWatcher turns on the optional StateEventWatcher.
	EnableStateEventWatcher bool `default:"false" debugmap:"visible"`
}

// Inventory configures the InventoryClient collaborator.
type Inventory struct {
	BaseURL string `debugmap:"visible"`
	// BearerSecret, if set, signs a short-lived JWT embedding the node
	// identity that InventoryClient attaches as a Bearer token. Inventory's
	// wire protocol (spec §6) doesn't mandate auth; this is this repo's
	// concrete choice for the ambient auth concern the distilled spec left
	// silent on.
	BearerSecret   string        `debugmap:"hidden"`
	RequestTimeout time.Duration `default:"30s" debugmap:"visible"`
}

// LocalMgr configures the LocalMgr adapter and, indirectly, the watchers
// that read the same VM-config directory tree / event stream.
type LocalMgr struct {
	// Backend selects the local-mgr backend implementation. Overridable via
	// the VM_AGENT_LOCALMGR_BACKEND environment variable for test harnesses,
	// per spec §6.
	Backend string `default:"vmadm" debugmap:"visible"`
	// ConfigDir is the root of the VM-config directory tree FilesystemWatcher
	// monitors (spec §4.3.1).
	ConfigDir string `default:"/etc/zones" debugmap:"visible"`
	// EventStreamURL is the local-mgr event-stream endpoint EventStreamWatcher
	// and StateEventWatcher dial (spec §4.2 openEventStream).
	EventStreamURL string `debugmap:"visible"`
}
