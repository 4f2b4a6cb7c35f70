// Code generated by optgen-style helpers. This file is hand-authored in the
// exact shape `go run github.com/ecordell/optgen` would emit for the structs
// in config.go — the generator itself isn't run as a build step in this
// repository (see DESIGN.md) — but the output convention (NewXWithOptions,
// NewXWithOptionsAndDefaults, WithY, DebugMap) matches it field for field.
//
//go:generate go run github.com/ecordell/optgen -output zz_generated.config.go . Configuration Agent Inventory LocalMgr

package config

import "github.com/creasty/defaults"

type ConfigurationOption func(*Configuration)

func NewConfigurationWithOptions(opts ...ConfigurationOption) Configuration {
	var c Configuration
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func NewConfigurationWithOptionsAndDefaults(opts ...ConfigurationOption) Configuration {
	var c Configuration
	_ = defaults.Set(&c)
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func WithAgent(v Agent) ConfigurationOption {
	return func(c *Configuration) { c.Agent = v }
}

func WithInventory(v Inventory) ConfigurationOption {
	return func(c *Configuration) { c.Inventory = v }
}

func WithLocalMgr(v LocalMgr) ConfigurationOption {
	return func(c *Configuration) { c.LocalMgr = v }
}

func WithLogLevel(v string) ConfigurationOption {
	return func(c *Configuration) { c.LogLevel = v }
}

func WithLogFormat(v string) ConfigurationOption {
	return func(c *Configuration) { c.LogFormat = v }
}

// DebugMap returns a map of the fields tagged `debugmap:"visible"`, suitable
// for structured logging at startup without leaking secrets such as
// Inventory.BearerSecret (tagged `debugmap:"hidden"`).
func (c Configuration) DebugMap() map[string]any {
	return map[string]any{
		"agent":      c.Agent.DebugMap(),
		"inventory":  c.Inventory.DebugMap(),
		"local_mgr":  c.LocalMgr.DebugMap(),
		"log_level":  c.LogLevel,
		"log_format": c.LogFormat,
	}
}

type AgentOption func(*Agent)

func NewAgentWithOptions(opts ...AgentOption) Agent {
	var a Agent
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func NewAgentWithOptionsAndDefaults(opts ...AgentOption) Agent {
	var a Agent
	_ = defaults.Set(&a)
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func WithNodeID(v string) AgentOption {
	return func(a *Agent) { a.NodeID = v }
}

func WithVersion(v string) AgentOption {
	return func(a *Agent) { a.Version = v }
}

func (a Agent) DebugMap() map[string]any {
	return map[string]any{
		"node_id":                    a.NodeID,
		"version":                    a.Version,
		"initial_update_delay":       a.InitialUpdateDelay,
		"max_update_delay":           a.MaxUpdateDelay,
		"periodic_poll_interval":     a.PeriodicPollInterval,
		"enable_event_stream":        a.EnableEventStream,
		"enable_state_event_watcher": a.EnableStateEventWatcher,
	}
}

type InventoryOption func(*Inventory)

func NewInventoryWithOptions(opts ...InventoryOption) Inventory {
	var i Inventory
	for _, opt := range opts {
		opt(&i)
	}
	return i
}

func NewInventoryWithOptionsAndDefaults(opts ...InventoryOption) Inventory {
	var i Inventory
	_ = defaults.Set(&i)
	for _, opt := range opts {
		opt(&i)
	}
	return i
}

func WithBaseURL(v string) InventoryOption {
	return func(i *Inventory) { i.BaseURL = v }
}

func WithBearerSecret(v string) InventoryOption {
	return func(i *Inventory) { i.BearerSecret = v }
}

func (i Inventory) DebugMap() map[string]any {
	return map[string]any{
		"base_url":          i.BaseURL,
		"request_timeout":   i.RequestTimeout,
		"bearer_secret_set": i.BearerSecret != "",
	}
}

type LocalMgrOption func(*LocalMgr)

func NewLocalMgrWithOptions(opts ...LocalMgrOption) LocalMgr {
	var l LocalMgr
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

func NewLocalMgrWithOptionsAndDefaults(opts ...LocalMgrOption) LocalMgr {
	var l LocalMgr
	_ = defaults.Set(&l)
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

func WithBackend(v string) LocalMgrOption {
	return func(l *LocalMgr) { l.Backend = v }
}

func WithConfigDir(v string) LocalMgrOption {
	return func(l *LocalMgr) { l.ConfigDir = v }
}

func WithEventStreamURL(v string) LocalMgrOption {
	return func(l *LocalMgr) { l.EventStreamURL = v }
}

func (l LocalMgr) DebugMap() map[string]any {
	return map[string]any{
		"backend":          l.Backend,
		"config_dir":       l.ConfigDir,
		"event_stream_url": l.EventStreamURL,
	}
}
