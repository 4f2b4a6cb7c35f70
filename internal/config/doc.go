// Package config defines the configuration structure for the VM agent.
//
// Configuration is organized into logical sections (Agent, Inventory,
// LocalMgr) and uses code generation via optgen to create functional option
// helpers, in the same shape the wider codebase uses for its own
// configuration.
//
// # Configuration Structure
//
//	Configuration
//	├── Agent      - identity, backoff tunables, watcher toggles
//	├── Inventory  - remote Inventory service connection
//	├── LocalMgr   - local-mgr backend + VM-config directory root
//	├── LogLevel
//	└── LogFormat
//
// There is deliberately no Server section: per spec §1 this agent does not
// provide an API surface.
//
// # Precedence
//
// Flags > environment (VM_AGENT_* via Viper, plus the one literal
// VM_AGENT_LOCALMGR_BACKEND override spec §6 calls out by name for test
// harnesses) > struct defaults (github.com/creasty/defaults tags on
// config.go).
//
// # Usage
//
//	fs := pflag.NewFlagSet("vm-agent", pflag.ExitOnError)
//	v := viper.New()
//	config.BindFlags(fs, v)
//	fs.Parse(os.Args[1:])
//	cfg, err := config.FromViper(v)
package config
