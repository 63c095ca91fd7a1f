// Package config loads the JSON file that wires the AgentVault daemon:
// listener, auth tokens, storage and lock drivers, event transport, chain
// definitions and the master key source.
package config
