// Package agent defines the agent record that owns one custodied wallet and
// the repository abstraction used to persist it.
package agent
