// Package redis offers distributed primitives for AgentVault replicas that
// share one Redis instance, currently the per-agent transfer lock.
package redis
