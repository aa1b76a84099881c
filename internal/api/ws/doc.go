// Package ws streams download progress to browser clients.
//
// Each connection subscribes to the orchestrator and receives the current
// job snapshot on connect, then one "job" frame per change.
package ws
