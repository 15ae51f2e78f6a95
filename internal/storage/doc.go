// Package storage provides the small persistence layer used by the relay
// and its clients.
//
// It stores:
//   - Feed snapshots (one JSON array per key, overwritten wholesale)
//   - Relay audit entries (one record per publish)
package storage
