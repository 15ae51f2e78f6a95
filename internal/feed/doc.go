// Package feed keeps the notification list a user sees.
//
// Inbound notifications may arrive twice (reconnect bursts, two relays) and
// in any order. Feed turns that stream into a stable list:
//
//   - a bounded seen-set (FIFO eviction) suppresses redelivery, even of
//     entries the user already removed or cleared
//   - newest entries go to the head; the list is capped and the tail dropped
//   - every mutation is written through to a Snapshots store so a restart
//     restores the same list
//
// Persistence failures never surface to callers; they are logged and the
// in-memory list stays authoritative.
package feed
