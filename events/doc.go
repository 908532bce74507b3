// Package events carries engine notifications to interested parties.
//
// Implementations:
//   - MemoryBus: in-process fan-out, used by the websocket stream and tests
//   - StreamsBus: Redis Streams with consumer groups, for other processes
package events
