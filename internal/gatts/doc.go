// Package gatts implements the attribute server that republishes vehicle telemetry to a
// connected BLE central.
//
// The server is driven by an event-based radio stack (see GAP and GATTS):
//   - a static ServerConfiguration is materialized into a runtime attribute table as the
//     stack reports service, characteristic and descriptor creation
//   - connected peers are tracked in a bounded registry
//   - read and write requests are answered from the runtime table
//   - Indicate pushes a new value to every registered peer, one acknowledged
//     indication at a time for the whole server
//
// All mutable state lives behind a single mutex. Event handlers are invoked from the
// stack's delivery goroutine while Indicate is called from the application goroutine.
package gatts
