// Package sim is an in-process radio stack implementing gatts.GAP and gatts.GATTS.
//
// Calls are validated synchronously and answered asynchronously: each accepted call queues the
// completion event a controller would raise, and a single dispatcher goroutine delivers queued
// events to the subscribers in order. Peers are simulated with Connect, and their reads, writes
// and indication confirmations travel through the same queue.
package sim
