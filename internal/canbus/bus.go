// Package canbus carries classic CAN frames between the OBD-II driver and a vehicle bus.
//
// Two transports are provided: an in-process Loopback pair used by the ECU simulator and
// tests, and a raw SocketCAN socket on Linux.
package canbus

import (
	"context"
	"errors"
)

var (
	ErrClosed     = errors.New("bus closed")
	ErrBufferFull = errors.New("bus buffer full")

	ErrUnsupported = errors.New("SocketCAN is only available on linux")
)

// Bus is a bidirectional CAN endpoint.
type Bus interface {
	// Send transmits a frame. It blocks only while the transport cannot accept the frame.
	Send(ctx context.Context, f Frame) error
	// Receive returns the next frame that passes the endpoint filters.
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Filter accepts frames whose identifier matches ID on every bit set in Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// ResponseFilter accepts the diagnostic response range 0x7E0-0x7EF.
var ResponseFilter = Filter{ID: 0x7E0, Mask: 0xFF0}

func (f Filter) Match(id uint32) bool {
	return id&f.Mask == f.ID&f.Mask
}

// Accept reports whether id passes any of filters. An empty list accepts everything.
func Accept(filters []Filter, id uint32) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Match(id) {
			return true
		}
	}
	return false
}
