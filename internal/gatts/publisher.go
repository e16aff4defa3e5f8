package gatts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Indicate stores value as the current value of the characteristic, then pushes it to every
// registered peer in registry order as an acknowledged indication.
//
// At most one indication is outstanding for the whole server: before each send Indicate waits
// until the previous peer has confirmed (or disconnected). The wait has no timeout; cancel ctx
// to give up. A rejected submission is returned as a *TransportError.
func (s *Server) Indicate(ctx context.Context, uuid ble.UUID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setupErr != nil {
		return s.setupErr
	}

	ch := s.table.byUUID(uuid)
	if ch == nil {
		return &NotFoundError{Resource: "characteristic", Key: uuid.String()}
	}
	if len(value) > ch.maxLen {
		return fmt.Errorf("%w: %d bytes, characteristic %s allows %d", ErrValueTooLong, len(value), uuid, ch.maxLen)
	}
	ch.Value = bytes.Clone(value)

	targets := s.registry.snapshot()
	if len(targets) == 0 {
		return nil
	}
	if !s.hasIntf {
		return ErrNotReady
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.idle.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for _, conn := range targets {
		if err := s.awaitIdle(ctx); err != nil {
			return err
		}
		if !s.registry.contains(conn.Peer) {
			s.logger.WithField("peer", addrKey(conn.Peer)).Debug("Peer left before its indication, skipping")
			continue
		}

		if err := s.gatts.Indicate(s.intf, conn.ConnID, ch.Handle, value); err != nil {
			return &TransportError{Op: "indicate", Peer: addrKey(conn.Peer), Err: err}
		}
		s.inFlight = conn.Peer

		s.logger.WithFields(logrus.Fields{
			"characteristic": uuid.String(),
			"peer":           addrKey(conn.Peer),
			"len":            len(value),
		}).Debug("Indication sent")
	}
	return nil
}

// awaitIdle blocks until no indication is outstanding. Caller holds s.mu.
func (s *Server) awaitIdle(ctx context.Context) error {
	for s.inFlight != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.setupErr != nil {
			return s.setupErr
		}
		s.idle.Wait()
	}
	return nil
}

func (s *Server) onIndicationConfirmed(e IndicationConfirmed) {
	if s.inFlight == nil {
		s.violation("indication_confirmed", "confirmation from %s without an outstanding indication", addrKey(e.Addr))
		return
	}
	if !sameAddr(s.inFlight, e.Addr) {
		s.violation("indication_confirmed", "confirmation from %s while awaiting %s", addrKey(e.Addr), addrKey(s.inFlight))
		return
	}

	if e.Status != StatusOK {
		s.logger.WithError(ErrConfirmFailed).WithFields(logrus.Fields{
			"peer":   addrKey(e.Addr),
			"status": e.Status.String(),
		}).Warn("Indication not acknowledged")
	}

	s.inFlight = nil
	s.idle.Broadcast()
}
