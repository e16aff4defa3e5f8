package gatts

import (
	"bytes"
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// onRead answers a read from the runtime table. It never blocks on the publisher.
func (s *Server) onRead(e ReadRequest) {
	var value []byte
	status := StatusOK

	if ch, ok := s.table.byHandle(e.Handle); ok {
		value = bytes.Clone(ch.Value)
	} else if ch, ok := s.table.byCCCD(e.Handle); ok {
		value = binary.LittleEndian.AppendUint16(nil, ch.subscriptions[e.ConnID])
	} else {
		s.violation("read", "handle 0x%04x was never assigned", uint16(e.Handle))
		status = StatusInvalidHandle
	}

	if status == StatusOK {
		if e.Offset < 0 || e.Offset > len(value) {
			status = StatusInvalidOffset
			value = nil
		} else {
			value = value[e.Offset:]
		}
	}

	s.respond(e.ConnID, e.TransID, status, value, "read")
}

// onWrite stores a peer write into the runtime table.
func (s *Server) onWrite(e WriteRequest) {
	status := StatusOK

	if ch, ok := s.table.byHandle(e.Handle); ok {
		status = writeValue(ch, e.Offset, e.Value)
		if status == StatusOK {
			s.logger.WithFields(logrus.Fields{
				"characteristic": ch.UUID.String(),
				"len":            len(ch.Value),
			}).Debug("Characteristic written by peer")
		}
	} else if ch, ok := s.table.byCCCD(e.Handle); ok {
		if len(e.Value) != 2 || e.Offset != 0 {
			status = StatusInvalidValueLength
		} else {
			ch.subscriptions[e.ConnID] = binary.LittleEndian.Uint16(e.Value)
			s.logger.WithFields(logrus.Fields{
				"characteristic": ch.UUID.String(),
				"conn_id":        e.ConnID,
				"config":         ch.subscriptions[e.ConnID],
			}).Info("Peer updated subscription")
		}
	} else {
		s.violation("write", "handle 0x%04x was never assigned", uint16(e.Handle))
		status = StatusInvalidHandle
	}

	if e.NeedRsp {
		s.respond(e.ConnID, e.TransID, status, nil, "write")
	}
}

func writeValue(ch *RuntimeCharacteristic, offset int, data []byte) Status {
	if !ch.perms.Write() {
		return StatusWriteNotPermitted
	}
	if offset < 0 || offset > len(ch.Value) {
		return StatusInvalidOffset
	}
	if offset+len(data) > ch.maxLen {
		return StatusInvalidValueLength
	}
	value := append(bytes.Clone(ch.Value[:offset]), data...)
	ch.Value = value
	return StatusOK
}

func (s *Server) respond(conn ConnID, trans TransID, status Status, value []byte, op string) {
	if err := s.gatts.SendResponse(s.intf, conn, trans, status, value); err != nil {
		s.logger.WithError(&TransportError{Op: op + " response", Err: err}).WithFields(logrus.Fields{
			"conn_id":  conn,
			"trans_id": trans,
		}).Error("Failed to send response")
	}
}
