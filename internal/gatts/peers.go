package gatts

import (
	"github.com/sirupsen/logrus"
)

func (s *Server) onPeerConnected(e PeerConnected) {
	log := s.logger.WithFields(logrus.Fields{
		"peer":    addrKey(e.Addr),
		"conn_id": e.ConnID,
	})

	if !s.registry.add(Connection{Peer: e.Addr, ConnID: e.ConnID}) {
		log.WithField("registered", s.registry.len()).Warn("Peer not registered, registry full; it will not receive indications")
		return
	}
	log.Info("Peer connected")

	if err := s.gap.SetConnParams(e.Addr, s.opts.ConnParams); err != nil {
		log.WithError(err).Warn("Failed to request connection parameters")
	}
}

func (s *Server) onPeerDisconnected(e PeerDisconnected) {
	log := s.logger.WithFields(logrus.Fields{
		"peer":    addrKey(e.Addr),
		"conn_id": e.ConnID,
		"reason":  e.Reason,
	})

	conn, ok := s.registry.remove(e.Addr)
	if !ok {
		log.Debug("Untracked peer disconnected")
		return
	}
	s.table.dropSubscriptions(conn.ConnID)
	log.Info("Peer disconnected")

	if s.inFlight != nil && sameAddr(s.inFlight, e.Addr) {
		log.WithError(ErrPeerGone).Warn("Releasing publisher waiting on departed peer")
		s.inFlight = nil
		s.idle.Broadcast()
	}
}
