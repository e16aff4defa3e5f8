package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
)

// ErrNothingToConfirm is returned by Peer.Confirm when no indication awaits a confirmation.
var ErrNothingToConfirm = errors.New("no unconfirmed indication")

// reasonRemoteTerminated is the disconnect reason reported for Peer.Disconnect.
const reasonRemoteTerminated uint8 = 0x13

const inboxSize = 256

// Indication is a value pushed to a peer
type Indication struct {
	Interface gatts.Interface
	Handle    gatts.Handle
	Value     []byte
	At        time.Time
}

// Peer is a simulated central connected to the stack.
type Peer struct {
	stack *Stack
	addr  ble.Addr
	conn  gatts.ConnID
	intf  gatts.Interface
	inbox chan Indication

	mu          sync.Mutex
	connected   bool
	params      gatts.ConnParams
	received    []Indication
	unconfirmed []Indication
}

// RandomAddr returns a random static device address.
func RandomAddr() string {
	u := uuid.New()
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", u[0]|0xc0, u[1], u[2], u[3], u[4], u[5])
}

// Connect simulates a central connecting from addr; an empty addr gets a random one.
// The connection event is raised on the first registered interface.
func (s *Stack) Connect(addr string) (*Peer, error) {
	if addr == "" {
		addr = RandomAddr()
	}
	if s.peerByAddr(ble.NewAddr(addr)) != nil {
		return nil, fmt.Errorf("peer %s already connected", addr)
	}

	s.mu.Lock()
	intf, ok := s.firstInterface()
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("no application registered")
	}
	conn := s.nextConn
	s.nextConn++
	s.mu.Unlock()

	p := &Peer{
		stack:     s,
		addr:      ble.NewAddr(addr),
		conn:      conn,
		intf:      intf,
		inbox:     make(chan Indication, inboxSize),
		connected: true,
	}
	s.peers.Set(conn, p)

	s.logger.WithFields(logrus.Fields{
		"peer":    addr,
		"conn_id": conn,
	}).Debug("Simulated peer connected")
	s.emitGatts(intf, gatts.PeerConnected{ConnID: conn, Addr: p.addr})
	return p, nil
}

// firstInterface returns the lowest registered interface. Caller holds s.mu.
func (s *Stack) firstInterface() (gatts.Interface, bool) {
	found := false
	var lowest gatts.Interface
	for _, intf := range s.apps {
		if !found || intf < lowest {
			lowest, found = intf, true
		}
	}
	return lowest, found
}

func (s *Stack) peerByAddr(addr ble.Addr) *Peer {
	var found *Peer
	s.peers.Range(func(_ gatts.ConnID, p *Peer) bool {
		if strings.EqualFold(p.addr.String(), addr.String()) {
			found = p
			return false
		}
		return true
	})
	return found
}

// Peers returns the connected peers.
func (s *Stack) Peers() []*Peer {
	var out []*Peer
	s.peers.Range(func(_ gatts.ConnID, p *Peer) bool {
		out = append(out, p)
		return true
	})
	return out
}

func (p *Peer) Addr() ble.Addr {
	return p.addr
}

func (p *Peer) ConnID() gatts.ConnID {
	return p.conn
}

func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Params returns the connection parameters last requested by the server.
func (p *Peer) Params() gatts.ConnParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

func (p *Peer) setParams(params gatts.ConnParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
}

// Disconnect drops the link. Unconfirmed indications are never confirmed.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	p.unconfirmed = nil
	p.mu.Unlock()

	p.stack.peers.Del(p.conn)
	p.stack.emitGatts(p.intf, gatts.PeerDisconnected{ConnID: p.conn, Addr: p.addr, Reason: reasonRemoteTerminated})
}

// Read issues a read request and waits for the server's response.
func (p *Peer) Read(ctx context.Context, h gatts.Handle, offset int) ([]byte, gatts.Status, error) {
	rsp, err := p.request(ctx, func(trans gatts.TransID) gatts.GattsEvent {
		return gatts.ReadRequest{ConnID: p.conn, TransID: trans, Addr: p.addr, Handle: h, Offset: offset}
	})
	if err != nil {
		return nil, 0, err
	}
	return rsp.value, rsp.status, nil
}

// Write issues a write request and waits for the server's response.
func (p *Peer) Write(ctx context.Context, h gatts.Handle, value []byte) (gatts.Status, error) {
	rsp, err := p.request(ctx, func(trans gatts.TransID) gatts.GattsEvent {
		return gatts.WriteRequest{ConnID: p.conn, TransID: trans, Addr: p.addr, Handle: h, NeedRsp: true, Value: bytes.Clone(value)}
	})
	if err != nil {
		return 0, err
	}
	return rsp.status, nil
}

// WriteCommand issues a write that expects no response.
func (p *Peer) WriteCommand(h gatts.Handle, value []byte) error {
	if !p.Connected() {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, p.conn)
	}
	trans := p.stack.transaction()
	p.stack.emitGatts(p.intf, gatts.WriteRequest{ConnID: p.conn, TransID: trans, Addr: p.addr, Handle: h, Value: bytes.Clone(value)})
	return nil
}

// EnableIndications writes the indication bit to a configuration descriptor.
func (p *Peer) EnableIndications(ctx context.Context, cccd gatts.Handle) (gatts.Status, error) {
	return p.Write(ctx, cccd, []byte{0x02, 0x00})
}

func (p *Peer) request(ctx context.Context, build func(gatts.TransID) gatts.GattsEvent) (response, error) {
	if !p.Connected() {
		return response{}, fmt.Errorf("%w: %d", ErrUnknownPeer, p.conn)
	}

	s := p.stack
	trans := s.transaction()
	ch := make(chan response, 1)
	s.mu.Lock()
	s.pending[trans] = ch
	s.mu.Unlock()

	s.emitGatts(p.intf, build(trans))

	select {
	case rsp := <-ch:
		return rsp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, trans)
		s.mu.Unlock()
		return response{}, ctx.Err()
	}
}

func (s *Stack) transaction() gatts.TransID {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.nextTrans
	s.nextTrans++
	return t
}

func (p *Peer) receive(intf gatts.Interface, h gatts.Handle, value []byte) {
	ind := Indication{Interface: intf, Handle: h, Value: bytes.Clone(value), At: time.Now()}

	p.mu.Lock()
	p.received = append(p.received, ind)
	p.unconfirmed = append(p.unconfirmed, ind)
	p.mu.Unlock()

	select {
	case p.inbox <- ind:
	default:
		p.stack.logger.WithField("peer", p.addr.String()).Warn("Simulated peer inbox full, indication not queued")
	}
}

// Confirm acknowledges the oldest unconfirmed indication with status.
func (p *Peer) Confirm(status gatts.Status) error {
	p.mu.Lock()
	if len(p.unconfirmed) == 0 {
		p.mu.Unlock()
		return ErrNothingToConfirm
	}
	ind := p.unconfirmed[0]
	p.unconfirmed = p.unconfirmed[1:]
	p.mu.Unlock()

	p.stack.emitGatts(ind.Interface, gatts.IndicationConfirmed{Status: status, ConnID: p.conn, Addr: p.addr, Handle: ind.Handle})
	return nil
}

// Received returns every indication delivered to the peer.
func (p *Peer) Received() []Indication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Indication(nil), p.received...)
}

// Next waits for the next indication.
func (p *Peer) Next(ctx context.Context) (Indication, error) {
	select {
	case ind := <-p.inbox:
		return ind, nil
	case <-ctx.Done():
		return Indication{}, ctx.Err()
	}
}
