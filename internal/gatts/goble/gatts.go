package goble

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/groutine"
)

// GATTS is the attribute-server view of the adapter
type GATTS struct {
	*Stack
}

// Attributes returns the GATTS view of the adapter.
func (s *Stack) Attributes() GATTS {
	return GATTS{s}
}

func (g GATTS) Subscribe(handler func(gatts.Interface, gatts.GattsEvent)) error {
	return g.events.SubscribeGatts(handler)
}

// RegisterApp accepts a single application.
func (g GATTS) RegisterApp(id gatts.AppID) error {
	g.mu.Lock()
	if g.app != nil {
		g.mu.Unlock()
		return fmt.Errorf("application %d already registered", *g.app)
	}
	g.app = &id
	g.mu.Unlock()

	g.events.EmitGatts(adapterIntf, gatts.ServiceRegistered{Status: gatts.StatusOK, AppID: id})
	return nil
}

func (g GATTS) CreateService(intf gatts.Interface, id gatts.ServiceID, numHandles uint16) error {
	if numHandles == 0 {
		return fmt.Errorf("service %s needs at least one handle", id.UUID)
	}

	g.mu.Lock()
	h := g.nextHandle
	g.nextHandle += gatts.Handle(numHandles)
	g.services[h] = &stagedService{
		id:   id,
		svc:  ble.NewService(id.UUID),
		next: h + 1,
		end:  h + gatts.Handle(numHandles),
	}
	g.mu.Unlock()

	g.events.EmitGatts(intf, gatts.ServiceCreated{Status: gatts.StatusOK, ServiceHandle: h, ServiceID: id})
	return nil
}

// StartService marks the staged service as started. It reaches the device once its last
// characteristic and descriptor are staged.
func (g GATTS) StartService(h gatts.Handle) error {
	g.mu.Lock()
	staged, ok := g.services[h]
	if ok {
		staged.started = true
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown service handle 0x%04x", uint16(h))
	}

	status := gatts.StatusOK
	if err := g.publishIfComplete(staged); err != nil {
		g.logger.WithError(err).WithField("service", staged.id.UUID.String()).Error("Failed to add service to device")
		status = gatts.StatusError
	}
	g.events.EmitGatts(adapterIntf, gatts.ServiceStarted{Status: status, ServiceHandle: h})
	return nil
}

// publishIfComplete adds the service to the device once it is started and its handle budget
// is spent.
func (g GATTS) publishIfComplete(staged *stagedService) error {
	g.mu.Lock()
	ready := staged.started && !staged.published && staged.next >= staged.end
	if ready {
		staged.published = true
	}
	g.mu.Unlock()
	if !ready {
		return nil
	}

	if err := g.dev.AddService(staged.svc); err != nil {
		return fmt.Errorf("add service %s: %w", staged.id.UUID, err)
	}
	g.logger.WithFields(logrus.Fields{
		"service":         staged.id.UUID.String(),
		"characteristics": len(staged.svc.Characteristics),
	}).Info("Service published")
	return nil
}

func (g GATTS) AddCharacteristic(h gatts.Handle, def gatts.CharacteristicDef, value []byte) error {
	g.mu.Lock()
	staged, attr, err := g.allocate(h, 2)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	attr++ // value follows the declaration

	c := staged.svc.NewCharacteristic(def.UUID)
	if def.Response == gatts.RespondByStack {
		c.SetValue(bytes.Clone(value))
	} else {
		if def.Properties&ble.CharRead != 0 {
			c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				g.serveRead(attr, req, rsp)
			}))
		}
		if def.Properties&(ble.CharWrite|ble.CharWriteNR) != 0 {
			c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				g.serveWrite(attr, def.Properties&ble.CharWrite != 0, req, rsp)
			}))
		}
	}
	if def.Properties&ble.CharIndicate != 0 {
		c.HandleIndicate(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
			g.serveSubscription(attr, req, n)
		}))
	}
	if def.Properties&ble.CharNotify != 0 {
		c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
			g.serveSubscription(attr, req, n)
		}))
	}

	if err := g.publishIfComplete(staged); err != nil {
		return err
	}
	g.events.EmitGatts(adapterIntf, gatts.CharacteristicAdded{
		Status:        gatts.StatusOK,
		AttrHandle:    attr,
		ServiceHandle: h,
		CharUUID:      def.UUID,
	})
	return nil
}

// AddDescriptor reserves a handle for the descriptor. go-ble creates the configuration
// descriptor of notifying characteristics itself, so only other descriptors are added.
func (g GATTS) AddDescriptor(h gatts.Handle, def gatts.DescriptorDef) error {
	g.mu.Lock()
	staged, attr, err := g.allocate(h, 1)
	g.mu.Unlock()
	if err != nil {
		return err
	}

	if !def.UUID.Equal(ble.ClientCharacteristicConfigUUID) {
		chars := staged.svc.Characteristics
		if len(chars) == 0 {
			return fmt.Errorf("descriptor %s added before any characteristic", def.UUID)
		}
		chars[len(chars)-1].NewDescriptor(def.UUID)
	}

	if err := g.publishIfComplete(staged); err != nil {
		return err
	}
	g.events.EmitGatts(adapterIntf, gatts.DescriptorAdded{
		Status:        gatts.StatusOK,
		AttrHandle:    attr,
		ServiceHandle: h,
		DescrUUID:     def.UUID,
	})
	return nil
}

// allocate takes n handles from the service range. Caller holds g.mu.
func (g GATTS) allocate(h gatts.Handle, n int) (*stagedService, gatts.Handle, error) {
	staged, ok := g.services[h]
	if !ok {
		return nil, 0, fmt.Errorf("unknown service handle 0x%04x", uint16(h))
	}
	if staged.next+gatts.Handle(n) > staged.end {
		return nil, 0, fmt.Errorf("service %s handle budget exhausted", staged.id.UUID)
	}
	attr := staged.next
	staged.next += gatts.Handle(n)
	return staged, attr, nil
}

func (g GATTS) SendResponse(_ gatts.Interface, conn gatts.ConnID, trans gatts.TransID, status gatts.Status, value []byte) error {
	g.mu.Lock()
	ch, ok := g.pending[trans]
	delete(g.pending, trans)
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("no outstanding request %d on connection %d", trans, conn)
	}
	ch <- response{status: status, value: bytes.Clone(value)}
	return nil
}

// Indicate writes value to the peer's subscription. go-ble returns from the write once the
// confirmation arrives, so the write runs on its own goroutine and raises IndicationConfirmed.
func (g GATTS) Indicate(intf gatts.Interface, conn gatts.ConnID, attr gatts.Handle, value []byte) error {
	g.mu.Lock()
	var (
		target *link
		n      ble.Notifier
	)
	for _, l := range g.links {
		if l.conn == conn {
			target, n = l, l.notifiers[attr]
			break
		}
	}
	g.mu.Unlock()

	if target == nil || n == nil {
		return fmt.Errorf("%w: conn %d, handle 0x%04x", ErrNoSubscription, conn, uint16(attr))
	}

	data := bytes.Clone(value)
	groutine.Go(g.context(), "gatts-goble-indicate", func(ctx context.Context) {
		status := gatts.StatusOK
		if _, err := n.Write(data); err != nil {
			g.logger.WithError(err).WithField("peer", target.addr.String()).Warn("Indication not confirmed")
			status = gatts.StatusError
		}
		g.events.EmitGatts(intf, gatts.IndicationConfirmed{Status: status, ConnID: conn, Addr: target.addr, Handle: attr})
	})
	return nil
}

// ----------------------------
// Request bridging
// ----------------------------

// linkFor returns the link of the requesting central, creating it on first sight.
func (g GATTS) linkFor(c ble.Conn) *link {
	key := strings.ToLower(c.RemoteAddr().String())

	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.links[key]; ok {
		return l
	}
	l := &link{conn: g.nextConn, addr: c.RemoteAddr(), notifiers: make(map[gatts.Handle]ble.Notifier)}
	g.nextConn++
	g.links[key] = l

	groutine.Go(g.ctx, "gatts-goble-link", func(ctx context.Context) {
		select {
		case <-c.Disconnected():
		case <-ctx.Done():
			return
		}
		g.dropLink(key)
	})
	return l
}

func (g GATTS) dropLink(key string) {
	g.mu.Lock()
	l, ok := g.links[key]
	delete(g.links, key)
	g.mu.Unlock()

	if ok && l.announced {
		g.events.EmitGatts(adapterIntf, gatts.PeerDisconnected{ConnID: l.conn, Addr: l.addr})
	}
}

// serveSubscription announces the central on its first subscription and keeps the notifier
// until the subscription ends.
func (g GATTS) serveSubscription(attr gatts.Handle, req ble.Request, n ble.Notifier) {
	l := g.linkFor(req.Conn())

	g.mu.Lock()
	l.notifiers[attr] = n
	announce := !l.announced
	l.announced = true
	g.mu.Unlock()

	log := g.logger.WithFields(logrus.Fields{"peer": l.addr.String(), "handle": attr})
	log.Debug("Peer subscribed")
	if announce {
		g.events.EmitGatts(adapterIntf, gatts.PeerConnected{ConnID: l.conn, Addr: l.addr})
	}

	<-n.Context().Done()

	g.mu.Lock()
	if l.notifiers[attr] == n {
		delete(l.notifiers, attr)
	}
	g.mu.Unlock()
	log.Debug("Peer unsubscribed")
}

func (g GATTS) serveRead(attr gatts.Handle, req ble.Request, rsp ble.ResponseWriter) {
	l := g.linkFor(req.Conn())
	r, ok := g.roundTrip(func(trans gatts.TransID) gatts.GattsEvent {
		return gatts.ReadRequest{ConnID: l.conn, TransID: trans, Addr: l.addr, Handle: attr, Offset: req.Offset()}
	})
	if !ok {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}
	if r.status != gatts.StatusOK {
		rsp.SetStatus(ble.ATTError(r.status))
		return
	}
	if _, err := rsp.Write(r.value); err != nil {
		g.logger.WithError(err).Warn("Read response truncated")
	}
}

func (g GATTS) serveWrite(attr gatts.Handle, needRsp bool, req ble.Request, rsp ble.ResponseWriter) {
	l := g.linkFor(req.Conn())
	r, ok := g.roundTrip(func(trans gatts.TransID) gatts.GattsEvent {
		return gatts.WriteRequest{
			ConnID:  l.conn,
			TransID: trans,
			Addr:    l.addr,
			Handle:  attr,
			Offset:  req.Offset(),
			NeedRsp: needRsp,
			Value:   bytes.Clone(req.Data()),
		}
	})
	if !needRsp {
		return
	}
	if !ok {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}
	if r.status != gatts.StatusOK {
		rsp.SetStatus(ble.ATTError(r.status))
	}
}

// roundTrip raises a request event and waits for its SendResponse. Requests without a
// response are raised and not awaited.
func (g GATTS) roundTrip(build func(gatts.TransID) gatts.GattsEvent) (response, bool) {
	g.mu.Lock()
	trans := g.nextTrans
	g.nextTrans++
	ch := make(chan response, 1)
	ev := build(trans)
	if w, isWrite := ev.(gatts.WriteRequest); !isWrite || w.NeedRsp {
		g.pending[trans] = ch
	} else {
		ch = nil
	}
	g.mu.Unlock()

	g.events.EmitGatts(adapterIntf, ev)
	if ch == nil {
		return response{}, false
	}

	select {
	case r := <-ch:
		return r, true
	case <-time.After(g.timeout):
		g.mu.Lock()
		delete(g.pending, trans)
		g.mu.Unlock()
		g.logger.WithField("trans_id", trans).Warn("Attribute server did not respond in time")
		return response{}, false
	}
}
