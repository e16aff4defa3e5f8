package sim

import (
	"bytes"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
)

// GATTS is the attribute-server half of the stack. It shares state with the GAP half, so
// both are views of the same Stack.
type GATTS struct {
	*Stack
}

// Attributes returns the GATTS view of the stack.
func (s *Stack) Attributes() GATTS {
	return GATTS{s}
}

func (g GATTS) Subscribe(handler func(gatts.Interface, gatts.GattsEvent)) error {
	return g.events.SubscribeGatts(handler)
}

// RegisterApp assigns an interface to the application and raises ServiceRegistered.
func (g GATTS) RegisterApp(id gatts.AppID) error {
	g.mu.Lock()
	if _, dup := g.apps[id]; dup {
		g.mu.Unlock()
		return fmt.Errorf("application %d already registered", id)
	}
	intf := g.nextIntf
	g.nextIntf++
	g.apps[id] = intf
	g.mu.Unlock()

	g.emitGatts(intf, gatts.ServiceRegistered{Status: gatts.StatusOK, AppID: id})
	return nil
}

// CreateService reserves numHandles handles and raises ServiceCreated with the first one.
func (g GATTS) CreateService(intf gatts.Interface, id gatts.ServiceID, numHandles uint16) error {
	if numHandles == 0 {
		return fmt.Errorf("service %s needs at least one handle", id.UUID)
	}

	g.mu.Lock()
	h := g.nextHandle
	g.nextHandle += gatts.Handle(numHandles)
	g.services[h] = &service{id: id, intf: intf, next: h + 1, end: h + gatts.Handle(numHandles)}
	g.attrs[h] = id.UUID
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"service":     id.UUID.String(),
		"handle":      h,
		"num_handles": numHandles,
	}).Debug("Service created")
	g.emitGatts(intf, gatts.ServiceCreated{Status: gatts.StatusOK, ServiceHandle: h, ServiceID: id})
	return nil
}

func (g GATTS) StartService(h gatts.Handle) error {
	g.mu.Lock()
	svc, ok := g.services[h]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: 0x%04x", ErrUnknownService, uint16(h))
	}
	svc.started = true
	intf := svc.intf
	g.mu.Unlock()

	g.emitGatts(intf, gatts.ServiceStarted{Status: gatts.StatusOK, ServiceHandle: h})
	return nil
}

// AddCharacteristic takes a declaration and a value handle from the service range and raises
// CharacteristicAdded with the value handle.
func (g GATTS) AddCharacteristic(h gatts.Handle, def gatts.CharacteristicDef, value []byte) error {
	if len(value) > def.MaxLen {
		return fmt.Errorf("initial value of %s is %d bytes, max length is %d", def.UUID, len(value), def.MaxLen)
	}

	g.mu.Lock()
	svc, attr, err := g.allocate(h, 2)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	attr++ // value follows the declaration
	g.attrs[attr] = def.UUID
	g.mu.Unlock()

	g.emitGatts(svc.intf, gatts.CharacteristicAdded{
		Status:        gatts.StatusOK,
		AttrHandle:    attr,
		ServiceHandle: h,
		CharUUID:      def.UUID,
	})
	return nil
}

func (g GATTS) AddDescriptor(h gatts.Handle, def gatts.DescriptorDef) error {
	g.mu.Lock()
	svc, attr, err := g.allocate(h, 1)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.attrs[attr] = def.UUID
	g.mu.Unlock()

	g.emitGatts(svc.intf, gatts.DescriptorAdded{
		Status:        gatts.StatusOK,
		AttrHandle:    attr,
		ServiceHandle: h,
		DescrUUID:     def.UUID,
	})
	return nil
}

// allocate takes n handles from the service range. Caller holds g.mu.
func (g GATTS) allocate(h gatts.Handle, n int) (*service, gatts.Handle, error) {
	svc, ok := g.services[h]
	if !ok {
		return nil, 0, fmt.Errorf("%w: 0x%04x", ErrUnknownService, uint16(h))
	}
	if svc.next+gatts.Handle(n) > svc.end {
		return nil, 0, fmt.Errorf("%w: service %s", ErrHandlesExhaust, svc.id.UUID)
	}
	attr := svc.next
	svc.next += gatts.Handle(n)
	return svc, attr, nil
}

// SendResponse completes the peer request identified by trans.
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

// Indicate delivers value to the peer and, unless confirmations are manual, raises
// IndicationConfirmed after the configured latency.
func (g GATTS) Indicate(intf gatts.Interface, conn gatts.ConnID, attr gatts.Handle, value []byte) error {
	p, ok := g.peers.Get(conn)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, conn)
	}
	if !g.knownAttr(attr) {
		return fmt.Errorf("unknown attribute handle 0x%04x", uint16(attr))
	}

	p.receive(intf, attr, value)

	if g.opts.ManualConfirm {
		return nil
	}
	confirm := func() {
		if p.Connected() {
			p.Confirm(gatts.StatusOK)
		}
	}
	if g.opts.ConfirmLatency > 0 {
		time.AfterFunc(g.opts.ConfirmLatency, confirm)
	} else {
		confirm()
	}
	return nil
}

func (g GATTS) knownAttr(h gatts.Handle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.attrs[h]
	return ok
}
