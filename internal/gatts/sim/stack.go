package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/gatts/dispatch"
)

const (
	// FirstHandle is the first attribute handle handed out; lower handles belong to the
	// built-in GAP and GATT services.
	FirstHandle gatts.Handle = 0x28

	firstInterface gatts.Interface = 3
)

var (
	ErrHandlesExhaust = errors.New("service handle budget exhausted")
	ErrUnknownService = errors.New("unknown service handle")
	ErrUnknownPeer    = errors.New("unknown connection")
)

// Options configures a simulated stack
type Options struct {
	Logger *logrus.Logger

	// QueueSize sizes the event ring; overflow spills to a backlog. Zero means dispatch.DefaultQueueSize.
	QueueSize uint32

	// ConfirmLatency delays automatic indication confirmations.
	ConfirmLatency time.Duration

	// ManualConfirm disables automatic confirmations; call Peer.Confirm instead.
	ManualConfirm bool
}

type service struct {
	id      gatts.ServiceID
	intf    gatts.Interface
	next    gatts.Handle // next free handle inside the range
	end     gatts.Handle // first handle past the range
	started bool
}

// Stack is the simulated controller. Create it with New and run its dispatcher with Start.
// Stack implements gatts.GAP; Attributes returns the gatts.GATTS view.
type Stack struct {
	logger *logrus.Logger
	opts   Options
	events *dispatch.Dispatcher

	mu         sync.Mutex
	apps       map[gatts.AppID]gatts.Interface
	nextIntf   gatts.Interface
	nextHandle gatts.Handle
	services   map[gatts.Handle]*service
	attrs      map[gatts.Handle]ble.UUID
	name       string
	adv        *gatts.AdvConfiguration
	advertised bool
	nextConn   gatts.ConnID
	nextTrans  gatts.TransID
	pending    map[gatts.TransID]chan response

	peers *hashmap.Map[gatts.ConnID, *Peer]
}

type response struct {
	status gatts.Status
	value  []byte
}

// New creates a stopped stack.
func New(opts *Options) *Stack {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Stack{
		logger:     logger,
		opts:       o,
		events:     dispatch.New(o.QueueSize, logger),
		apps:       make(map[gatts.AppID]gatts.Interface),
		nextIntf:   firstInterface,
		nextHandle: FirstHandle,
		services:   make(map[gatts.Handle]*service),
		attrs:      make(map[gatts.Handle]ble.UUID),
		nextTrans:  1,
		pending:    make(map[gatts.TransID]chan response),
		peers:      hashmap.New[gatts.ConnID, *Peer](),
	}
}

// Start runs the event dispatcher until ctx ends or Stop is called.
func (s *Stack) Start(ctx context.Context) error {
	if err := s.events.Start(ctx, "gatts-sim-dispatch"); err != nil {
		return err
	}
	s.logger.Debug("Simulated stack started")
	return nil
}

// Stop ends the dispatcher. Queued events are dropped.
func (s *Stack) Stop() {
	s.events.Stop()
	s.logger.Debug("Simulated stack stopped")
}

func (s *Stack) emitGap(ev gatts.GapEvent) {
	s.events.EmitGap(ev)
}

func (s *Stack) emitGatts(intf gatts.Interface, ev gatts.GattsEvent) {
	s.events.EmitGatts(intf, ev)
}
