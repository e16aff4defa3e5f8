package gatts

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DefaultAppID is the application identity registered when none is configured.
const DefaultAppID AppID = 0

// FaultHandler receives setup failures and invariant violations raised inside event handlers,
// where there is no caller to return them to.
type FaultHandler func(err error)

// Options configures a Server
type Options struct {
	AppID      AppID
	MaxPeers   int
	ConnParams ConnParams
	Logger     *logrus.Logger
	OnFault    FaultHandler // nil terminates on setup errors and logs everything else
}

// DefaultOptions returns the options used by the firmware: one peer, parameters tuned for
// quick confirmation round trips.
func DefaultOptions() *Options {
	return &Options{
		AppID:    DefaultAppID,
		MaxPeers: 1,
		ConnParams: ConnParams{
			MinInterval: 10 * time.Millisecond,
			MaxInterval: 20 * time.Millisecond,
			Latency:     0,
			Timeout:     400 * time.Millisecond,
		},
	}
}

// Server is the attribute server. Create it with NewServer, then call Start.
type Server struct {
	gap    GAP
	gatts  GATTS
	config ServerConfiguration
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	idle     *sync.Cond // signalled whenever inFlight is cleared
	intf     Interface
	hasIntf  bool
	registry *registry
	table    *table
	inFlight ble.Addr // peer whose confirmation is awaited, nil when none
	setupErr error

	ready     chan struct{}
	readyOnce sync.Once
}

// State is a point-in-time copy of the server state.
type State struct {
	Interface   Interface
	Registered  bool
	Connections []Connection
	Services    []RuntimeService
	InFlight    ble.Addr
}

// NewServer validates the configuration and prepares a server. No stack call is made.
func NewServer(gap GAP, gatts GATTS, config ServerConfiguration, opts *Options) (*Server, error) {
	if gap == nil || gatts == nil {
		return nil, errors.New("gap and gatts are required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.MaxPeers <= 0 {
		o.MaxPeers = 1
	}
	if o.MaxPeers > MaxPeers {
		return nil, fmt.Errorf("max peers %d exceeds supported bound %d", o.MaxPeers, MaxPeers)
	}
	if o.ConnParams == (ConnParams{}) {
		o.ConnParams = DefaultOptions().ConnParams
	}
	if config.Appearance == 0 {
		config.Appearance = AppearanceHID
	}

	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		gap:      gap,
		gatts:    gatts,
		config:   config,
		opts:     o,
		logger:   logger,
		registry: newRegistry(o.MaxPeers),
		table:    newTable(),
		ready:    make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	if s.opts.OnFault == nil {
		s.opts.OnFault = s.defaultFault
	}
	return s, nil
}

// Start wires both handlers to the stack and registers the application.
// The rest of the setup is driven by stack events.
func (s *Server) Start() error {
	if err := s.gap.Subscribe(s.HandleGapEvent); err != nil {
		return &SetupError{Phase: "gap_subscribe", Err: err}
	}
	if err := s.gatts.Subscribe(s.HandleGattsEvent); err != nil {
		return &SetupError{Phase: "gatts_subscribe", Err: err}
	}
	if err := s.gatts.RegisterApp(s.opts.AppID); err != nil {
		return &SetupError{Phase: "register_app", Err: err}
	}
	s.logger.WithField("app_id", s.opts.AppID).Info("Registered attribute server application")
	return nil
}

// Ready is closed once every schema characteristic and its configuration descriptor exist.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Err returns the setup failure that stopped the server, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupErr
}

// Config returns the schema the server was built from.
func (s *Server) Config() ServerConfiguration {
	return s.config
}

// Snapshot copies the current state.
func (s *Server) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Interface:   s.intf,
		Registered:  s.hasIntf,
		Connections: s.registry.snapshot(),
		Services:    s.table.snapshot(),
		InFlight:    s.inFlight,
	}
}

// HandleGapEvent is the advertising event callback.
func (s *Server) HandleGapEvent(ev GapEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("event", eventName(ev)).Debug("GAP event")

	switch e := ev.(type) {
	case AdvertisingConfigured:
		s.onAdvertisingConfigured(e)
	case AdvertisingStarted:
		if e.Status != StatusOK {
			s.fail(&SetupError{Phase: "advertising_started", Status: e.Status})
			return
		}
		s.logger.WithField("name", s.config.Name).Info("Advertising started")
	default:
		s.logger.WithField("event", fmt.Sprintf("%+v", ev)).Info("Unhandled GAP event")
	}
}

// HandleGattsEvent is the attribute-server event callback.
func (s *Server) HandleGattsEvent(intf Interface, ev GattsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"event":     eventName(ev),
		"interface": intf,
	}).Debug("GATTS event")

	switch e := ev.(type) {
	case ServiceRegistered:
		s.onServiceRegistered(intf, e)
	case ServiceCreated:
		s.onServiceCreated(e)
	case ServiceStarted:
		if e.Status != StatusOK {
			s.fail(&SetupError{Phase: "service_started", Status: e.Status})
		}
	case CharacteristicAdded:
		s.onCharacteristicAdded(e)
	case DescriptorAdded:
		s.onDescriptorAdded(e)
	case PeerConnected:
		s.onPeerConnected(e)
	case PeerDisconnected:
		s.onPeerDisconnected(e)
	case ReadRequest:
		s.onRead(e)
	case WriteRequest:
		s.onWrite(e)
	case IndicationConfirmed:
		s.onIndicationConfirmed(e)
	default:
		s.logger.WithField("event", fmt.Sprintf("%+v", ev)).Info("Unhandled GATTS event")
	}
}

// fail records a setup failure and reports it. Caller holds s.mu.
func (s *Server) fail(err *SetupError) {
	if s.setupErr == nil {
		s.setupErr = err
	}
	// Release any publisher blocked on a server that will never confirm.
	s.idle.Broadcast()
	s.opts.OnFault(err)
}

// violation reports an invariant violation. Caller holds s.mu.
func (s *Server) violation(event, format string, args ...any) {
	s.opts.OnFault(&InvariantError{Event: event, Detail: fmt.Sprintf(format, args...)})
}

func (s *Server) defaultFault(err error) {
	if IsSetupError(err) {
		s.logger.WithError(err).Fatal("Attribute server setup failed")
		return
	}
	s.logger.WithError(err).Error("Attribute server fault")
}
