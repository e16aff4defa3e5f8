package testutils

import (
	"bytes"
	"sync"
	"testing"

	blelib "github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// FirstServiceHandle is the handle the mock stack assigns to the first created service.
const FirstServiceHandle gatts.Handle = 0x28

// IndicateCall is a recorded GATTS.Indicate submission
type IndicateCall struct {
	Conn   gatts.ConnID
	Handle gatts.Handle
	Value  []byte
}

// ResponseCall is a recorded GATTS.SendResponse submission
type ResponseCall struct {
	Conn   gatts.ConnID
	Trans  gatts.TransID
	Status gatts.Status
	Value  []byte
}

type pendingCharacteristic struct {
	service gatts.Handle
	def     gatts.CharacteristicDef
}

type pendingDescriptor struct {
	service gatts.Handle
	def     gatts.DescriptorDef
}

// MockStack wraps the GAP and GATTS mocks with a recorder and an event driver.
//
// Stack calls are only recorded; the test decides when the matching completion events are
// delivered. Events are delivered on the calling goroutine, never from inside a mock call,
// because the server holds its lock while it calls the stack.
type MockStack struct {
	GAP   *mocks.MockGAP
	GATTS *mocks.MockGATTS

	mu           sync.Mutex
	intf         gatts.Interface
	nextHandle   gatts.Handle
	gapHandler   func(gatts.GapEvent)
	gattsHandler func(gatts.Interface, gatts.GattsEvent)
	services     []gatts.ServiceID
	chars        []pendingCharacteristic
	descs        []pendingDescriptor
	indications  []IndicateCall
	responses    []ResponseCall
	nextTrans    gatts.TransID
}

// MockStackBuilder configures a MockStack
type MockStackBuilder struct {
	t        *testing.T
	intf     gatts.Interface
	failures map[string]error
}

// NewMockStackBuilder creates a builder with interface 3 and no failing calls
func NewMockStackBuilder(t *testing.T) *MockStackBuilder {
	return &MockStackBuilder{
		t:        t,
		intf:     3,
		failures: make(map[string]error),
	}
}

// WithInterface sets the interface handle reported on registration
func (b *MockStackBuilder) WithInterface(intf gatts.Interface) *MockStackBuilder {
	b.intf = intf
	return b
}

// FailOn makes every call of the named GAP or GATTS method return err
func (b *MockStackBuilder) FailOn(method string, err error) *MockStackBuilder {
	b.failures[method] = err
	return b
}

var gapMethods = map[string]int{
	"Subscribe":            1,
	"SetDeviceName":        1,
	"ConfigureAdvertising": 1,
	"StartAdvertising":     0,
	"SetConnParams":        2,
}

var gattsMethods = map[string]int{
	"RegisterApp":       1,
	"CreateService":     3,
	"StartService":      1,
	"AddCharacteristic": 3,
	"AddDescriptor":     2,
	"SendResponse":      5,
	"Indicate":          4,
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = mock.Anything
	}
	return args
}

// Build creates the mocks. Failures are registered first so they take precedence over the
// recording defaults.
func (b *MockStackBuilder) Build() *MockStack {
	s := &MockStack{
		GAP:        mocks.NewMockGAP(b.t),
		GATTS:      mocks.NewMockGATTS(b.t),
		intf:       b.intf,
		nextHandle: FirstServiceHandle,
		nextTrans:  1,
	}

	for method, err := range b.failures {
		if n, ok := gapMethods[method]; ok {
			s.GAP.On(method, anyArgs(n)...).Return(err).Maybe()
			continue
		}
		if n, ok := gattsMethods[method]; ok {
			s.GATTS.On(method, anyArgs(n)...).Return(err).Maybe()
			continue
		}
		if method == "GattsSubscribe" {
			s.GATTS.On("Subscribe", mock.Anything).Return(err).Maybe()
			continue
		}
		b.t.Fatalf("MockStackBuilder.FailOn: unknown method %q", method)
	}

	s.GAP.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.gapHandler = args.Get(0).(func(gatts.GapEvent))
		s.mu.Unlock()
	}).Return(nil).Maybe()
	s.GAP.On("SetDeviceName", mock.Anything).Return(nil).Maybe()
	s.GAP.On("ConfigureAdvertising", mock.Anything).Return(nil).Maybe()
	s.GAP.On("StartAdvertising").Return(nil).Maybe()
	s.GAP.On("SetConnParams", mock.Anything, mock.Anything).Return(nil).Maybe()

	s.GATTS.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.gattsHandler = args.Get(0).(func(gatts.Interface, gatts.GattsEvent))
		s.mu.Unlock()
	}).Return(nil).Maybe()
	s.GATTS.On("RegisterApp", mock.Anything).Return(nil).Maybe()
	s.GATTS.On("CreateService", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.services = append(s.services, args.Get(1).(gatts.ServiceID))
		s.mu.Unlock()
	}).Return(nil).Maybe()
	s.GATTS.On("StartService", mock.Anything).Return(nil).Maybe()
	s.GATTS.On("AddCharacteristic", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.chars = append(s.chars, pendingCharacteristic{
			service: args.Get(0).(gatts.Handle),
			def:     args.Get(1).(gatts.CharacteristicDef),
		})
		s.mu.Unlock()
	}).Return(nil).Maybe()
	s.GATTS.On("AddDescriptor", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.descs = append(s.descs, pendingDescriptor{
			service: args.Get(0).(gatts.Handle),
			def:     args.Get(1).(gatts.DescriptorDef),
		})
		s.mu.Unlock()
	}).Return(nil).Maybe()
	s.GATTS.On("SendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.responses = append(s.responses, ResponseCall{
			Conn:   args.Get(1).(gatts.ConnID),
			Trans:  args.Get(2).(gatts.TransID),
			Status: args.Get(3).(gatts.Status),
			Value:  bytes.Clone(args.Get(4).([]byte)),
		})
		s.mu.Unlock()
	}).Return(nil).Maybe()
	s.GATTS.On("Indicate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		s.mu.Lock()
		s.indications = append(s.indications, IndicateCall{
			Conn:   args.Get(1).(gatts.ConnID),
			Handle: args.Get(2).(gatts.Handle),
			Value:  bytes.Clone(args.Get(3).([]byte)),
		})
		s.mu.Unlock()
	}).Return(nil).Maybe()

	return s
}

// Interface is the interface handle reported on registration
func (s *MockStack) Interface() gatts.Interface {
	return s.intf
}

// Gap delivers a GAP event to the subscribed handler
func (s *MockStack) Gap(ev gatts.GapEvent) {
	s.mu.Lock()
	h := s.gapHandler
	s.mu.Unlock()
	if h == nil {
		panic("MockStack.Gap: no GAP handler subscribed")
	}
	h(ev)
}

// Gatts delivers a GATTS event on the registered interface to the subscribed handler
func (s *MockStack) Gatts(ev gatts.GattsEvent) {
	s.mu.Lock()
	h := s.gattsHandler
	intf := s.intf
	s.mu.Unlock()
	if h == nil {
		panic("MockStack.Gatts: no GATTS handler subscribed")
	}
	h(intf, ev)
}

// Materialize completes the setup sequence: registration, advertising and every requested
// service, characteristic and descriptor, assigning handles in request order.
func (s *MockStack) Materialize() {
	s.Gatts(gatts.ServiceRegistered{Status: gatts.StatusOK, AppID: gatts.DefaultAppID})
	s.Gap(gatts.AdvertisingConfigured{Status: gatts.StatusOK})
	s.Gap(gatts.AdvertisingStarted{Status: gatts.StatusOK})
	s.Settle()
}

// Settle answers every pending creation request until none are left.
func (s *MockStack) Settle() {
	for {
		s.mu.Lock()
		services, chars, descs := s.services, s.chars, s.descs
		s.services, s.chars, s.descs = nil, nil, nil
		s.mu.Unlock()

		if len(services)+len(chars)+len(descs) == 0 {
			return
		}

		for _, id := range services {
			h := s.allocate(1)
			s.Gatts(gatts.ServiceCreated{Status: gatts.StatusOK, ServiceHandle: h, ServiceID: id})
			s.Gatts(gatts.ServiceStarted{Status: gatts.StatusOK, ServiceHandle: h})
		}
		for _, c := range chars {
			// declaration, then value
			h := s.allocate(2) + 1
			s.Gatts(gatts.CharacteristicAdded{
				Status:        gatts.StatusOK,
				AttrHandle:    h,
				ServiceHandle: c.service,
				CharUUID:      c.def.UUID,
			})
		}
		for _, d := range descs {
			h := s.allocate(1)
			s.Gatts(gatts.DescriptorAdded{
				Status:        gatts.StatusOK,
				AttrHandle:    h,
				ServiceHandle: d.service,
				DescrUUID:     d.def.UUID,
			})
		}
	}
}

func (s *MockStack) allocate(n int) gatts.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.nextHandle
	s.nextHandle += gatts.Handle(n)
	return h
}

// Connect delivers a connection event for peer
func (s *MockStack) Connect(peer string, conn gatts.ConnID) {
	s.Gatts(gatts.PeerConnected{ConnID: conn, Addr: blelib.NewAddr(peer)})
}

// Disconnect delivers a disconnection event for peer
func (s *MockStack) Disconnect(peer string, conn gatts.ConnID) {
	s.Gatts(gatts.PeerDisconnected{ConnID: conn, Addr: blelib.NewAddr(peer), Reason: 0x13})
}

// Confirm delivers an indication confirmation from peer
func (s *MockStack) Confirm(peer string, conn gatts.ConnID, handle gatts.Handle, status gatts.Status) {
	s.Gatts(gatts.IndicationConfirmed{Status: status, ConnID: conn, Addr: blelib.NewAddr(peer), Handle: handle})
}

// Read delivers a read request and returns the response the server sent for it
func (s *MockStack) Read(peer string, conn gatts.ConnID, handle gatts.Handle, offset int) ResponseCall {
	trans := s.transaction()
	s.Gatts(gatts.ReadRequest{ConnID: conn, TransID: trans, Addr: blelib.NewAddr(peer), Handle: handle, Offset: offset})
	return s.responseFor(trans)
}

// Write delivers a write request expecting a response and returns that response
func (s *MockStack) Write(peer string, conn gatts.ConnID, handle gatts.Handle, offset int, value []byte) ResponseCall {
	trans := s.transaction()
	s.Gatts(gatts.WriteRequest{
		ConnID:  conn,
		TransID: trans,
		Addr:    blelib.NewAddr(peer),
		Handle:  handle,
		Offset:  offset,
		NeedRsp: true,
		Value:   value,
	})
	return s.responseFor(trans)
}

func (s *MockStack) transaction() gatts.TransID {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.nextTrans
	s.nextTrans++
	return t
}

func (s *MockStack) responseFor(trans gatts.TransID) ResponseCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.Trans == trans {
			return r
		}
	}
	panic("MockStack: no response sent for the request")
}

// Indications returns the recorded indication submissions in order
func (s *MockStack) Indications() []IndicateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]IndicateCall(nil), s.indications...)
}

// Responses returns the recorded responses in order
func (s *MockStack) Responses() []ResponseCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ResponseCall(nil), s.responses...)
}
