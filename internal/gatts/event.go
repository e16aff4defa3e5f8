package gatts

import (
	"fmt"

	"github.com/go-ble/ble"
)

// GapEvent is an advertising lifecycle event delivered by the stack.
type GapEvent interface {
	gapEvent()
}

// GattsEvent is an attribute-server lifecycle or I/O event delivered by the stack.
type GattsEvent interface {
	gattsEvent()
}

// ----------------------------
// GAP events
// ----------------------------

// AdvertisingConfigured reports the outcome of ConfigureAdvertising.
type AdvertisingConfigured struct {
	Status Status
}

// AdvertisingStarted reports the outcome of StartAdvertising.
type AdvertisingStarted struct {
	Status Status
}

func (AdvertisingConfigured) gapEvent() {}
func (AdvertisingStarted) gapEvent()    {}

// ----------------------------
// GATTS events
// ----------------------------

// ServiceRegistered reports the outcome of RegisterApp.
type ServiceRegistered struct {
	Status Status
	AppID  AppID
}

// ServiceCreated reports the outcome of CreateService.
type ServiceCreated struct {
	Status        Status
	ServiceHandle Handle
	ServiceID     ServiceID
}

// ServiceStarted reports the outcome of StartService.
type ServiceStarted struct {
	Status        Status
	ServiceHandle Handle
}

// CharacteristicAdded reports the outcome of AddCharacteristic.
type CharacteristicAdded struct {
	Status        Status
	AttrHandle    Handle
	ServiceHandle Handle
	CharUUID      ble.UUID
}

// DescriptorAdded reports the outcome of AddDescriptor.
type DescriptorAdded struct {
	Status        Status
	AttrHandle    Handle
	ServiceHandle Handle
	DescrUUID     ble.UUID
}

// PeerConnected reports a new link.
type PeerConnected struct {
	ConnID ConnID
	Addr   ble.Addr
}

// PeerDisconnected reports a closed link.
type PeerDisconnected struct {
	ConnID ConnID
	Addr   ble.Addr
	Reason uint8
}

// ReadRequest asks for the value behind Handle. It must be answered with SendResponse.
type ReadRequest struct {
	ConnID  ConnID
	TransID TransID
	Addr    ble.Addr
	Handle  Handle
	Offset  int
}

// WriteRequest carries a peer write. NeedRsp is false for write-without-response.
type WriteRequest struct {
	ConnID  ConnID
	TransID TransID
	Addr    ble.Addr
	Handle  Handle
	Offset  int
	NeedRsp bool
	Value   []byte
}

// IndicationConfirmed reports the peer acknowledgement of an indication.
type IndicationConfirmed struct {
	Status Status
	ConnID ConnID
	Addr   ble.Addr
	Handle Handle
}

func (ServiceRegistered) gattsEvent()   {}
func (ServiceCreated) gattsEvent()      {}
func (ServiceStarted) gattsEvent()      {}
func (CharacteristicAdded) gattsEvent() {}
func (DescriptorAdded) gattsEvent()     {}
func (PeerConnected) gattsEvent()       {}
func (PeerDisconnected) gattsEvent()    {}
func (ReadRequest) gattsEvent()         {}
func (WriteRequest) gattsEvent()        {}
func (IndicationConfirmed) gattsEvent() {}

// eventName returns a short name for logging.
func eventName(ev any) string {
	switch ev.(type) {
	case AdvertisingConfigured:
		return "advertising_configured"
	case AdvertisingStarted:
		return "advertising_started"
	case ServiceRegistered:
		return "service_registered"
	case ServiceCreated:
		return "service_created"
	case ServiceStarted:
		return "service_started"
	case CharacteristicAdded:
		return "characteristic_added"
	case DescriptorAdded:
		return "descriptor_added"
	case PeerConnected:
		return "peer_connected"
	case PeerDisconnected:
		return "peer_disconnected"
	case ReadRequest:
		return "read"
	case WriteRequest:
		return "write"
	case IndicationConfirmed:
		return "indication_confirmed"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

// sameAddr compares peer identities case-insensitively.
func sameAddr(a, b ble.Addr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return addrKey(a) == addrKey(b)
}

func addrKey(a ble.Addr) string {
	if a == nil {
		return ""
	}
	return normalizeAddr(a.String())
}
