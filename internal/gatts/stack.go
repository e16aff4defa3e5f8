package gatts

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
)

// Handle is an attribute handle assigned by the stack.
type Handle uint16

// ConnID identifies a link at the attribute layer.
type ConnID uint16

// TransID identifies a pending request that expects a response.
type TransID uint32

// AppID is the application identity registered with the stack.
type AppID uint16

// Interface is the attribute interface the stack assigns to a registered application.
type Interface uint8

// Status is the result code carried by stack events and error responses.
// Values below 0x80 mirror ATT error codes.
type Status uint8

const (
	StatusOK                 Status = 0x00
	StatusInvalidHandle      Status = 0x01
	StatusReadNotPermitted   Status = 0x02
	StatusWriteNotPermitted  Status = 0x03
	StatusInvalidOffset      Status = 0x07
	StatusInvalidValueLength Status = 0x0d
	StatusInsufficientRes    Status = 0x11
	StatusError              Status = 0x85
	StatusBusy               Status = 0x84
	StatusTimeout            Status = 0x94
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusReadNotPermitted:
		return "read not permitted"
	case StatusWriteNotPermitted:
		return "write not permitted"
	case StatusInvalidOffset:
		return "invalid offset"
	case StatusInvalidValueLength:
		return "invalid attribute value length"
	case StatusInsufficientRes:
		return "insufficient resources"
	case StatusError:
		return "error"
	case StatusBusy:
		return "busy"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status 0x%02x", uint8(s))
	}
}

// ResponseMode selects who answers reads and writes on an attribute.
type ResponseMode int

const (
	// RespondByApp defers responses to the server, which holds the live value.
	RespondByApp ResponseMode = iota
	// RespondByStack lets the stack answer from its own copy of the value.
	RespondByStack
)

// ServiceID names a service in a CreateService call and in ServiceCreated events.
type ServiceID struct {
	UUID    ble.UUID
	InstID  uint8
	Primary bool
}

// CharacteristicDef is the attribute definition passed to AddCharacteristic.
type CharacteristicDef struct {
	UUID        ble.UUID
	Permissions Permission
	Properties  ble.Property
	MaxLen      int
	Response    ResponseMode
}

// DescriptorDef is the attribute definition passed to AddDescriptor.
type DescriptorDef struct {
	UUID        ble.UUID
	Permissions Permission
}

// AdvConfiguration is the advertisement payload.
type AdvConfiguration struct {
	IncludeName    bool
	IncludeTxPower bool
	Appearance     uint16
	Flags          uint8
	ServiceUUID    ble.UUID
}

// ConnParams are the link parameters requested for a newly registered peer.
type ConnParams struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	Latency     uint16
	Timeout     time.Duration
}

// GAP is the advertising half of the radio stack.
// Calls only acknowledge submission; results arrive as GapEvent values.
type GAP interface {
	Subscribe(handler func(GapEvent)) error
	SetDeviceName(name string) error
	ConfigureAdvertising(conf AdvConfiguration) error
	StartAdvertising() error
	SetConnParams(peer ble.Addr, params ConnParams) error
}

// GATTS is the attribute-server half of the radio stack.
// Calls only acknowledge submission; results arrive as GattsEvent values.
type GATTS interface {
	Subscribe(handler func(Interface, GattsEvent)) error
	RegisterApp(id AppID) error
	CreateService(intf Interface, id ServiceID, numHandles uint16) error
	StartService(service Handle) error
	AddCharacteristic(service Handle, def CharacteristicDef, value []byte) error
	AddDescriptor(service Handle, def DescriptorDef) error
	SendResponse(intf Interface, conn ConnID, trans TransID, status Status, value []byte) error
	Indicate(intf Interface, conn ConnID, attr Handle, value []byte) error
}
