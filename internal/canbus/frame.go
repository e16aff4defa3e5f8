package canbus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// FrameSize is the size of a classic Linux can_frame on the wire.
	FrameSize = 16
	// MaxDataLen is the payload capacity of a classic CAN frame.
	MaxDataLen = 8

	// EFFFlag marks a 29-bit extended identifier.
	EFFFlag uint32 = 0x80000000
	// RTRFlag marks a remote transmission request.
	RTRFlag uint32 = 0x40000000
	// ERRFlag marks an error frame.
	ERRFlag uint32 = 0x20000000

	SFFMask uint32 = 0x000007FF
	EFFMask uint32 = 0x1FFFFFFF
)

// Frame is a classic CAN 2.0 frame. Only the first Len bytes of Data are significant.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [MaxDataLen]byte
}

// NewFrame builds a frame with an 11-bit identifier.
func NewFrame(id uint32, data []byte) (Frame, error) {
	if id&^SFFMask != 0 {
		return Frame{}, fmt.Errorf("identifier 0x%X exceeds 11 bits", id)
	}
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("payload of %d bytes exceeds %d", len(data), MaxDataLen)
	}
	f := Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// Payload returns the significant bytes of the frame.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Extended reports whether the frame carries a 29-bit identifier.
func (f Frame) Extended() bool {
	return f.ID&EFFFlag != 0
}

// String renders the frame in candump/cansend notation, e.g. "7DF#02010C".
func (f Frame) String() string {
	id := f.ID & SFFMask
	width := 3
	if f.Extended() {
		id = f.ID & EFFMask
		width = 8
	}
	return fmt.Sprintf("%0*X#%s", width, id, strings.ToUpper(hex.EncodeToString(f.Payload())))
}

// MarshalBinary encodes the frame as a Linux struct can_frame in host byte order.
func (f Frame) MarshalBinary() ([]byte, error) {
	if f.Len > MaxDataLen {
		return nil, fmt.Errorf("invalid frame length %d", f.Len)
	}
	buf := make([]byte, FrameSize)
	f.encode(buf)
	return buf, nil
}

// UnmarshalBinary decodes a Linux struct can_frame.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < FrameSize {
		return fmt.Errorf("short frame: %d bytes, want %d", len(b), FrameSize)
	}
	if b[4] > MaxDataLen {
		return fmt.Errorf("invalid frame length %d", b[4])
	}
	f.ID = binary.NativeEndian.Uint32(b[0:4])
	f.Len = b[4]
	copy(f.Data[:], b[8:16])
	return nil
}

func (f Frame) encode(buf []byte) {
	binary.NativeEndian.PutUint32(buf[0:4], f.ID)
	buf[4] = f.Len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
}
