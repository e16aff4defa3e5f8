package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is the compact CBOR record published on the optional snapshot characteristic.
type Snapshot struct {
	Session  string            `cbor:"1,keyasint"`
	RunCount uint64            `cbor:"2,keyasint"`
	Liters   float64           `cbor:"3,keyasint"`
	UsageLPH float64           `cbor:"4,keyasint"`
	Running  bool              `cbor:"5,keyasint"`
	Readings map[uint8]float64 `cbor:"6,keyasint,omitempty"`
	At       time.Time         `cbor:"7,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
		ShortestFloat: cbor.ShortestFloat16,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// MarshalSnapshot encodes s deterministically.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return encMode.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := decMode.Unmarshal(data, &s)
	return s, err
}

// Float64LE is the wire form of the fuel usage characteristic.
func Float64LE(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// Uint64LE is the wire form of the run count characteristic.
func Uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
