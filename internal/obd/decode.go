package obd

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a reply that is too short or does not answer the request.
	ErrMalformed = errors.New("malformed OBD reply")
	// ErrUnsupportedPID reports a PID without a numeric conversion.
	ErrUnsupportedPID = errors.New("no conversion for PID")
)

// Decode converts the data bytes of a mode 01 reply to engineering units.
func Decode(pid PID, data []byte) (float64, error) {
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: %s needs %d data bytes, got %d", ErrMalformed, pid, n, len(data))
		}
		return nil
	}
	a := func() float64 { return float64(data[0]) }
	ab := func() float64 { return 256*float64(data[0]) + float64(data[1]) }

	switch pid {
	case MassAirFlow:
		if err := need(2); err != nil {
			return 0, err
		}
		return ab() / 100, nil
	case EngineFuelRate:
		if err := need(2); err != nil {
			return 0, err
		}
		return ab() / 20, nil
	case EngineSpeed:
		if err := need(2); err != nil {
			return 0, err
		}
		return ab() / 4, nil
	case RunTime:
		if err := need(2); err != nil {
			return 0, err
		}
		return ab(), nil
	case VehicleSpeed:
		if err := need(1); err != nil {
			return 0, err
		}
		return a(), nil
	case ThrottlePosition, FuelTankLevel, RelativeThrottlePosition:
		if err := need(1); err != nil {
			return 0, err
		}
		return a() / 2.55, nil
	case Odometer:
		if err := need(4); err != nil {
			return 0, err
		}
		raw := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		return float64(raw) / 10, nil
	case ShortTermFuelTrimBank1, LongTermFuelTrimBank1:
		if err := need(1); err != nil {
			return 0, err
		}
		return a()/1.28 - 100, nil
	default:
		return 0, fmt.Errorf("%w %s", ErrUnsupportedPID, pid)
	}
}

// SupportedPIDs expands a 4-byte support bitmap returned for base (0x00, 0x20, ...).
// Bit 7 of the first byte is PID base+1.
func SupportedPIDs(base PID, data []byte) ([]PID, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: support bitmap needs 4 bytes, got %d", ErrMalformed, len(data))
	}
	var out []PID
	for i := 0; i < 32; i++ {
		if data[i/8]&(0x80>>(i%8)) != 0 {
			out = append(out, base+PID(i+1))
		}
	}
	return out, nil
}
