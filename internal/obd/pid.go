// Package obd implements the subset of OBD-II (SAE J1979) used by the telemetry loop:
// single-frame mode 01 queries, stored trouble codes, and the unit conversions for the
// parameters the bridge publishes.
package obd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PID is a mode 01 parameter identifier.
type PID uint8

const (
	SupportedPIDs1           PID = 0x00
	ShortTermFuelTrimBank1   PID = 0x06
	LongTermFuelTrimBank1    PID = 0x07
	EngineSpeed              PID = 0x0C
	VehicleSpeed             PID = 0x0D
	MassAirFlow              PID = 0x10
	ThrottlePosition         PID = 0x11
	RunTime                  PID = 0x1F
	SupportedPIDs2           PID = 0x20
	FuelTankLevel            PID = 0x2F
	RelativeThrottlePosition PID = 0x45
	EngineFuelRate           PID = 0x5E
	Odometer                 PID = 0xA6
)

// PIDInfo describes a parameter.
type PIDInfo struct {
	Name  string // CLI name, e.g. "engine-speed"
	Title string
	Unit  string
	Bytes int // data bytes in a reply
}

var pidTable = map[PID]PIDInfo{
	SupportedPIDs1:           {Name: "supported-01-20", Title: "PIDs supported [01-20]", Unit: "bitmap", Bytes: 4},
	ShortTermFuelTrimBank1:   {Name: "stft", Title: "Short term fuel trim, bank 1", Unit: "%", Bytes: 1},
	LongTermFuelTrimBank1:    {Name: "ltft", Title: "Long term fuel trim, bank 1", Unit: "%", Bytes: 1},
	EngineSpeed:              {Name: "engine-speed", Title: "Engine speed", Unit: "rpm", Bytes: 2},
	VehicleSpeed:             {Name: "vehicle-speed", Title: "Vehicle speed", Unit: "km/h", Bytes: 1},
	MassAirFlow:              {Name: "maf", Title: "Mass air flow rate", Unit: "g/s", Bytes: 2},
	ThrottlePosition:         {Name: "throttle", Title: "Throttle position", Unit: "%", Bytes: 1},
	RunTime:                  {Name: "run-time", Title: "Run time since engine start", Unit: "s", Bytes: 2},
	SupportedPIDs2:           {Name: "supported-21-40", Title: "PIDs supported [21-40]", Unit: "bitmap", Bytes: 4},
	FuelTankLevel:            {Name: "fuel-level", Title: "Fuel tank level input", Unit: "%", Bytes: 1},
	RelativeThrottlePosition: {Name: "relative-throttle", Title: "Relative throttle position", Unit: "%", Bytes: 1},
	EngineFuelRate:           {Name: "fuel-rate", Title: "Engine fuel rate", Unit: "L/h", Bytes: 2},
	Odometer:                 {Name: "odometer", Title: "Odometer", Unit: "km", Bytes: 4},
}

// Info returns the description of p.
func (p PID) Info() (PIDInfo, bool) {
	info, ok := pidTable[p]
	return info, ok
}

func (p PID) String() string {
	if info, ok := pidTable[p]; ok {
		return info.Name
	}
	return fmt.Sprintf("pid-0x%02X", uint8(p))
}

// Unit returns the engineering unit of p, or "" when p is unknown.
func (p PID) Unit() string {
	return pidTable[p].Unit
}

// KnownPIDs lists the described PIDs in ascending order.
func KnownPIDs() []PID {
	out := make([]PID, 0, len(pidTable))
	for p := range pidTable {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParsePID accepts a CLI name ("maf") or a hex number ("0x10", "10").
func ParsePID(s string) (PID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty PID")
	}
	for p, info := range pidTable {
		if info.Name == s {
			return p, nil
		}
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown PID %q", s)
	}
	return PID(v), nil
}

// Mode is an OBD-II service number.
type Mode uint8

const (
	ModeCurrentData Mode = 0x01
	ModeFreezeFrame Mode = 0x02
	ModeStoredDTC   Mode = 0x03
	ModeClearDTC    Mode = 0x04
)

// ReplyMode is the mode byte a positive response carries.
func (m Mode) ReplyMode() byte {
	return byte(m) + 0x40
}

func (m Mode) String() string {
	switch m {
	case ModeCurrentData:
		return "current data"
	case ModeFreezeFrame:
		return "freeze frame"
	case ModeStoredDTC:
		return "stored DTC"
	case ModeClearDTC:
		return "clear DTC"
	default:
		return fmt.Sprintf("mode 0x%02X", uint8(m))
	}
}
