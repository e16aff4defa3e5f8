package obd

import "fmt"

// DTC is a two-byte diagnostic trouble code as carried in mode 03 replies.
type DTC uint16

var dtcSystems = [4]byte{'P', 'C', 'B', 'U'}

// String renders the code in its standard form, e.g. P0133.
func (d DTC) String() string {
	system := dtcSystems[d>>14]
	return fmt.Sprintf("%c%d%03X", system, (d>>12)&0x3, uint16(d)&0x0FFF)
}

// ParseDTCs decodes pairs of code bytes. Zero padding pairs are skipped and a trailing odd
// byte is ignored.
func ParseDTCs(payload []byte) []DTC {
	var out []DTC
	for i := 0; i+1 < len(payload); i += 2 {
		code := DTC(uint16(payload[i])<<8 | uint16(payload[i+1]))
		if code == 0 {
			continue
		}
		out = append(out, code)
	}
	return out
}
