package obd

import "fmt"

// MaxRequestPIDs is how many PIDs fit in a single-frame request after the length and mode bytes.
const MaxRequestPIDs = 6

// Request is a single-frame diagnostic request.
type Request struct {
	Mode Mode
	PIDs []PID
}

// Assemble encodes the request as [length, mode, pids...] padded with zeros to 8 bytes.
func (r Request) Assemble() ([8]byte, error) {
	var msg [8]byte
	if len(r.PIDs) > MaxRequestPIDs {
		return msg, fmt.Errorf("request carries %d PIDs, at most %d fit in a frame", len(r.PIDs), MaxRequestPIDs)
	}
	msg[0] = byte(len(r.PIDs) + 1)
	msg[1] = byte(r.Mode)
	for i, p := range r.PIDs {
		msg[2+i] = byte(p)
	}
	return msg, nil
}
