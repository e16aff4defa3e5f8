package canbus

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// RequestID is the OBD-II functional broadcast address.
	RequestID uint32 = 0x7DF
	// ResponseID is the reply address of the engine control module.
	ResponseID uint32 = 0x7E8

	modeCurrentData = 0x01
	modeStoredDTC   = 0x03
	modeClearDTC    = 0x04
	replyOffset     = 0x40

	// maxDTCsPerFrame is how many two-byte codes fit after the count byte of a single frame.
	maxDTCsPerFrame = 2
)

// RequestFilter accepts only functional diagnostic requests.
var RequestFilter = Filter{ID: RequestID, Mask: SFFMask}

// ECU answers OBD-II requests from a PID table. PIDs missing from the table get no reply,
// the way a module ignores parameters it does not support.
type ECU struct {
	bus    Bus
	logger *logrus.Logger

	mu    sync.Mutex
	pids  map[uint8][]byte
	dtcs  []uint16
	stats ECUStats
}

// ECUStats counts requests seen by the simulator.
type ECUStats struct {
	Requests   int
	Replies    int
	Unanswered int
}

func NewECU(bus Bus, logger *logrus.Logger) *ECU {
	if logger == nil {
		logger = noopLogger
	}
	return &ECU{
		bus:    bus,
		logger: logger,
		pids:   make(map[uint8][]byte),
	}
}

// SetPID stores the raw data bytes returned for pid.
func (e *ECU) SetPID(pid uint8, data ...byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pids[pid] = append([]byte(nil), data...)
}

// ClearPID stops answering pid.
func (e *ECU) ClearPID(pid uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pids, pid)
}

// SetDTCs replaces the stored trouble codes.
func (e *ECU) SetDTCs(codes ...uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dtcs = append([]uint16(nil), codes...)
}

func (e *ECU) Stats() ECUStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Serve answers requests until ctx ends or the bus closes.
func (e *ECU) Serve(ctx context.Context) error {
	for {
		req, err := e.bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if req.ID != RequestID {
			continue
		}

		reply, ok := e.answer(req.Payload())
		if !ok {
			continue
		}
		f, err := NewFrame(ResponseID, reply)
		if err != nil {
			return err
		}
		if err := e.bus.Send(ctx, f); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			e.logger.WithError(err).Warn("ECU failed to send reply")
		}
	}
}

func (e *ECU) answer(req []byte) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Requests++

	if len(req) < 2 || int(req[0]) < 1 || int(req[0]) > len(req)-1 {
		e.stats.Unanswered++
		e.logger.Debugf("ECU ignoring malformed request % X", req)
		return nil, false
	}
	body := req[1 : 1+int(req[0])]
	mode := body[0]

	var reply []byte
	switch mode {
	case modeCurrentData:
		if len(body) < 2 {
			break
		}
		pid := body[1]
		data, ok := e.pids[pid]
		if !ok {
			break
		}
		n := len(data)
		if n > MaxDataLen-3 {
			n = MaxDataLen - 3
		}
		reply = append([]byte{byte(2 + n), replyOffset + mode, pid}, data[:n]...)
	case modeStoredDTC:
		codes := e.dtcs
		if len(codes) > maxDTCsPerFrame {
			codes = codes[:maxDTCsPerFrame]
		}
		reply = []byte{byte(2 + 2*len(codes)), replyOffset + mode, byte(len(codes))}
		for _, c := range codes {
			reply = append(reply, byte(c>>8), byte(c))
		}
	case modeClearDTC:
		e.dtcs = nil
		reply = []byte{1, replyOffset + mode}
	}

	if reply == nil {
		e.stats.Unanswered++
		e.logger.Debugf("ECU has no answer for % X", body)
		return nil, false
	}
	e.stats.Replies++
	return reply, true
}
