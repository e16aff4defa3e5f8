package obd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/canbus"
)

const (
	// DefaultTimeout bounds each request/reply exchange.
	DefaultTimeout = 100 * time.Millisecond
)

// ErrNoReply reports that no matching reply arrived before the timeout.
var ErrNoReply = errors.New("no reply from vehicle")

// Reading is a decoded mode 01 value.
type Reading struct {
	PID   PID
	Value float64
	Unit  string
	Raw   []byte
	At    time.Time
}

func (r Reading) String() string {
	return fmt.Sprintf("%s=%.2f%s", r.PID, r.Value, r.Unit)
}

// Options configures a Driver.
type Options struct {
	Timeout time.Duration
	Logger  *logrus.Logger
	Now     func() time.Time
}

// Driver exchanges single-frame requests with the vehicle over a CAN bus. A Driver is not
// safe for concurrent use; replies are matched to the one outstanding request.
type Driver struct {
	bus     canbus.Bus
	timeout time.Duration
	logger  *logrus.Logger
	now     func() time.Time
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func NewDriver(bus canbus.Bus, opts *Options) *Driver {
	d := &Driver{
		bus:     bus,
		timeout: DefaultTimeout,
		logger:  noopLogger,
		now:     time.Now,
	}
	if opts != nil {
		if opts.Timeout > 0 {
			d.timeout = opts.Timeout
		}
		if opts.Logger != nil {
			d.logger = opts.Logger
		}
		if opts.Now != nil {
			d.now = opts.Now
		}
	}
	return d
}

// Query reads one mode 01 PID and converts it.
func (d *Driver) Query(ctx context.Context, pid PID) (Reading, error) {
	data, err := d.QueryRaw(ctx, pid)
	if err != nil {
		return Reading{}, err
	}
	v, err := Decode(pid, data)
	if err != nil {
		d.logger.WithField("pid", pid.String()).Errorf("Undecodable reply data % X", data)
		return Reading{}, err
	}
	return Reading{PID: pid, Value: v, Unit: pid.Unit(), Raw: data, At: d.now()}, nil
}

// QueryRaw reads one mode 01 PID and returns its data bytes.
func (d *Driver) QueryRaw(ctx context.Context, pid PID) ([]byte, error) {
	body, err := d.exchange(ctx, Request{Mode: ModeCurrentData, PIDs: []PID{pid}}, func(body []byte) bool {
		return len(body) >= 1 && body[0] == byte(pid)
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", pid, err)
	}
	data := body[1:]
	if len(data) == 0 {
		return nil, fmt.Errorf("query %s: %w: empty data", pid, ErrMalformed)
	}
	d.logger.WithField("pid", pid.String()).Debugf("Reply data % X", data)
	return data, nil
}

// ReadDTCs returns the stored trouble codes.
func (d *Driver) ReadDTCs(ctx context.Context) ([]DTC, error) {
	body, err := d.exchange(ctx, Request{Mode: ModeStoredDTC}, nil)
	if err != nil {
		return nil, fmt.Errorf("read DTCs: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("read DTCs: %w: missing code count", ErrMalformed)
	}
	count := int(body[0])
	codes := ParseDTCs(body[1:])
	if len(codes) > count {
		codes = codes[:count]
	}
	return codes, nil
}

// ClearDTCs erases stored trouble codes and freeze frames.
func (d *Driver) ClearDTCs(ctx context.Context) error {
	if _, err := d.exchange(ctx, Request{Mode: ModeClearDTC}, nil); err != nil {
		return fmt.Errorf("clear DTCs: %w", err)
	}
	return nil
}

// exchange sends req and returns the bytes after the mode byte of the first reply that
// carries the positive mode and satisfies match. Unrelated frames are skipped.
func (d *Driver) exchange(ctx context.Context, req Request, match func(body []byte) bool) ([]byte, error) {
	msg, err := req.Assemble()
	if err != nil {
		return nil, err
	}
	frame, err := canbus.NewFrame(canbus.RequestID, msg[:])
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.bus.Send(ctx, frame); err != nil {
		return nil, err
	}
	d.logger.WithField("frame", frame.String()).Trace("Request sent")

	for {
		rx, err := d.bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return nil, ErrNoReply
			}
			return nil, err
		}
		payload := rx.Payload()
		if len(payload) < 2 || int(payload[0]) < 1 || int(payload[0]) > len(payload)-1 {
			d.logger.WithField("frame", rx.String()).Warn("Picked up a malformed frame")
			continue
		}
		if payload[1] != req.Mode.ReplyMode() {
			d.logger.WithField("frame", rx.String()).Debug("Picked up the wrong packet")
			continue
		}
		body := payload[2 : 1+int(payload[0])]
		if match != nil && !match(body) {
			d.logger.WithField("frame", rx.String()).Debug("Picked up a reply to another request")
			continue
		}
		return body, nil
	}
}
