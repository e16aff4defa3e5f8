package canbus

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// DefaultLoopbackFrames is the per-endpoint queue depth used when none is given.
const DefaultLoopbackFrames = 64

// Loopback is one end of an in-process CAN link. Frames sent on one end are queued,
// encoded as can_frame records, in the other end's ring.
type Loopback struct {
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	in      *ringbuffer.RingBuffer
	filters []Filter
	peer    *Loopback

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Bus = (*Loopback)(nil)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// NewLoopback creates a connected pair of endpoints, each able to queue frames frames.
func NewLoopback(frames int, logger *logrus.Logger) (*Loopback, *Loopback) {
	if frames <= 0 {
		frames = DefaultLoopbackFrames
	}
	if logger == nil {
		logger = noopLogger
	}
	a := newEndpoint("loopback-a", frames, logger)
	b := newEndpoint("loopback-b", frames, logger)
	a.peer, b.peer = b, a
	return a, b
}

func newEndpoint(name string, frames int, logger *logrus.Logger) *Loopback {
	return &Loopback{
		name:   name,
		logger: logger,
		in:     ringbuffer.New(frames * FrameSize),
		notify: make(chan struct{}, 1), // buffered so the signal never blocks
		closed: make(chan struct{}),
	}
}

// SetFilters replaces the receive filters of this endpoint.
func (l *Loopback) SetFilters(filters ...Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters = append([]Filter(nil), filters...)
}

// Send queues f on the peer. A full peer queue drops the frame with ErrBufferFull, the way a
// controller drops frames nobody acknowledges.
func (l *Loopback) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.isClosed() || l.peer.isClosed() {
		return ErrClosed
	}
	buf, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	p := l.peer
	p.mu.Lock()
	if p.in.Free() < FrameSize {
		p.mu.Unlock()
		l.logger.WithField("frame", f.String()).Warnf("[%s] peer queue full, frame dropped", l.name)
		return ErrBufferFull
	}
	_, err = p.in.Write(buf)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case p.notify <- struct{}{}:
	default:
		// signal already pending
	}
	l.logger.WithField("frame", f.String()).Tracef("[%s] sent", l.name)
	return nil
}

// Receive blocks until a frame passing the filters arrives, ctx ends or the endpoint closes.
func (l *Loopback) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, FrameSize)
	for {
		f, ok, err := l.next(buf)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-l.closed:
			return Frame{}, ErrClosed
		case <-l.notify:
		}
	}
}

// next pops queued frames until one passes the filters or the queue is empty.
func (l *Loopback) next(buf []byte) (Frame, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.in.Length() >= FrameSize {
		if _, err := l.in.TryRead(buf); err != nil {
			return Frame{}, false, err
		}
		var f Frame
		if err := f.UnmarshalBinary(buf); err != nil {
			return Frame{}, false, err
		}
		if Accept(l.filters, f.ID) {
			return f, true, nil
		}
		l.logger.WithField("frame", f.String()).Tracef("[%s] filtered out", l.name)
	}
	return Frame{}, false, nil
}

// Close wakes pending receivers. Frames still queued are discarded.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

func (l *Loopback) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}
