//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeoutMs bounds how long Send and Receive wait in poll before re-checking ctx.
const DefaultPollTimeoutMs = 50

// SocketCAN is a raw CAN_RAW socket bound to one interface (can0, vcan0, ...).
type SocketCAN struct {
	ifname        string
	fd            int
	logger        *logrus.Logger
	pollTimeoutMs int

	mu     sync.RWMutex
	closed bool
}

var _ Bus = (*SocketCAN)(nil)

// OpenSocketCAN binds a non-blocking raw socket to ifname. Filters are installed in the
// kernel; an empty list receives every frame.
func OpenSocketCAN(ifname string, filters []Filter, logger *logrus.Logger) (*SocketCAN, error) {
	if logger == nil {
		logger = noopLogger
	}
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("failed to find CAN interface %s: %w", ifname, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN socket: %w", err)
	}

	if len(filters) > 0 {
		kf := make([]unix.CanFilter, len(filters))
		for i, f := range filters {
			kf[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("failed to install CAN filters on %s: %w", ifname, err)
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to bind CAN socket to %s: %w", ifname, err)
	}

	logger.WithField("interface", ifname).Debug("SocketCAN bound")
	return &SocketCAN{
		ifname:        ifname,
		fd:            fd,
		logger:        logger,
		pollTimeoutMs: DefaultPollTimeoutMs,
	}, nil
}

func (s *SocketCAN) Send(ctx context.Context, f Frame) error {
	buf, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		fd, err := s.descriptor()
		if err != nil {
			return err
		}
		_, err = unix.Write(fd, buf)
		switch {
		case err == nil:
			s.logger.WithField("frame", f.String()).Tracef("[%s] sent", s.ifname)
			return nil
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.ENOBUFS):
			if err := s.wait(ctx, unix.POLLOUT); err != nil {
				return err
			}
		default:
			return fmt.Errorf("failed to write frame to %s: %w", s.ifname, err)
		}
	}
}

func (s *SocketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, FrameSize)
	for {
		fd, err := s.descriptor()
		if err != nil {
			return Frame{}, err
		}
		n, err := unix.Read(fd, buf)
		switch {
		case err == nil:
			if n < FrameSize {
				s.logger.Warnf("[%s] short read of %d bytes ignored", s.ifname, n)
				continue
			}
			var f Frame
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			if f.ID&ERRFlag != 0 {
				s.logger.WithField("frame", f.String()).Debugf("[%s] error frame ignored", s.ifname)
				continue
			}
			return f, nil
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN):
			if err := s.wait(ctx, unix.POLLIN); err != nil {
				return Frame{}, err
			}
		case errors.Is(err, syscall.EBADF):
			return Frame{}, ErrClosed
		default:
			return Frame{}, fmt.Errorf("failed to read frame from %s: %w", s.ifname, err)
		}
	}
}

// wait polls fd for events, re-checking ctx and the closed flag after every timeout.
func (s *SocketCAN) wait(ctx context.Context, events int16) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fd, err := s.descriptor()
		if err != nil {
			return err
		}
		pollFd := []unix.PollFd{{Fd: int32(fd), Events: events}}
		n, err := unix.Poll(pollFd, s.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			return fmt.Errorf("poll on %s failed: %w", s.ifname, err)
		}
		if n > 0 {
			return nil
		}
	}
}

func (s *SocketCAN) descriptor() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return -1, ErrClosed
	}
	return s.fd, nil
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// Open returns a SocketCAN bus on ifname.
func Open(ifname string, filters []Filter, logger *logrus.Logger) (Bus, error) {
	s, err := OpenSocketCAN(ifname, filters, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
