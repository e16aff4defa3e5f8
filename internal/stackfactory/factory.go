package stackfactory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/gatts/goble"
	"github.com/srg/otgi/internal/gatts/sim"
)

const (
	KindSim = "sim"
	KindBLE = "ble"
)

// Stack is a radio stack the attribute server can run on
type Stack struct {
	Kind  string
	GAP   gatts.GAP
	GATTS gatts.GATTS

	// Sim is set for the simulated stack so callers can attach peers.
	Sim *sim.Stack

	start func(ctx context.Context) error
	stop  func() error
}

// Start runs the stack's event delivery.
func (s *Stack) Start(ctx context.Context) error {
	return s.start(ctx)
}

// Stop releases the stack.
func (s *Stack) Stop() error {
	return s.stop()
}

// Options selects and tunes the stack
type Options struct {
	Kind           string
	ConfirmLatency time.Duration // simulated stack only
	Logger         *logrus.Logger
}

// StackFactory creates the stack named by opts.Kind.
// This is a variable so that it can be overridden in tests.
var StackFactory = func(opts Options) (*Stack, error) {
	switch strings.ToLower(opts.Kind) {
	case "", KindSim:
		return NewSimStack(opts), nil
	case KindBLE:
		return NewBLEStack(opts)
	default:
		return nil, fmt.Errorf("unknown stack %q (want %s or %s)", opts.Kind, KindSim, KindBLE)
	}
}

// NewSimStack creates the in-process simulated stack.
func NewSimStack(opts Options) *Stack {
	s := sim.New(&sim.Options{Logger: opts.Logger, ConfirmLatency: opts.ConfirmLatency})
	return &Stack{
		Kind:  KindSim,
		GAP:   s,
		GATTS: s.Attributes(),
		Sim:   s,
		start: s.Start,
		stop: func() error {
			s.Stop()
			return nil
		},
	}
}

// NewBLEStack opens the host radio through go-ble.
func NewBLEStack(opts Options) (*Stack, error) {
	s, err := goble.New(nil, &goble.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return &Stack{
		Kind:  KindBLE,
		GAP:   s,
		GATTS: s.Attributes(),
		start: s.Start,
		stop:  s.Stop,
	}, nil
}
