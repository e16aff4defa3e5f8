// Package goble adapts a go-ble peripheral device to the event-driven gatts stack contract.
//
// go-ble builds the attribute database from whole services and answers requests through
// per-characteristic handlers. The adapter stages services as they are created, publishes each
// one once it is started and every declared handle has been allocated, and turns handler
// invocations into stack events. Handles are synthesized by
// the adapter; the radio's own ATT handles are not exposed by go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/gatts/dispatch"
	"github.com/srg/otgi/internal/groutine"
)

const (
	firstHandle    gatts.Handle    = 0x28
	adapterIntf    gatts.Interface = 3
	defaultTimeout                 = 5 * time.Second
)

var (
	ErrNoSubscription = errors.New("peer has not subscribed to the characteristic")
	ErrNoApp          = errors.New("no application registered")
)

// Options configures the adapter
type Options struct {
	Logger *logrus.Logger

	// ResponseTimeout bounds how long a read or write handler waits for SendResponse.
	ResponseTimeout time.Duration
}

// stagedService collects a service until its handle budget is spent. go-ble builds the
// attribute database inside AddService, so the service is handed over only when complete.
type stagedService struct {
	id        gatts.ServiceID
	svc       *ble.Service
	next      gatts.Handle
	end       gatts.Handle
	started   bool
	published bool
}

// link is a central the adapter has seen.
type link struct {
	conn      gatts.ConnID
	addr      ble.Addr
	announced bool
	notifiers map[gatts.Handle]ble.Notifier
}

// Stack drives a ble.Device. It implements gatts.GAP; Attributes returns the gatts.GATTS view.
type Stack struct {
	dev     ble.Device
	logger  *logrus.Logger
	timeout time.Duration
	events  *dispatch.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	app        *gatts.AppID
	name       string
	adv        *gatts.AdvConfiguration
	nextHandle gatts.Handle
	services   map[gatts.Handle]*stagedService
	links      map[string]*link
	nextConn   gatts.ConnID
	nextTrans  gatts.TransID
	pending    map[gatts.TransID]chan response
}

type response struct {
	status gatts.Status
	value  []byte
}

// New wraps dev. Pass a nil dev to create one with DeviceFactory.
func New(dev ble.Device, opts *Options) (*Stack, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = defaultTimeout
	}
	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
	}

	if dev == nil {
		var err error
		if dev, err = DeviceFactory(); err != nil {
			return nil, fmt.Errorf("failed to open BLE device: %w", err)
		}
	}

	return &Stack{
		dev:        dev,
		logger:     logger,
		timeout:    o.ResponseTimeout,
		events:     dispatch.New(0, logger),
		nextHandle: firstHandle,
		services:   make(map[gatts.Handle]*stagedService),
		links:      make(map[string]*link),
		nextTrans:  1,
		pending:    make(map[gatts.TransID]chan response),
	}, nil
}

// Start runs the event dispatcher. Advertising runs under ctx as well.
func (s *Stack) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	ctx = s.ctx
	s.mu.Unlock()
	return s.events.Start(ctx, "gatts-goble-dispatch")
}

// Stop stops advertising, the dispatcher and the device.
func (s *Stack) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.events.Stop()
	return s.dev.Stop()
}

func (s *Stack) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// ----------------------------
// GAP
// ----------------------------

func (s *Stack) Subscribe(handler func(gatts.GapEvent)) error {
	return s.events.SubscribeGap(handler)
}

func (s *Stack) SetDeviceName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return nil
}

// ConfigureAdvertising keeps the payload for StartAdvertising. go-ble advertises the name and
// service list only; appearance and flags are set by the host.
func (s *Stack) ConfigureAdvertising(conf gatts.AdvConfiguration) error {
	s.mu.Lock()
	c := conf
	s.adv = &c
	s.mu.Unlock()
	s.events.EmitGap(gatts.AdvertisingConfigured{Status: gatts.StatusOK})
	return nil
}

func (s *Stack) StartAdvertising() error {
	s.mu.Lock()
	adv, name := s.adv, s.name
	s.mu.Unlock()
	if adv == nil {
		return fmt.Errorf("advertising payload not configured")
	}

	var uuids []ble.UUID
	if len(adv.ServiceUUID) > 0 {
		uuids = append(uuids, adv.ServiceUUID)
	}

	groutine.Go(s.context(), "gatts-goble-advertise", func(ctx context.Context) {
		err := s.dev.AdvertiseNameAndServices(ctx, name, uuids...)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("Advertising stopped")
		}
	})
	s.events.EmitGap(gatts.AdvertisingStarted{Status: gatts.StatusOK})
	return nil
}

// SetConnParams is accepted and logged; go-ble leaves connection parameters to the central.
func (s *Stack) SetConnParams(peer ble.Addr, params gatts.ConnParams) error {
	s.logger.WithFields(logrus.Fields{
		"peer":         peer.String(),
		"min_interval": params.MinInterval,
		"max_interval": params.MaxInterval,
		"timeout":      params.Timeout,
	}).Debug("Connection parameter update not supported by host, ignoring")
	return nil
}
