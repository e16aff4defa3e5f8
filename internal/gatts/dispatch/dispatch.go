// Package dispatch delivers stack events to subscribers from a single goroutine.
//
// Stack implementations raise events from inside API calls, and the attribute server calls
// the stack while holding its own lock, so events are never delivered synchronously: they go
// through a ring and a named dispatcher goroutine delivers them in order. Events that do not
// fit in the ring spill into a backlog; none is ever dropped while the dispatcher lives.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/groutine"
)

// DefaultQueueSize is the ring capacity used when none is given.
const DefaultQueueSize uint32 = 1024

type event struct {
	gap   gatts.GapEvent
	intf  gatts.Interface
	gatts gatts.GattsEvent
}

// Dispatcher queues events and delivers them to subscribers in order
type Dispatcher struct {
	logger *logrus.Logger
	queue  mpmc.RingBuffer[event]
	wake   chan struct{}

	// qmu orders producers against the backlog swap. While backlog is non-empty every new
	// event goes there, so delivery order matches raise order.
	qmu     sync.Mutex
	backlog []event
	spilled uint64

	mu        sync.Mutex
	gapSubs   []func(gatts.GapEvent)
	gattsSubs []func(gatts.Interface, gatts.GattsEvent)
	running   bool
	stop      context.CancelFunc
	done      chan struct{}
}

// New creates a stopped dispatcher. Events raised before Start are kept until it runs.
func New(size uint32, logger *logrus.Logger) *Dispatcher {
	if size == 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		logger: logger,
		queue:  mpmc.New[event](size),
		wake:   make(chan struct{}, 1),
	}
}

func (d *Dispatcher) SubscribeGap(handler func(gatts.GapEvent)) error {
	if handler == nil {
		return fmt.Errorf("nil GAP handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gapSubs = append(d.gapSubs, handler)
	return nil
}

func (d *Dispatcher) SubscribeGatts(handler func(gatts.Interface, gatts.GattsEvent)) error {
	if handler == nil {
		return fmt.Errorf("nil GATTS handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gattsSubs = append(d.gattsSubs, handler)
	return nil
}

// Start runs the dispatcher goroutine under name until ctx ends or Stop is called.
func (d *Dispatcher) Start(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher %s already running", name)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.running = true
	d.stop = cancel
	d.done = done

	groutine.Go(ctx, name, func(ctx context.Context) {
		defer close(done)
		d.run(ctx)
	})
	// deliver anything raised before Start
	d.signal()
	return nil
}

// Stop ends the dispatcher and waits for it. Undelivered events are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	stop()
	<-done
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}

		if !d.drain(ctx) {
			return
		}
	}
}

// drain delivers the ring, then the backlog, until both are empty. It reports false once ctx ends.
func (d *Dispatcher) drain(ctx context.Context) bool {
	for {
		for !d.queue.IsEmpty() {
			ev, err := d.queue.Dequeue()
			if err != nil {
				break
			}
			d.deliver(ev)
			if ctx.Err() != nil {
				return false
			}
		}

		d.qmu.Lock()
		batch := d.backlog
		d.backlog = nil
		d.qmu.Unlock()
		if len(batch) == 0 {
			return true
		}
		for _, ev := range batch {
			d.deliver(ev)
			if ctx.Err() != nil {
				return false
			}
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.Lock()
	gapSubs := append([]func(gatts.GapEvent){}, d.gapSubs...)
	gattsSubs := append([]func(gatts.Interface, gatts.GattsEvent){}, d.gattsSubs...)
	d.mu.Unlock()

	if ev.gap != nil {
		for _, h := range gapSubs {
			h(ev.gap)
		}
		return
	}
	for _, h := range gattsSubs {
		h(ev.intf, ev.gatts)
	}
}

// EmitGap queues an advertising event.
func (d *Dispatcher) EmitGap(ev gatts.GapEvent) {
	d.enqueue(event{gap: ev})
}

// EmitGatts queues an attribute-server event for intf.
func (d *Dispatcher) EmitGatts(intf gatts.Interface, ev gatts.GattsEvent) {
	d.enqueue(event{intf: intf, gatts: ev})
}

func (d *Dispatcher) enqueue(ev event) {
	d.qmu.Lock()
	if len(d.backlog) == 0 {
		err := d.queue.Enqueue(ev)
		if err == nil {
			d.qmu.Unlock()
			d.signal()
			return
		}
		if !errors.Is(err, mpmc.ErrQueueFull) {
			d.logger.WithError(err).Warn("Stack event ring refused event, using backlog")
		}
	}
	d.backlog = append(d.backlog, ev)
	d.spilled++
	first := len(d.backlog) == 1
	d.qmu.Unlock()

	if first {
		d.logger.WithField("capacity", d.queue.Cap()).Warn("Stack event ring full, spilling to backlog")
	}
	d.signal()
}

// Spilled returns how many events went through the backlog because the ring was full.
func (d *Dispatcher) Spilled() uint64 {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return d.spilled
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
