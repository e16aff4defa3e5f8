package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/obd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fuelUUID     = ble.MustParse("56c46fef90390803a71feebcc8650e43")
	snapshotUUID = ble.MustParse("a3f9c2d40b7e4e51b6a8d1c0e2f43a17")
)

type fakeVehicle struct {
	mu      sync.Mutex
	values  map[obd.PID]float64
	queries []obd.PID
	dtcs    []obd.DTC
	dtcErr  error
	dtcRead int
}

func newFakeVehicle() *fakeVehicle {
	return &fakeVehicle{values: make(map[obd.PID]float64)}
}

func (v *fakeVehicle) set(pid obd.PID, value float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[pid] = value
}

func (v *fakeVehicle) unset(pid obd.PID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, pid)
}

func (v *fakeVehicle) Query(_ context.Context, pid obd.PID) (obd.Reading, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries = append(v.queries, pid)
	value, ok := v.values[pid]
	if !ok {
		return obd.Reading{}, obd.ErrNoReply
	}
	return obd.Reading{PID: pid, Value: value, Unit: pid.Unit()}, nil
}

func (v *fakeVehicle) ReadDTCs(context.Context) ([]obd.DTC, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dtcRead++
	return v.dtcs, v.dtcErr
}

func (v *fakeVehicle) takeQueries() []obd.PID {
	v.mu.Lock()
	defer v.mu.Unlock()
	q := v.queries
	v.queries = nil
	return q
}

type indication struct {
	uuid  ble.UUID
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []indication
	err  error
	hook func(n int)
}

func (p *fakePublisher) Indicate(_ context.Context, uuid ble.UUID, value []byte) error {
	p.mu.Lock()
	p.sent = append(p.sent, indication{uuid: uuid, value: append([]byte(nil), value...)})
	n, err, hook := len(p.sent), p.err, p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return err
}

func (p *fakePublisher) last(uuid ble.UUID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.sent) - 1; i >= 0; i-- {
		if p.sent[i].uuid.Equal(uuid) {
			return p.sent[i].value
		}
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func liters(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

type loopHarness struct {
	vehicle *fakeVehicle
	pub     *fakePublisher
	clock   *fakeClock
	loop    *Loop
}

func newLoopHarness(t *testing.T, mutate func(cfg *Config)) *loopHarness {
	t.Helper()
	h := &loopHarness{
		vehicle: newFakeVehicle(),
		pub:     &fakePublisher{},
		clock:   &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
	}
	cfg := Config{
		FuelUUID:  fuelUUID,
		SessionID: "session-1",
		RunCount:  3,
		Now:       h.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	loop, err := NewLoop(h.vehicle, h.pub, cfg)
	require.NoError(t, err)
	h.loop = loop
	return h
}

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop(nil, &fakePublisher{}, Config{FuelUUID: fuelUUID})
	assert.Error(t, err)

	_, err = NewLoop(newFakeVehicle(), &fakePublisher{}, Config{})
	assert.ErrorContains(t, err, "UUID is required")
}

func TestLoop_EngineOff(t *testing.T) {
	h := newLoopHarness(t, nil)

	require.NoError(t, h.loop.Tick(t.Context()))
	require.NoError(t, h.loop.Tick(t.Context()))

	assert.Equal(t, []obd.PID{obd.MassAirFlow, obd.MassAirFlow}, h.vehicle.takeQueries(),
		"trims MUST NOT be queried before the engine runs")
	assert.Zero(t, h.vehicle.dtcRead)
	assert.Equal(t, make([]byte, 8), h.pub.last(fuelUUID), "the total MUST still be published")
	assert.Equal(t, 2, h.loop.Stats().AirFlowMisses)
}

func TestLoop_IntegratesWhileRunning(t *testing.T) {
	h := newLoopHarness(t, nil)
	h.vehicle.set(obd.MassAirFlow, 10)
	h.vehicle.set(obd.ShortTermFuelTrimBank1, 5)
	h.vehicle.set(obd.LongTermFuelTrimBank1, 5)
	h.vehicle.dtcs = []obd.DTC{0x0133}

	var seen []obd.DTC
	h.loop.cfg.OnDTCs = func(codes []obd.DTC) { seen = codes }

	ctx := t.Context()
	require.NoError(t, h.loop.Tick(ctx))
	assert.Equal(t, []obd.PID{obd.MassAirFlow}, h.vehicle.takeQueries())
	assert.Equal(t, 1, h.vehicle.dtcRead, "DTCs MUST be read when the engine starts")
	assert.Equal(t, []obd.DTC{0x0133}, seen)
	assert.Zero(t, liters(h.pub.last(fuelUUID)))

	h.clock.Advance(time.Hour)
	require.NoError(t, h.loop.Tick(ctx))
	assert.Equal(t, []obd.PID{obd.ShortTermFuelTrimBank1, obd.LongTermFuelTrimBank1, obd.MassAirFlow},
		h.vehicle.takeQueries())
	assert.InDelta(t, UsageLPH(10, 5, 5), liters(h.pub.last(fuelUUID)), 1e-9)

	// within both trim periods only the air flow is read
	h.clock.Advance(100 * time.Millisecond)
	require.NoError(t, h.loop.Tick(ctx))
	assert.Equal(t, []obd.PID{obd.MassAirFlow}, h.vehicle.takeQueries())

	h.clock.Advance(150 * time.Millisecond)
	require.NoError(t, h.loop.Tick(ctx))
	assert.Equal(t, []obd.PID{obd.ShortTermFuelTrimBank1, obd.MassAirFlow}, h.vehicle.takeQueries(),
		"the short term trim MUST refresh faster than the long term trim")

	assert.Equal(t, 1, h.vehicle.dtcRead)
	r, ok := h.loop.Readings().Get(obd.MassAirFlow)
	require.True(t, ok)
	assert.Equal(t, 10.0, r.Value)
}

func TestLoop_EngineRestart(t *testing.T) {
	h := newLoopHarness(t, nil)
	h.vehicle.set(obd.MassAirFlow, 10)
	ctx := t.Context()

	require.NoError(t, h.loop.Tick(ctx))
	h.clock.Advance(time.Hour)
	require.NoError(t, h.loop.Tick(ctx))
	total := h.loop.Liters()
	require.InDelta(t, UsageLPH(10, 0, 0), total, 1e-9)

	h.vehicle.unset(obd.MassAirFlow)
	require.NoError(t, h.loop.Tick(ctx))
	h.clock.Advance(5 * time.Hour)
	require.NoError(t, h.loop.Tick(ctx))
	assert.Equal(t, total, h.loop.Liters(), "engine-off time MUST NOT count")

	h.vehicle.set(obd.MassAirFlow, 10)
	h.vehicle.takeQueries()
	require.NoError(t, h.loop.Tick(ctx))
	assert.Equal(t, []obd.PID{obd.MassAirFlow}, h.vehicle.takeQueries(),
		"trim timers MUST restart with the engine")
	assert.Equal(t, total, h.loop.Liters())
	assert.Equal(t, 2, h.vehicle.dtcRead)
	assert.Equal(t, 2, h.loop.Stats().EngineStarts)
}

func TestLoop_DTCFailureIsNotFatal(t *testing.T) {
	h := newLoopHarness(t, nil)
	h.vehicle.set(obd.MassAirFlow, 10)
	h.vehicle.dtcErr = obd.ErrNoReply

	require.NoError(t, h.loop.Tick(t.Context()))
	assert.True(t, h.loop.Snapshot(h.clock.Now()).Running)
}

func TestLoop_PublishFailures(t *testing.T) {
	h := newLoopHarness(t, nil)

	h.pub.err = &gatts.TransportError{Op: "indicate", Peer: "aa:bb:cc:dd:ee:ff", Err: errors.New("queue full")}
	require.NoError(t, h.loop.Tick(t.Context()), "transport errors MUST NOT stop the loop")
	assert.Equal(t, 1, h.loop.Stats().PublishErrors)

	h.pub.err = gatts.ErrNotReady
	require.NoError(t, h.loop.Tick(t.Context()))

	h.pub.err = &gatts.SetupError{Phase: "service_created", Err: errors.New("no memory")}
	err := h.loop.Tick(t.Context())
	assert.True(t, gatts.IsSetupError(err), "a failed server MUST stop the loop")
}

func TestLoop_Snapshot(t *testing.T) {
	h := newLoopHarness(t, func(cfg *Config) {
		cfg.SnapshotUUID = snapshotUUID
		cfg.Extra = []obd.PID{obd.EngineSpeed}
	})
	h.vehicle.set(obd.MassAirFlow, 10)
	h.vehicle.set(obd.EngineSpeed, 1726)

	require.NoError(t, h.loop.Tick(t.Context()))

	data := h.pub.last(snapshotUUID)
	require.NotNil(t, data)
	s, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.Session)
	assert.Equal(t, uint64(3), s.RunCount)
	assert.True(t, s.Running)
	assert.Equal(t, map[uint8]float64{0x0C: 1726, 0x10: 10}, s.Readings)
	assert.Equal(t, 2, h.loop.Stats().Published)
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	h := newLoopHarness(t, func(cfg *Config) {
		cfg.QueryGap = time.Millisecond
	})
	h.vehicle.set(obd.MassAirFlow, 10)
	h.pub.hook = func(n int) {
		h.clock.Advance(time.Second)
		if n == 5 {
			cancel()
		}
	}

	require.NoError(t, h.loop.Run(ctx))
	assert.GreaterOrEqual(t, h.loop.Stats().Ticks, 5)
	assert.Greater(t, h.loop.Liters(), 0.0)
}
