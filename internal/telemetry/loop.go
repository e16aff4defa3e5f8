// Package telemetry turns OBD-II readings into fuel usage published over the attribute server.
//
// Each tick the Loop queries the mass air flow, refreshes the fuel trims at their own rates,
// integrates consumption and indicates the running total to subscribed peers.
package telemetry

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/obd"
)

const (
	DefaultShortTrimPeriod = 200 * time.Millisecond
	DefaultLongTrimPeriod  = time.Second
	// DefaultQueryGap is the pause after each bus exchange.
	DefaultQueryGap = 50 * time.Millisecond
)

// Querier reads the vehicle.
type Querier interface {
	Query(ctx context.Context, pid obd.PID) (obd.Reading, error)
	ReadDTCs(ctx context.Context) ([]obd.DTC, error)
}

// Publisher pushes characteristic values to peers.
type Publisher interface {
	Indicate(ctx context.Context, uuid ble.UUID, value []byte) error
}

// Config configures a Loop.
type Config struct {
	FuelUUID     ble.UUID
	SnapshotUUID ble.UUID // optional
	SessionID    string
	RunCount     uint64

	ShortTrimPeriod time.Duration
	LongTrimPeriod  time.Duration
	QueryGap        time.Duration

	// Extra PIDs sampled once per tick into the snapshot, e.g. engine speed.
	Extra []obd.PID

	Logger *logrus.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error

	// OnDTCs receives the trouble codes read at every engine start.
	OnDTCs func(codes []obd.DTC)
}

// Stats counts loop activity.
type Stats struct {
	Ticks          int
	Published      int
	PublishErrors  int
	AirFlowMisses  int
	EngineStarts   int
	SnapshotErrors int
}

// Loop is the sampling and publishing state machine.
type Loop struct {
	q   Querier
	pub Publisher
	cfg Config

	logger *logrus.Logger

	fuel     FuelIntegrator
	readings *Readings
	stft     float64
	ltft     float64
	stftAt   time.Time
	ltftAt   time.Time
	stats    Stats
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func NewLoop(q Querier, pub Publisher, cfg Config) (*Loop, error) {
	if q == nil || pub == nil {
		return nil, errors.New("querier and publisher are required")
	}
	if len(cfg.FuelUUID) == 0 {
		return nil, errors.New("fuel usage characteristic UUID is required")
	}
	if cfg.ShortTrimPeriod <= 0 {
		cfg.ShortTrimPeriod = DefaultShortTrimPeriod
	}
	if cfg.LongTrimPeriod <= 0 {
		cfg.LongTrimPeriod = DefaultLongTrimPeriod
	}
	if cfg.QueryGap < 0 {
		cfg.QueryGap = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &Loop{
		q:        q,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		readings: NewReadings(),
	}, nil
}

// Run ticks until ctx ends. Only setup failures of the attribute server end it early.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.WithField("session", l.cfg.SessionID).Info("Telemetry loop started")
	defer l.logger.WithField("liters", l.fuel.Liters()).Info("Telemetry loop stopped")

	for {
		if err := l.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Tick runs one sampling round and publishes the total.
func (l *Loop) Tick(ctx context.Context) error {
	l.stats.Ticks++
	now := l.cfg.Now()

	if l.fuel.Running() && now.Sub(l.stftAt) > l.cfg.ShortTrimPeriod {
		if r, ok := l.sample(ctx, obd.ShortTermFuelTrimBank1); ok {
			l.stft = r.Value
			l.stftAt = now
			l.logger.WithField("stft", l.stft).Debug("Updated short term fuel trim")
			if err := l.pause(ctx); err != nil {
				return err
			}
			now = l.cfg.Now()
		}
	}

	if l.fuel.Running() && now.Sub(l.ltftAt) > l.cfg.LongTrimPeriod {
		if r, ok := l.sample(ctx, obd.LongTermFuelTrimBank1); ok {
			l.ltft = r.Value
			l.ltftAt = now
			l.logger.WithField("ltft", l.ltft).Debug("Updated long term fuel trim")
			if err := l.pause(ctx); err != nil {
				return err
			}
		}
	}

	maf, mafOK := l.sample(ctx, obd.MassAirFlow)
	if err := l.pause(ctx); err != nil {
		return err
	}
	now = l.cfg.Now()

	switch {
	case mafOK:
		if !l.fuel.Running() {
			l.engineStarted(ctx, now)
			now = l.cfg.Now()
		}
		l.fuel.Add(maf.Value, l.stft, l.ltft, now)
	case l.fuel.Running():
		l.logger.Info("Air flow readings stopped, engine assumed off")
		l.fuel.Stop()
		l.stftAt, l.ltftAt = time.Time{}, time.Time{}
	}

	for _, pid := range l.cfg.Extra {
		l.sample(ctx, pid)
	}

	return l.publish(ctx, now)
}

func (l *Loop) engineStarted(ctx context.Context, now time.Time) {
	l.stats.EngineStarts++
	l.fuel.Start(now)
	l.logger.Info("Air flow readings started, engine running")

	codes, err := l.q.ReadDTCs(ctx)
	if err != nil {
		l.logger.WithError(err).Error("Couldn't read DTC")
	} else {
		l.logger.WithField("codes", codes).Info("Read DTC codes")
		if l.cfg.OnDTCs != nil {
			l.cfg.OnDTCs(codes)
		}
	}
	_ = l.pause(ctx)
}

func (l *Loop) sample(ctx context.Context, pid obd.PID) (obd.Reading, bool) {
	r, err := l.q.Query(ctx, pid)
	if err != nil {
		if pid == obd.MassAirFlow {
			l.stats.AirFlowMisses++
		}
		l.logger.WithError(err).WithField("pid", pid.String()).Debug("Query failed")
		return obd.Reading{}, false
	}
	l.readings.Put(r)
	return r, true
}

func (l *Loop) publish(ctx context.Context, now time.Time) error {
	err := l.pub.Indicate(ctx, l.cfg.FuelUUID, Float64LE(l.fuel.Liters()))
	if err := l.checkPublish(ctx, "fuel usage", err); err != nil {
		return err
	}

	if len(l.cfg.SnapshotUUID) == 0 {
		return nil
	}
	data, err := MarshalSnapshot(l.Snapshot(now))
	if err != nil {
		l.stats.SnapshotErrors++
		l.logger.WithError(err).Warn("Failed to encode snapshot")
		return nil
	}
	err = l.pub.Indicate(ctx, l.cfg.SnapshotUUID, data)
	return l.checkPublish(ctx, "snapshot", err)
}

// checkPublish keeps the loop alive across transport trouble; only a failed server is fatal.
func (l *Loop) checkPublish(ctx context.Context, what string, err error) error {
	switch {
	case err == nil:
		l.stats.Published++
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case gatts.IsSetupError(err):
		return err
	default:
		l.stats.PublishErrors++
		l.logger.WithError(err).Warnf("Failed to publish %s", what)
		return nil
	}
}

func (l *Loop) pause(ctx context.Context) error {
	if l.cfg.QueryGap == 0 {
		return ctx.Err()
	}
	return l.cfg.Sleep(ctx, l.cfg.QueryGap)
}

// Snapshot captures the current totals and cached readings.
func (l *Loop) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Session:  l.cfg.SessionID,
		RunCount: l.cfg.RunCount,
		Liters:   l.fuel.Liters(),
		UsageLPH: l.fuel.UsageLPH(),
		Running:  l.fuel.Running(),
		At:       now,
	}
	for _, r := range l.readings.All() {
		if s.Readings == nil {
			s.Readings = make(map[uint8]float64)
		}
		s.Readings[uint8(r.PID)] = r.Value
	}
	return s
}

func (l *Loop) Liters() float64 {
	return l.fuel.Liters()
}

func (l *Loop) Readings() *Readings {
	return l.readings
}

// Stats is not synchronized with Run; read it once Run has returned.
func (l *Loop) Stats() Stats {
	return l.stats
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
