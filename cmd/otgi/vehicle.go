package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/canbus"
	"github.com/srg/otgi/internal/groutine"
	"github.com/srg/otgi/internal/obd"
)

const loopbackInterface = "loopback"

// openBus returns the bus named by iface. "loopback" starts an in-process ECU simulating an
// idling engine on the other end. The returned close func stops everything openBus started.
func openBus(ctx context.Context, iface string, logger *logrus.Logger) (canbus.Bus, func(), error) {
	if iface != loopbackInterface {
		bus, err := canbus.Open(iface, []canbus.Filter{canbus.ResponseFilter}, logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	}

	tester, car := canbus.NewLoopback(0, logger)
	tester.SetFilters(canbus.ResponseFilter)
	car.SetFilters(canbus.RequestFilter)

	ecu := canbus.NewECU(car, logger)
	simulateEngine(ecu, 0)
	ecu.SetDTCs(0x0133)

	workers := groutine.NewGroup(ctx)
	workers.Go("ecu-sim", func(ctx context.Context) {
		if err := ecu.Serve(ctx); err != nil {
			groutine.WithLogger(ctx, logger).WithError(err).Error("ECU simulator stopped")
		}
	})
	workers.Go("ecu-sim-engine", func(ctx context.Context) {
		start := time.Now()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				simulateEngine(ecu, time.Since(start))
			}
		}
	})

	logger.Info("Using the simulated vehicle on a loopback bus")
	return tester, func() {
		_ = car.Close()
		_ = tester.Close()
		workers.Stop()
	}, nil
}

// simulateEngine loads the ECU with an engine revving gently around idle.
func simulateEngine(ecu *canbus.ECU, elapsed time.Duration) {
	phase := math.Sin(elapsed.Seconds() / 4)
	rpm := 900 + 300*phase
	mafGramsPerSec := 3.5 + 1.5*phase
	stft := 1.5 * phase
	ltft := -2.0
	throttle := 12 + 6*phase
	speed := 30 + 10*phase
	runTime := elapsed.Seconds()

	u16 := func(v float64) []byte {
		n := uint16(math.Round(v))
		return []byte{byte(n >> 8), byte(n)}
	}
	pct := func(v float64) byte { return byte(math.Round(v * 2.55)) }
	trim := func(v float64) byte { return byte(math.Round((v + 100) * 1.28)) }

	ecu.SetPID(byte(obd.SupportedPIDs1), 0x06, 0x19, 0x80, 0x03)
	ecu.SetPID(byte(obd.EngineSpeed), u16(rpm*4)...)
	ecu.SetPID(byte(obd.MassAirFlow), u16(mafGramsPerSec*100)...)
	ecu.SetPID(byte(obd.ShortTermFuelTrimBank1), trim(stft))
	ecu.SetPID(byte(obd.LongTermFuelTrimBank1), trim(ltft))
	ecu.SetPID(byte(obd.ThrottlePosition), pct(throttle))
	ecu.SetPID(byte(obd.RelativeThrottlePosition), pct(throttle*0.8))
	ecu.SetPID(byte(obd.VehicleSpeed), byte(math.Round(speed)))
	ecu.SetPID(byte(obd.RunTime), u16(runTime)...)
	ecu.SetPID(byte(obd.FuelTankLevel), pct(62))
	ecu.SetPID(byte(obd.EngineFuelRate), u16(mafGramsPerSec*3600/(14.7*740)*20)...)
	ecu.SetPID(byte(obd.Odometer), odometer(123456.7)...)
}

func odometer(km float64) []byte {
	n := uint32(math.Round(km * 10))
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// describeBus is the human name of the bus for log lines.
func describeBus(iface string) string {
	if iface == loopbackInterface {
		return "simulated vehicle (loopback)"
	}
	return fmt.Sprintf("SocketCAN %s", iface)
}
