package telemetry

import "time"

const (
	// StoichiometricAFR is the air/fuel mass ratio of gasoline at complete combustion.
	StoichiometricAFR = 14.7
	// FuelDensity is the density of gasoline in g/L.
	FuelDensity = 740.0
)

// UsageLPH estimates fuel consumption in liters per hour from the mass air flow (g/s) and the
// bank 1 fuel trims (%). A trim sum of -100% or below yields 0.
func UsageLPH(maf, stft, ltft float64) float64 {
	afr := StoichiometricAFR * (1 + (stft+ltft)/100)
	if afr <= 0 {
		return 0
	}
	return maf * 3600 / (afr * FuelDensity)
}

// FuelIntegrator accumulates liters used while the engine runs. The clock starts with the
// first successful air flow reading so a bridge powered before the engine does not count the
// idle time.
type FuelIntegrator struct {
	liters  float64
	usage   float64
	running bool
	last    time.Time
}

// Start begins a run at now. Accumulated liters are kept.
func (f *FuelIntegrator) Start(now time.Time) {
	f.running = true
	f.last = now
}

// Stop ends the run; the next sample needs a new Start.
func (f *FuelIntegrator) Stop() {
	f.running = false
	f.usage = 0
	f.last = time.Time{}
}

func (f *FuelIntegrator) Running() bool {
	return f.running
}

// Add integrates usage over the time since the previous sample and returns the total.
func (f *FuelIntegrator) Add(maf, stft, ltft float64, now time.Time) float64 {
	if !f.running {
		return f.liters
	}
	f.usage = UsageLPH(maf, stft, ltft)
	if dt := now.Sub(f.last); dt > 0 {
		f.liters += f.usage / 3600 * dt.Seconds()
	}
	f.last = now
	return f.liters
}

// Liters returns the accumulated total.
func (f *FuelIntegrator) Liters() float64 {
	return f.liters
}

// UsageLPH returns the consumption computed by the last sample.
func (f *FuelIntegrator) UsageLPH() float64 {
	return f.usage
}
