package telemetry

import (
	"sort"

	"github.com/cornelk/hashmap"
	"github.com/srg/otgi/internal/obd"
)

// Readings holds the latest reading per PID. It is safe for concurrent use.
type Readings struct {
	m *hashmap.Map[obd.PID, obd.Reading]
}

func NewReadings() *Readings {
	return &Readings{m: hashmap.New[obd.PID, obd.Reading]()}
}

func (r *Readings) Put(reading obd.Reading) {
	r.m.Set(reading.PID, reading)
}

func (r *Readings) Get(pid obd.PID) (obd.Reading, bool) {
	return r.m.Get(pid)
}

// Value returns the cached value of pid, or def when none was read.
func (r *Readings) Value(pid obd.PID, def float64) float64 {
	if reading, ok := r.m.Get(pid); ok {
		return reading.Value
	}
	return def
}

func (r *Readings) Forget(pid obd.PID) {
	r.m.Del(pid)
}

func (r *Readings) Len() int {
	return r.m.Len()
}

// All returns the cached readings ordered by PID.
func (r *Readings) All() []obd.Reading {
	out := make([]obd.Reading, 0, r.m.Len())
	r.m.Range(func(_ obd.PID, reading obd.Reading) bool {
		out = append(out, reading)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
