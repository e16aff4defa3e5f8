package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEncoding(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	in := Snapshot{
		Session:  "0b6f1a52-4c1e-4f7a-9d7e-3a2b1c0d9e8f",
		RunCount: 12,
		Liters:   1.25,
		UsageLPH: 3.5,
		Running:  true,
		Readings: map[uint8]float64{0x0C: 1726, 0x10: 5, 0x06: -1.5625},
		At:       at,
	}

	data, err := MarshalSnapshot(in)
	require.NoError(t, err)
	assert.Less(t, len(data), 200, "a snapshot MUST fit the characteristic")

	again, err := MarshalSnapshot(in)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding MUST be deterministic")

	out, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, in.Session, out.Session)
	assert.Equal(t, in.RunCount, out.RunCount)
	assert.Equal(t, in.Liters, out.Liters)
	assert.Equal(t, in.UsageLPH, out.UsageLPH)
	assert.True(t, out.Running)
	assert.Equal(t, in.Readings, out.Readings)
	assert.True(t, in.At.Equal(out.At), "got %s", out.At)
}

func TestWireValues(t *testing.T) {
	assert.Equal(t, []byte{7, 0, 0, 0, 0, 0, 0, 0}, Uint64LE(7))
	assert.Equal(t, math.Float64bits(1.5), leUint64(Float64LE(1.5)))
	assert.Equal(t, make([]byte, 8), Float64LE(0))
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
