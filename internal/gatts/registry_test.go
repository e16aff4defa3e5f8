package gatts

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("bounded and ordered", func(t *testing.T) {
		r := newRegistry(2)

		assert.True(t, r.add(Connection{Peer: ble.NewAddr("11:11:11:11:11:11"), ConnID: 0}))
		assert.True(t, r.add(Connection{Peer: ble.NewAddr("22:22:22:22:22:22"), ConnID: 1}))
		assert.False(t, r.add(Connection{Peer: ble.NewAddr("33:33:33:33:33:33"), ConnID: 2}), "MUST refuse past the bound")

		conns := r.snapshot()
		require.Len(t, conns, 2)
		assert.Equal(t, ConnID(0), conns[0].ConnID, "MUST keep connection order")
		assert.Equal(t, ConnID(1), conns[1].ConnID)
	})

	t.Run("peer identity ignores case", func(t *testing.T) {
		r := newRegistry(4)

		require.True(t, r.add(Connection{Peer: ble.NewAddr("AA:BB:CC:DD:EE:FF"), ConnID: 0}))
		assert.False(t, r.add(Connection{Peer: ble.NewAddr("aa:bb:cc:dd:ee:ff"), ConnID: 1}), "MUST refuse a duplicate peer")
		assert.True(t, r.contains(ble.NewAddr("aa:bb:cc:dd:ee:ff")))

		conn, ok := r.remove(ble.NewAddr("Aa:Bb:Cc:Dd:Ee:Ff"))
		require.True(t, ok)
		assert.Equal(t, ConnID(0), conn.ConnID)
		assert.Zero(t, r.len())

		_, ok = r.remove(ble.NewAddr("aa:bb:cc:dd:ee:ff"))
		assert.False(t, ok, "MUST report an unknown peer")
	})
}

func TestTable(t *testing.T) {
	tbl := newTable()
	decl := CharacteristicDescriptor{UUID: ble.UUID16(0x2a19), Permissions: PermRead, MaxLen: 4, Value: []byte{1}}

	svc, err := tbl.addService(ble.UUID16(0x180f), 0x28)
	require.NoError(t, err)
	_, err = tbl.addService(ble.UUID16(0x180d), 0x28)
	assert.Error(t, err, "MUST refuse a reused service handle")

	ch, err := tbl.addCharacteristic(svc, decl, 0x2a)
	require.NoError(t, err)
	decl.Value[0] = 9
	assert.Equal(t, []byte{1}, ch.Value, "MUST copy the declared value")

	_, err = tbl.addCharacteristic(svc, decl, 0x2a)
	assert.Error(t, err, "MUST refuse a reused attribute handle")

	assert.False(t, tbl.complete(1), "MUST not be complete before the descriptor exists")
	_, err = tbl.attachCCCD(svc, 0x2b)
	require.NoError(t, err)
	assert.True(t, tbl.complete(1))
	_, err = tbl.attachCCCD(svc, 0x2c)
	assert.Error(t, err, "MUST refuse a descriptor nobody awaits")

	found, ok := tbl.byCCCD(0x2b)
	require.True(t, ok)
	assert.Same(t, ch, found)
	assert.Same(t, ch, tbl.byUUID(ble.UUID16(0x2a19)))
	assert.Nil(t, tbl.byUUID(ble.UUID16(0x2a20)))

	snap := tbl.snapshot()
	snap[0].Characteristics[0].Value[0] = 42
	assert.Equal(t, byte(1), ch.Value[0], "snapshot MUST not alias live values")
}
