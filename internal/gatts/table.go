package gatts

import (
	"bytes"
	"fmt"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ----------------------------
// Runtime attribute table
// ----------------------------

// RuntimeCharacteristic is a characteristic the stack has created.
type RuntimeCharacteristic struct {
	UUID   ble.UUID
	Handle Handle
	CCCD   Handle // 0 until the configuration descriptor is added
	Value  []byte

	maxLen        int
	perms         Permission
	subscriptions map[ConnID]uint16
}

// RuntimeService is a service the stack has created.
type RuntimeService struct {
	UUID            ble.UUID
	Handle          Handle
	Characteristics []*RuntimeCharacteristic
}

// table maps schema entries to stack handles. Services keep creation order.
type table struct {
	services *orderedmap.OrderedMap[Handle, *RuntimeService]
	values   map[Handle]*RuntimeCharacteristic
	cccds    map[Handle]*RuntimeCharacteristic
}

func newTable() *table {
	return &table{
		services: orderedmap.New[Handle, *RuntimeService](),
		values:   make(map[Handle]*RuntimeCharacteristic),
		cccds:    make(map[Handle]*RuntimeCharacteristic),
	}
}

func (t *table) addService(uuid ble.UUID, h Handle) (*RuntimeService, error) {
	if _, exists := t.services.Get(h); exists {
		return nil, fmt.Errorf("service handle 0x%04x already assigned", uint16(h))
	}
	svc := &RuntimeService{UUID: uuid, Handle: h}
	t.services.Set(h, svc)
	return svc, nil
}

func (t *table) service(h Handle) (*RuntimeService, bool) {
	return t.services.Get(h)
}

func (t *table) addCharacteristic(svc *RuntimeService, decl CharacteristicDescriptor, h Handle) (*RuntimeCharacteristic, error) {
	if _, exists := t.values[h]; exists {
		return nil, fmt.Errorf("attribute handle 0x%04x already assigned", uint16(h))
	}
	ch := &RuntimeCharacteristic{
		UUID:          decl.UUID,
		Handle:        h,
		Value:         bytes.Clone(decl.Value),
		maxLen:        decl.MaxLen,
		perms:         decl.Permissions,
		subscriptions: make(map[ConnID]uint16),
	}
	svc.Characteristics = append(svc.Characteristics, ch)
	t.values[h] = ch
	return ch, nil
}

// attachCCCD binds a configuration descriptor to the first characteristic of the service
// that does not have one yet. Descriptors are requested in characteristic order.
func (t *table) attachCCCD(svc *RuntimeService, h Handle) (*RuntimeCharacteristic, error) {
	for _, ch := range svc.Characteristics {
		if ch.CCCD == 0 {
			ch.CCCD = h
			t.cccds[h] = ch
			return ch, nil
		}
	}
	return nil, fmt.Errorf("no characteristic of service 0x%04x awaits a configuration descriptor", uint16(svc.Handle))
}

func (t *table) byUUID(uuid ble.UUID) *RuntimeCharacteristic {
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		for _, ch := range pair.Value.Characteristics {
			if ch.UUID.Equal(uuid) {
				return ch
			}
		}
	}
	return nil
}

func (t *table) byHandle(h Handle) (*RuntimeCharacteristic, bool) {
	ch, ok := t.values[h]
	return ch, ok
}

func (t *table) byCCCD(h Handle) (*RuntimeCharacteristic, bool) {
	ch, ok := t.cccds[h]
	return ch, ok
}

// complete reports whether n characteristics exist and all have a configuration descriptor.
func (t *table) complete(n int) bool {
	if len(t.values) != n {
		return false
	}
	return len(t.cccds) == n
}

// dropSubscriptions forgets the configuration written by a departed link.
func (t *table) dropSubscriptions(conn ConnID) {
	for _, ch := range t.values {
		delete(ch.subscriptions, conn)
	}
}

// snapshot returns deep copies of the runtime services in creation order.
func (t *table) snapshot() []RuntimeService {
	out := make([]RuntimeService, 0, t.services.Len())
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		svc := RuntimeService{UUID: pair.Value.UUID, Handle: pair.Value.Handle}
		for _, ch := range pair.Value.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &RuntimeCharacteristic{
				UUID:   ch.UUID,
				Handle: ch.Handle,
				CCCD:   ch.CCCD,
				Value:  bytes.Clone(ch.Value),
				maxLen: ch.maxLen,
				perms:  ch.perms,
			})
		}
		out = append(out, svc)
	}
	return out
}
