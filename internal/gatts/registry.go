package gatts

import (
	"strings"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MaxPeers caps the configurable registry bound.
// The in-flight indication marker is global, so every extra peer serializes behind the others.
const MaxPeers = 4

// Connection is a registered peer.
type Connection struct {
	Peer   ble.Addr
	ConnID ConnID
}

// registry is the bounded set of peers that receive indications, in connection order.
type registry struct {
	limit int
	conns *orderedmap.OrderedMap[string, Connection]
}

func newRegistry(limit int) *registry {
	return &registry{
		limit: limit,
		conns: orderedmap.New[string, Connection](),
	}
}

// add registers the peer unless the bound is reached or it is already registered.
func (r *registry) add(c Connection) bool {
	if r.conns.Len() >= r.limit {
		return false
	}
	key := addrKey(c.Peer)
	if _, exists := r.conns.Get(key); exists {
		return false
	}
	r.conns.Set(key, c)
	return true
}

func (r *registry) remove(peer ble.Addr) (Connection, bool) {
	return r.conns.Delete(addrKey(peer))
}

func (r *registry) contains(peer ble.Addr) bool {
	_, ok := r.conns.Get(addrKey(peer))
	return ok
}

func (r *registry) len() int {
	return r.conns.Len()
}

func (r *registry) snapshot() []Connection {
	out := make([]Connection, 0, r.conns.Len())
	for pair := r.conns.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func normalizeAddr(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
