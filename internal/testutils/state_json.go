package testutils

import (
	"encoding/json"
	"strings"

	"github.com/srg/otgi/internal/gatts"
)

type StateJSON struct {
	Interface   int              `json:"interface"`
	Registered  bool             `json:"registered"`
	InFlight    *string          `json:"in_flight"`
	Connections []ConnectionJSON `json:"connections"`
	Services    []ServiceJSON    `json:"services"`
}

type ConnectionJSON struct {
	Peer   string `json:"peer"`
	ConnID int    `json:"conn_id"`
}

type ServiceJSON struct {
	UUID            string               `json:"uuid"`
	Handle          int                  `json:"handle"`
	Characteristics []CharacteristicJSON `json:"characteristics"`
}

type CharacteristicJSON struct {
	UUID   string `json:"uuid"`
	Handle int    `json:"handle"`
	CCCD   int    `json:"cccd"`
	Value  []int  `json:"value"`
}

// StateToJSON renders a server snapshot. Values become int arrays to avoid base64.
func StateToJSON(st gatts.State) string {
	out := StateJSON{
		Interface:   int(st.Interface),
		Registered:  st.Registered,
		Connections: []ConnectionJSON{},
		Services:    []ServiceJSON{},
	}
	if st.InFlight != nil {
		peer := strings.ToLower(st.InFlight.String())
		out.InFlight = &peer
	}
	for _, c := range st.Connections {
		out.Connections = append(out.Connections, ConnectionJSON{
			Peer:   strings.ToLower(c.Peer.String()),
			ConnID: int(c.ConnID),
		})
	}
	for _, svc := range st.Services {
		sj := ServiceJSON{
			UUID:            svc.UUID.String(),
			Handle:          int(svc.Handle),
			Characteristics: []CharacteristicJSON{},
		}
		for _, ch := range svc.Characteristics {
			value := make([]int, len(ch.Value))
			for i, b := range ch.Value {
				value[i] = int(b)
			}
			sj.Characteristics = append(sj.Characteristics, CharacteristicJSON{
				UUID:   ch.UUID.String(),
				Handle: int(ch.Handle),
				CCCD:   int(ch.CCCD),
				Value:  value,
			})
		}
		out.Services = append(out.Services, sj)
	}

	b, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return string(b)
}
