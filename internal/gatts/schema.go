package gatts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Permission is the access permission set of an attribute.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
)

func (p Permission) Read() bool {
	return p&PermRead != 0
}

func (p Permission) Write() bool {
	return p&PermWrite != 0
}

func (p Permission) String() string {
	var parts []string
	if p.Read() {
		parts = append(parts, "read")
	}
	if p.Write() {
		parts = append(parts, "write")
	}
	return strings.Join(parts, ",")
}

// ParsePermissions parses a comma-separated permission list such as "read,write".
func ParsePermissions(s string) (Permission, error) {
	var p Permission
	for _, item := range splitList(s) {
		switch item {
		case "read":
			p |= PermRead
		case "write":
			p |= PermWrite
		default:
			return 0, fmt.Errorf("unknown permission %q", item)
		}
	}
	return p, nil
}

var propertyNames = []struct {
	name string
	prop ble.Property
}{
	{"broadcast", ble.CharBroadcast},
	{"read", ble.CharRead},
	{"write-without-response", ble.CharWriteNR},
	{"write", ble.CharWrite},
	{"notify", ble.CharNotify},
	{"indicate", ble.CharIndicate},
}

// ParseProperties parses a comma-separated property list such as "read,indicate".
func ParseProperties(s string) (ble.Property, error) {
	var p ble.Property
	for _, item := range splitList(s) {
		found := false
		for _, pn := range propertyNames {
			if pn.name == item {
				p |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown property %q", item)
		}
	}
	return p, nil
}

// FormatProperties renders a property set the way ParseProperties reads it.
func FormatProperties(p ble.Property) string {
	var parts []string
	for _, pn := range propertyNames {
		if p&pn.prop != 0 {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, ",")
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// CharacteristicDescriptor declares one characteristic of a service.
type CharacteristicDescriptor struct {
	UUID        ble.UUID
	Permissions Permission
	Properties  ble.Property
	MaxLen      int
	Value       []byte
}

// ServiceDescriptor declares one service and its characteristics in creation order.
type ServiceDescriptor struct {
	UUID            ble.UUID
	Primary         bool
	Characteristics []CharacteristicDescriptor
}

// numHandles is the handle budget the stack needs for the service: the service declaration,
// then a declaration, a value and a configuration descriptor per characteristic.
func (s ServiceDescriptor) numHandles() uint16 {
	return uint16(1 + 3*len(s.Characteristics))
}

// AppearanceHID is the appearance advertised by default (generic human interface device).
const AppearanceHID uint16 = 0x03C0

// ServerConfiguration is the immutable schema the server materializes.
type ServerConfiguration struct {
	Name       string
	Appearance uint16
	Services   []ServiceDescriptor
}

var (
	ErrNoPrimaryService        = errors.New("no primary service")
	ErrMultiplePrimaryServices = errors.New("more than one primary service")
)

// Validate checks the schema before any stack call is made.
func (c ServerConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("device name is required")
	}

	primaries := 0
	seen := make(map[string]string)
	for i, svc := range c.Services {
		if len(svc.UUID) == 0 {
			return fmt.Errorf("service at index %d has no UUID", i)
		}
		if svc.Primary {
			primaries++
		}
		for j, ch := range svc.Characteristics {
			if len(ch.UUID) == 0 {
				return fmt.Errorf("characteristic at index %d of service %s has no UUID", j, svc.UUID)
			}
			if owner, dup := seen[ch.UUID.String()]; dup {
				return fmt.Errorf("characteristic %s declared twice (services %s and %s)", ch.UUID, owner, svc.UUID)
			}
			seen[ch.UUID.String()] = svc.UUID.String()
			if ch.MaxLen <= 0 {
				return fmt.Errorf("characteristic %s: max length must be positive", ch.UUID)
			}
			if len(ch.Value) > ch.MaxLen {
				return fmt.Errorf("characteristic %s: initial value is %d bytes, max length is %d", ch.UUID, len(ch.Value), ch.MaxLen)
			}
		}
	}

	switch {
	case primaries == 0:
		return ErrNoPrimaryService
	case primaries > 1:
		return ErrMultiplePrimaryServices
	}
	return nil
}

// PrimaryService returns the service flagged primary.
func (c ServerConfiguration) PrimaryService() (ServiceDescriptor, bool) {
	for _, svc := range c.Services {
		if svc.Primary {
			return svc, true
		}
	}
	return ServiceDescriptor{}, false
}

// Characteristic looks up a characteristic declaration by UUID.
func (c ServerConfiguration) Characteristic(uuid ble.UUID) (CharacteristicDescriptor, bool) {
	for _, svc := range c.Services {
		for _, ch := range svc.Characteristics {
			if ch.UUID.Equal(uuid) {
				return ch, true
			}
		}
	}
	return CharacteristicDescriptor{}, false
}

// servicesFor returns the declarations whose UUID matches.
func (c ServerConfiguration) servicesFor(uuid ble.UUID) []ServiceDescriptor {
	var out []ServiceDescriptor
	for _, svc := range c.Services {
		if svc.UUID.Equal(uuid) {
			out = append(out, svc)
		}
	}
	return out
}

func (c ServerConfiguration) characteristicCount() int {
	n := 0
	for _, svc := range c.Services {
		n += len(svc.Characteristics)
	}
	return n
}
