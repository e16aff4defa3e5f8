package config

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
)

// Characteristic roles the telemetry loop publishes to.
const (
	RoleFuelUsage = "fuel_usage"
	RoleRunCount  = "run_count"
	RoleSnapshot  = "snapshot"
)

// Initial value encodings.
const (
	EncodingHex   = "hex"
	EncodingU64LE = "u64le"
	EncodingF64LE = "f64le"
	EncodingText  = "text"
)

// SchemaConfig is the YAML form of the attribute schema.
type SchemaConfig struct {
	Name       string          `yaml:"name" json:"name"`
	Appearance uint16          `yaml:"appearance,omitempty" json:"appearance,omitempty"`
	Services   []ServiceSchema `yaml:"services" json:"services"`
}

type ServiceSchema struct {
	UUID            string                 `yaml:"uuid" json:"uuid"`
	Primary         bool                   `yaml:"primary" json:"primary"`
	Characteristics []CharacteristicSchema `yaml:"characteristics" json:"characteristics"`
}

type CharacteristicSchema struct {
	Role        string `yaml:"role,omitempty" json:"role,omitempty"`
	UUID        string `yaml:"uuid" json:"uuid"`
	Permissions string `yaml:"permissions" json:"permissions"` // e.g. "read,write"
	Properties  string `yaml:"properties" json:"properties"`   // e.g. "indicate,read"
	MaxLen      int    `yaml:"max_len" json:"max_len"`
	Encoding    string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	Value       string `yaml:"value,omitempty" json:"value,omitempty"`
}

// DefaultSchema is the firmware schema: one primary service carrying the fuel usage total and
// the boot counter, both 8-byte little-endian values pushed by indication.
func DefaultSchema() SchemaConfig {
	return SchemaConfig{
		Name: "OTGI",
		Services: []ServiceSchema{{
			UUID:    "2cbc6002-370f-577a-9286-81e04f368400",
			Primary: true,
			Characteristics: []CharacteristicSchema{
				{
					Role:        RoleFuelUsage,
					UUID:        "56c46fef-9039-0803-a71f-eebcc8650e43",
					Permissions: "read,write",
					Properties:  "indicate",
					MaxLen:      200,
					Encoding:    EncodingF64LE,
					Value:       "0",
				},
				{
					Role:        RoleRunCount,
					UUID:        "ed0cdaa9-fc55-c2c1-93a0-61b6e1f36720",
					Permissions: "read,write",
					Properties:  "indicate,read",
					MaxLen:      200,
					Encoding:    EncodingU64LE,
					Value:       "0",
				},
			},
		}},
	}
}

// RoleUUID finds the characteristic bound to role.
func (s SchemaConfig) RoleUUID(role string) (ble.UUID, bool) {
	for _, svc := range s.Services {
		for _, ch := range svc.Characteristics {
			if ch.Role == role {
				u, err := ble.Parse(ch.UUID)
				if err != nil {
					return nil, false
				}
				return u, true
			}
		}
	}
	return nil, false
}

// ServerConfiguration converts the schema. Values in initial, keyed by role, replace the
// configured initial values.
func (s SchemaConfig) ServerConfiguration(initial map[string][]byte) (gatts.ServerConfiguration, error) {
	cfg := gatts.ServerConfiguration{Name: s.Name, Appearance: s.Appearance}
	roles := make(map[string]string)

	for i, svc := range s.Services {
		uuid, err := ble.Parse(svc.UUID)
		if err != nil {
			return cfg, fmt.Errorf("schema service %d: invalid UUID %q: %w", i, svc.UUID, err)
		}
		sd := gatts.ServiceDescriptor{UUID: uuid, Primary: svc.Primary}

		for j, ch := range svc.Characteristics {
			cd, err := ch.descriptor()
			if err != nil {
				return cfg, fmt.Errorf("schema service %s characteristic %d: %w", svc.UUID, j, err)
			}
			if ch.Role != "" {
				if err := checkRole(ch.Role); err != nil {
					return cfg, fmt.Errorf("schema characteristic %s: %w", ch.UUID, err)
				}
				if other, dup := roles[ch.Role]; dup {
					return cfg, fmt.Errorf("schema role %s bound twice (%s and %s)", ch.Role, other, ch.UUID)
				}
				roles[ch.Role] = ch.UUID
				if v, ok := initial[ch.Role]; ok {
					cd.Value = append([]byte(nil), v...)
				}
			}
			sd.Characteristics = append(sd.Characteristics, cd)
		}
		cfg.Services = append(cfg.Services, sd)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid schema: %w", err)
	}
	return cfg, nil
}

func checkRole(role string) error {
	switch role {
	case RoleFuelUsage, RoleRunCount, RoleSnapshot:
		return nil
	default:
		return fmt.Errorf("unknown role %q", role)
	}
}

func (c CharacteristicSchema) descriptor() (gatts.CharacteristicDescriptor, error) {
	uuid, err := ble.Parse(c.UUID)
	if err != nil {
		return gatts.CharacteristicDescriptor{}, fmt.Errorf("invalid UUID %q: %w", c.UUID, err)
	}
	perms, err := gatts.ParsePermissions(c.Permissions)
	if err != nil {
		return gatts.CharacteristicDescriptor{}, err
	}
	props, err := gatts.ParseProperties(c.Properties)
	if err != nil {
		return gatts.CharacteristicDescriptor{}, err
	}
	value, err := EncodeValue(c.Encoding, c.Value)
	if err != nil {
		return gatts.CharacteristicDescriptor{}, fmt.Errorf("%s: %w", c.UUID, err)
	}
	return gatts.CharacteristicDescriptor{
		UUID:        uuid,
		Permissions: perms,
		Properties:  props,
		MaxLen:      c.MaxLen,
		Value:       value,
	}, nil
}

// EncodeValue converts a configured initial value. An empty encoding means hex.
func EncodeValue(encoding, value string) ([]byte, error) {
	switch encoding {
	case "", EncodingHex:
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimPrefix(value, "0x"), " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex value %q: %w", value, err)
		}
		return b, nil
	case EncodingU64LE:
		v, err := strconv.ParseUint(orZero(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid u64 value %q: %w", value, err)
		}
		return binary.LittleEndian.AppendUint64(nil, v), nil
	case EncodingF64LE:
		v, err := strconv.ParseFloat(orZero(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid f64 value %q: %w", value, err)
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)), nil
	case EncodingText:
		return []byte(value), nil
	default:
		return nil, fmt.Errorf("unknown value encoding %q", encoding)
	}
}

func orZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return strings.TrimSpace(s)
}
