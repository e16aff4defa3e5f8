package testutils

import (
	"encoding/json"
	"fmt"

	blelib "github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
)

// CharacteristicConfig is the JSON form of a characteristic declaration
type CharacteristicConfig struct {
	UUID        string `json:"uuid"`
	Permissions string `json:"permissions,omitempty"` // e.g., "read,write"
	Properties  string `json:"properties,omitempty"`  // e.g., "read,indicate"
	MaxLen      int    `json:"max_len,omitempty"`
	Value       []byte `json:"value,omitempty"`
}

// UnmarshalJSON accepts values as a byte array ([1,2,3]) instead of base64.
func (c *CharacteristicConfig) UnmarshalJSON(data []byte) error {
	type plain CharacteristicConfig
	aux := struct {
		*plain
		Value []int `json:"value,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Value != nil {
		c.Value = make([]byte, len(aux.Value))
		for i, v := range aux.Value {
			c.Value[i] = byte(v)
		}
	}
	return nil
}

// ServiceConfig is the JSON form of a service declaration
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Primary         bool                   `json:"primary,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// SchemaConfig is the JSON form of a server configuration
type SchemaConfig struct {
	Name     string          `json:"name"`
	Services []ServiceConfig `json:"services"`
}

// SchemaBuilder builds gatts.ServerConfiguration values for tests
type SchemaBuilder struct {
	schema SchemaConfig
}

// NewSchemaBuilder creates a new schema builder
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{
		schema: SchemaConfig{
			Services: []ServiceConfig{},
		},
	}
}

// WithName sets the advertised device name
func (b *SchemaBuilder) WithName(name string) *SchemaBuilder {
	b.schema.Name = name
	return b
}

// WithService adds a service; characteristics added next belong to it
func (b *SchemaBuilder) WithService(uuid string, primary bool) *SchemaBuilder {
	b.schema.Services = append(b.schema.Services, ServiceConfig{
		UUID:            uuid,
		Primary:         primary,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *SchemaBuilder) WithCharacteristic(uuid, permissions, properties string, maxLen int, value []byte) *SchemaBuilder {
	if len(b.schema.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.schema.Services) - 1
	b.schema.Services[last].Characteristics = append(b.schema.Services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Permissions: permissions,
		Properties:  properties,
		MaxLen:      maxLen,
		Value:       value,
	})
	return b
}

// FromJSON replaces the schema with the decoded JSON
func (b *SchemaBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *SchemaBuilder {
	jsonStr := jsonStrFmt
	if len(args) > 0 {
		jsonStr = fmt.Sprintf(jsonStrFmt, args...)
	}

	var config SchemaConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("SchemaBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.schema = config
	return b
}

// Build converts the schema. It panics on malformed UUIDs or flag lists; validation of the
// result is left to the server.
func (b *SchemaBuilder) Build() gatts.ServerConfiguration {
	cfg := gatts.ServerConfiguration{Name: b.schema.Name}
	for _, svc := range b.schema.Services {
		sd := gatts.ServiceDescriptor{
			UUID:    blelib.MustParse(svc.UUID),
			Primary: svc.Primary,
		}
		for _, ch := range svc.Characteristics {
			perms, err := gatts.ParsePermissions(ch.Permissions)
			if err != nil {
				panic(fmt.Sprintf("SchemaBuilder.Build: %v", err))
			}
			props, err := gatts.ParseProperties(ch.Properties)
			if err != nil {
				panic(fmt.Sprintf("SchemaBuilder.Build: %v", err))
			}
			sd.Characteristics = append(sd.Characteristics, gatts.CharacteristicDescriptor{
				UUID:        blelib.MustParse(ch.UUID),
				Permissions: perms,
				Properties:  props,
				MaxLen:      ch.MaxLen,
				Value:       ch.Value,
			})
		}
		cfg.Services = append(cfg.Services, sd)
	}
	return cfg
}
