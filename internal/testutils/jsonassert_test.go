package testutils

import (
	"fmt"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingT captures failures instead of failing the enclosing test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).Options()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.NilToEmptyArray)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.False(t, opts.IgnoreArrayOrder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical",
			actual:   `{"handle": 42, "cccd": 45}`,
			expected: `{"handle": 42, "cccd": 45}`,
			match:    true,
		},
		{
			name:     "different value",
			actual:   `{"handle": 42}`,
			expected: `{"handle": 44}`,
		},
		{
			name:     "extra actual keys are ignored",
			actual:   `{"handle": 42, "cccd": 45, "value": [1]}`,
			expected: `{"handle": 42}`,
			match:    true,
		},
		{
			name:     "extra actual keys fail when not ignored",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"handle": 42, "cccd": 45}`,
			expected: `{"handle": 42}`,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"in_flight": "11:22:33:44:55:66"}`,
			expected: `{"in_flight": "<<PRESENCE>>"}`,
			match:    true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"registered": true}`,
			expected: `{"in_flight": "<<PRESENCE>>"}`,
		},
		{
			name:     "presence placeholder disabled",
			opts:     []Option{WithAllowPresencePlaceholder(false)},
			actual:   `{"in_flight": "11:22:33:44:55:66"}`,
			expected: `{"in_flight": "<<PRESENCE>>"}`,
		},
		{
			name:     "null equals empty array",
			actual:   `{"connections": null}`,
			expected: `{"connections": []}`,
			match:    true,
		},
		{
			name:     "null does not equal a filled array",
			actual:   `{"connections": null}`,
			expected: `{"connections": [{"conn_id": 0}]}`,
		},
		{
			name:     "null kept distinct when normalization is off",
			opts:     []Option{WithNilToEmptyArray(false)},
			actual:   `{"connections": null}`,
			expected: `{"connections": []}`,
		},
		{
			name:     "array order matters by default",
			actual:   `{"connections": [{"conn_id": 1}, {"conn_id": 0}]}`,
			expected: `{"connections": [{"conn_id": 0}, {"conn_id": 1}]}`,
		},
		{
			name:     "array order ignored",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `{"connections": [{"conn_id": 1}, {"conn_id": 0}]}`,
			expected: `{"connections": [{"conn_id": 0}, {"conn_id": 1}]}`,
			match:    true,
		},
		{
			name:     "ignored fields do not affect ordering",
			opts:     []Option{WithIgnoreArrayOrder(true), WithIgnoredFields("at")},
			actual:   `[{"value": [1], "at": 9}, {"value": [2], "at": 1}]`,
			expected: `[{"value": [2], "at": 0}, {"value": [1], "at": 0}]`,
			match:    true,
		},
		{
			name:     "root arrays",
			actual:   `[1, 2, 3]`,
			expected: `[1, 2, 4]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.Diff(`{"a": 1}`, `{"a":`), "invalid expected JSON")
	assert.Contains(t, ja.Diff(`{"a":`, `{"a": 1}`), "invalid actual JSON")
}

func TestJSONAsserter_AssertReportsDiff(t *testing.T) {
	rec := &recordingT{}
	ok := NewJSONAsserter(rec).Assert(`{"handle": 42}`, `{"handle": 44}`)

	assert.False(t, ok)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "JSON assertion failed")
	assert.Contains(t, rec.errors[0], "44")
}

func TestJSONAsserter_AssertState(t *testing.T) {
	peer := ble.NewAddr("11:22:33:44:55:66")
	st := gatts.State{
		Interface:   3,
		Registered:  true,
		InFlight:    peer,
		Connections: []gatts.Connection{{Peer: peer, ConnID: 0}},
		Services: []gatts.RuntimeService{{
			UUID:   ble.MustParse("2cbc6002370f577a928681e04f368400"),
			Handle: 0x28,
			Characteristics: []*gatts.RuntimeCharacteristic{{
				UUID:   ble.MustParse("56c46fef90390803a71feebcc8650e43"),
				Handle: 0x2a,
				CCCD:   0x2d,
				Value:  []byte{1, 2},
			}},
		}},
	}

	rec := &recordingT{}
	ok := NewJSONAsserter(rec).AssertState(st, `{
		"interface": 3,
		"in_flight": "11:22:33:44:55:66",
		"connections": [{"peer": "11:22:33:44:55:66", "conn_id": 0}],
		"services": [{
			"handle": 40,
			"characteristics": [{"handle": 42, "cccd": 45, "value": [1, 2]}]
		}]
	}`)

	assert.True(t, ok, "state MUST match: %v", rec.errors)
	assert.Empty(t, rec.errors)
}
