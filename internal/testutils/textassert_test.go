package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `Device: OTGI

Service 2cbc6002370f577a928681e04f368400 (primary, 7 handles)
ROLE        UUID                              PERMISSIONS  PROPERTIES
fuel_usage  56c46fef90390803a71feebcc8650e43  read,write   indicate
`

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.StripColors)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical",
			actual:   sampleTable,
			expected: sampleTable,
			match:    true,
		},
		{
			name:     "tabwriter padding",
			actual:   "ROLE  UUID  \nfuel  56c4\n",
			expected: "ROLE  UUID\nfuel  56c4",
			match:    true,
		},
		{
			name:     "trailing padding significant",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(false), WithTrimSpace(false)},
			actual:   "ROLE  UUID  \n",
			expected: "ROLE  UUID\n",
		},
		{
			name:     "colors stripped",
			actual:   "Device: \x1b[1mOTGI\x1b[0m\n",
			expected: "Device: OTGI",
			match:    true,
		},
		{
			name:     "colors kept",
			opts:     []TextOption{WithStripColors(false)},
			actual:   "Device: \x1b[1mOTGI\x1b[0m",
			expected: "Device: OTGI",
		},
		{
			name:     "blank lines significant",
			actual:   "Device: OTGI\n\nService",
			expected: "Device: OTGI\nService",
		},
		{
			name:     "blank lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "Device: OTGI\n\nService",
			expected: "Device: OTGI\nService",
			match:    true,
		},
		{
			name:     "changed value",
			actual:   "DTC P0133",
			expected: "DTC P0134",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestTextAsserter_AssertReportsUnifiedDiff(t *testing.T) {
	rec := &recordingT{}
	ok := NewTextAsserter(rec).Assert("DTC P0133\nDTC P0420", "DTC P0133\nDTC P0171")

	assert.False(t, ok)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "--- expected")
	assert.Contains(t, rec.errors[0], "+++ actual")
	assert.Contains(t, rec.errors[0], "-DTC P0171")
	assert.Contains(t, rec.errors[0], "+DTC P0420")
}

func TestTextAsserter_ColoredDiff(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a c")

	assert.Contains(t, diff, "\x1b[")
	assert.Contains(t, diff, "a·c")
}
