package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track event flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CreateSchema starts an empty schema builder.
func CreateSchema(name string) *SchemaBuilder {
	return NewSchemaBuilder().WithName(name)
}

// CreateSchemaFromJSON starts a schema builder from a JSON document.
func CreateSchemaFromJSON(jsonStrFmt string, args ...interface{}) *SchemaBuilder {
	return NewSchemaBuilder().FromJSON(jsonStrFmt, args...)
}

// TelemetrySchemaJSON is the two-characteristic schema used across tests: an indicate-only
// fuel usage value and a readable run counter.
const TelemetrySchemaJSON = `{
	"name": "OTGI",
	"services": [
		{
			"uuid": "2cbc6002370f577a928681e04f368400",
			"primary": true,
			"characteristics": [
				{
					"uuid": "56c46fef90390803a71feebcc8650e43",
					"permissions": "read,write",
					"properties": "indicate",
					"max_len": 200,
					"value": [0, 0, 0, 0, 0, 0, 0, 0]
				},
				{
					"uuid": "ed0cdaa9fc55c2c193a061b6e1f36720",
					"permissions": "read",
					"properties": "indicate,read",
					"max_len": 200,
					"value": [7, 0, 0, 0, 0, 0, 0, 0]
				}
			]
		}
	]
}`

// LoadFixture reads a file relative to the project root.
func LoadFixture(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	// Navigate up to find the project root (look for go.mod file)
	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	fullPath := filepath.Join(projectRoot, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}

	return string(data), nil
}
