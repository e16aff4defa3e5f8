//go:build test

package testutils

import (
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/stretchr/testify/suite"
)

// GattsServerSuite provides a reusable test suite around a gatts.Server wired to a MockStack.
//
// Basic usage (telemetry schema, fully materialized before each test):
//
//	type PublisherSuite struct {
//	    testutils.GattsServerSuite
//	}
//
//	func TestPublisherSuite(t *testing.T) {
//	    suite.Run(t, new(PublisherSuite))
//	}
//
// Custom schema or stack usage:
//
//	func (s *SetupSuite) SetupTest() {
//	    s.WithSchema().FromJSON(`{"name": "X", "services": [...]}`)
//	    s.WithStack().FailOn("CreateService", errors.New("no memory"))
//	    s.Manual = true // leave setup events to the test
//
//	    s.GattsServerSuite.SetupTest() // Call parent last to apply configuration
//	}
//
// Faults raised by the server are collected instead of terminating the test binary.
type GattsServerSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	TestTimeout time.Duration
	Manual      bool            // skip Start and Materialize in SetupTest
	Options     *gatts.Options  // server options, defaults when nil

	SchemaBuilder *SchemaBuilder
	StackBuilder  *MockStackBuilder

	Stack  *MockStack
	Server *gatts.Server

	faultsMu sync.Mutex
	faults   []error
}

// SetupSuite is called once before all tests in the suite.
func (s *GattsServerSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second

	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the stack and the server, then starts and materializes it unless Manual.
func (s *GattsServerSuite) SetupTest() {
	if s.SchemaBuilder == nil {
		s.SchemaBuilder = CreateSchemaFromJSON(TelemetrySchemaJSON)
	}
	if s.StackBuilder == nil {
		s.StackBuilder = NewMockStackBuilder(s.T())
	}

	opts := gatts.DefaultOptions()
	if s.Options != nil {
		o := *s.Options
		opts = &o
	}
	opts.Logger = s.Logger
	opts.OnFault = s.recordFault

	s.faultsMu.Lock()
	s.faults = nil
	s.faultsMu.Unlock()

	s.Stack = s.StackBuilder.Build()
	server, err := gatts.NewServer(s.Stack.GAP, s.Stack.GATTS, s.SchemaBuilder.Build(), opts)
	s.Require().NoError(err, "server MUST be created from the test schema")
	s.Server = server

	if !s.Manual {
		s.Require().NoError(s.Server.Start(), "server MUST start")
		s.Stack.Materialize()
		s.requireReady()
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets per-test configuration.
func (s *GattsServerSuite) TearDownTest() {
	s.Reset()
}

// Reset drops the schema, stack and options configuration and the recorded faults.
// Call it before reconfiguring and calling SetupTest again inside a test.
func (s *GattsServerSuite) Reset() {
	s.SchemaBuilder = nil
	s.StackBuilder = nil
	s.Options = nil
	s.Manual = false

	s.faultsMu.Lock()
	s.faults = nil
	s.faultsMu.Unlock()
}

// WithSchema returns the schema builder for configuration in SetupTest.
func (s *GattsServerSuite) WithSchema() *SchemaBuilder {
	if s.SchemaBuilder == nil {
		s.SchemaBuilder = NewSchemaBuilder()
	}
	return s.SchemaBuilder
}

// WithStack returns the stack builder for configuration in SetupTest.
func (s *GattsServerSuite) WithStack() *MockStackBuilder {
	if s.StackBuilder == nil {
		s.StackBuilder = NewMockStackBuilder(s.T())
	}
	return s.StackBuilder
}

// Faults returns the setup failures and invariant violations raised so far.
func (s *GattsServerSuite) Faults() []error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return append([]error(nil), s.faults...)
}

// Characteristic returns the runtime entry for uuid, failing the test if it does not exist.
func (s *GattsServerSuite) Characteristic(uuid string) gatts.RuntimeCharacteristic {
	want := blelib.MustParse(uuid)
	for _, svc := range s.Server.Snapshot().Services {
		for _, ch := range svc.Characteristics {
			if ch.UUID.Equal(want) {
				return *ch
			}
		}
	}
	s.FailNow("characteristic not materialized", uuid)
	return gatts.RuntimeCharacteristic{}
}

func (s *GattsServerSuite) recordFault(err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.Logger.WithError(err).Debug("Fault recorded")
	s.faults = append(s.faults, err)
}

func (s *GattsServerSuite) requireReady() {
	select {
	case <-s.Server.Ready():
	case <-time.After(s.TestTimeout):
		s.FailNow("server MUST become ready after materialization")
	}
}
