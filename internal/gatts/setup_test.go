//go:build test

package gatts_test

import (
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	serviceUUID  = "2cbc6002370f577a928681e04f368400"
	fuelUUID     = "56c46fef90390803a71feebcc8650e43"
	runCountUUID = "ed0cdaa9fc55c2c193a061b6e1f36720"

	peerA = "aa:aa:aa:aa:aa:01"
	peerB = "bb:bb:bb:bb:bb:02"
)

type SetupTestSuite struct {
	testutils.GattsServerSuite
}

func TestSetupTestSuite(t *testing.T) {
	suite.Run(t, new(SetupTestSuite))
}

func (suite *SetupTestSuite) TestMaterialization() {
	// GOAL: Verify the event-driven setup creates exactly the declared attributes
	//
	// TEST SCENARIO: Start → registration, service, characteristic and descriptor events → table complete

	suite.Run("creation requests match the schema", func() {
		gattsMock := suite.Stack.GATTS

		gattsMock.AssertNumberOfCalls(suite.T(), "RegisterApp", 1)
		gattsMock.AssertNumberOfCalls(suite.T(), "CreateService", 1)
		gattsMock.AssertNumberOfCalls(suite.T(), "StartService", 1)
		gattsMock.AssertNumberOfCalls(suite.T(), "AddCharacteristic", 2)
		gattsMock.AssertNumberOfCalls(suite.T(), "AddDescriptor", 2)

		gattsMock.AssertCalled(suite.T(), "CreateService",
			suite.Stack.Interface(),
			gatts.ServiceID{UUID: ble.MustParse(serviceUUID), Primary: true},
			uint16(7))
		gattsMock.AssertCalled(suite.T(), "AddCharacteristic",
			testutils.FirstServiceHandle,
			gatts.CharacteristicDef{
				UUID:        ble.MustParse(fuelUUID),
				Permissions: gatts.PermRead | gatts.PermWrite,
				Properties:  ble.CharIndicate,
				MaxLen:      200,
				Response:    gatts.RespondByApp,
			},
			[]byte{0, 0, 0, 0, 0, 0, 0, 0})
		gattsMock.AssertCalled(suite.T(), "AddDescriptor",
			testutils.FirstServiceHandle,
			gatts.DescriptorDef{UUID: ble.ClientCharacteristicConfigUUID, Permissions: gatts.PermRead | gatts.PermWrite})
	})

	suite.Run("advertising carries name, appearance and primary service", func() {
		gapMock := suite.Stack.GAP

		gapMock.AssertCalled(suite.T(), "SetDeviceName", "OTGI")
		gapMock.AssertCalled(suite.T(), "ConfigureAdvertising", gatts.AdvConfiguration{
			IncludeName: true,
			Appearance:  gatts.AppearanceHID,
			Flags:       0x02,
			ServiceUUID: ble.MustParse(serviceUUID),
		})
		gapMock.AssertNumberOfCalls(suite.T(), "StartAdvertising", 1)
	})

	suite.Run("runtime table holds assigned handles and initial values", func() {
		ja := testutils.NewJSONAsserter(suite.T())
		ja.AssertState(suite.Server.Snapshot(), `{
			"interface": 3,
			"registered": true,
			"in_flight": null,
			"connections": [],
			"services": [
				{
					"uuid": "2cbc6002370f577a928681e04f368400",
					"handle": 40,
					"characteristics": [
						{"uuid": "56c46fef90390803a71feebcc8650e43", "handle": 42, "cccd": 45, "value": [0,0,0,0,0,0,0,0]},
						{"uuid": "ed0cdaa9fc55c2c193a061b6e1f36720", "handle": 44, "cccd": 46, "value": [7,0,0,0,0,0,0,0]}
					]
				}
			]
		}`)
		suite.Assert().Empty(suite.Faults(), "MUST not raise faults during a clean setup")
		suite.Assert().NoError(suite.Server.Err())
	})
}

func (suite *SetupTestSuite) TestMaterialization_MultipleServices() {
	// GOAL: Verify handle budgets and creation counts for a schema with a secondary service
	//
	// TEST SCENARIO: Two services with 3 and 1 characteristics → 2 services and 4 characteristics requested

	suite.SchemaBuilder = testutils.CreateSchema("Multi").
		WithService("180d", true).
		WithCharacteristic("2a37", "read", "notify", 20, nil).
		WithCharacteristic("2a38", "read", "read", 1, []byte{1}).
		WithCharacteristic("2a39", "write", "write", 1, nil).
		WithService("180f", false).
		WithCharacteristic("2a19", "read", "read,indicate", 1, []byte{50})
	suite.StackBuilder = nil
	suite.SetupTest()

	gattsMock := suite.Stack.GATTS
	gattsMock.AssertNumberOfCalls(suite.T(), "CreateService", 2)
	gattsMock.AssertNumberOfCalls(suite.T(), "AddCharacteristic", 4)
	gattsMock.AssertNumberOfCalls(suite.T(), "AddDescriptor", 4)
	gattsMock.AssertCalled(suite.T(), "CreateService", mock.Anything,
		gatts.ServiceID{UUID: ble.UUID16(0x180d), Primary: true}, uint16(10))
	gattsMock.AssertCalled(suite.T(), "CreateService", mock.Anything,
		gatts.ServiceID{UUID: ble.UUID16(0x180f), Primary: false}, uint16(4))

	services := suite.Server.Snapshot().Services
	suite.Require().Len(services, 2)
	suite.Assert().Len(services[0].Characteristics, 3)
	suite.Assert().Len(services[1].Characteristics, 1)
}

func (suite *SetupTestSuite) TestSetupFailures() {
	// GOAL: Verify setup failures are unrecoverable and reported through the fault handler
	//
	// TEST SCENARIO: Failing status or submission at a setup step → SetupError raised → no further setup calls

	suite.Run("registration status failure", func() {
		suite.Reset()
		suite.Manual = true
		suite.SetupTest()
		suite.Require().NoError(suite.Server.Start())

		suite.Stack.Gatts(gatts.ServiceRegistered{Status: gatts.StatusError, AppID: gatts.DefaultAppID})

		faults := suite.Faults()
		suite.Require().Len(faults, 1)
		var setupErr *gatts.SetupError
		suite.Require().ErrorAs(faults[0], &setupErr)
		suite.Assert().Equal("service_registered", setupErr.Phase)
		suite.Assert().Equal(gatts.StatusError, setupErr.Status)
		suite.Assert().ErrorAs(suite.Server.Err(), &setupErr, "Err MUST report the setup failure")
		suite.Stack.GATTS.AssertNotCalled(suite.T(), "CreateService", mock.Anything, mock.Anything, mock.Anything)
	})

	suite.Run("service creation submission failure", func() {
		cause := errors.New("no handles left")
		suite.Reset()
		suite.StackBuilder = testutils.NewMockStackBuilder(suite.T()).FailOn("CreateService", cause)
		suite.Manual = true
		suite.SetupTest()
		suite.Require().NoError(suite.Server.Start())

		suite.Stack.Gatts(gatts.ServiceRegistered{Status: gatts.StatusOK, AppID: gatts.DefaultAppID})

		faults := suite.Faults()
		suite.Require().NotEmpty(faults)
		suite.Assert().ErrorIs(faults[0], cause, "fault MUST wrap the submission error")
		suite.Assert().True(gatts.IsSetupError(faults[0]))
	})

	suite.Run("registration submission failure is returned by Start", func() {
		suite.Reset()
		suite.StackBuilder = testutils.NewMockStackBuilder(suite.T()).FailOn("RegisterApp", errors.New("busy"))
		suite.Manual = true
		suite.SetupTest()

		err := suite.Server.Start()
		suite.Assert().True(gatts.IsSetupError(err), "Start MUST return a SetupError")
	})

	suite.Run("indicate after setup failure", func() {
		suite.Reset()
		suite.Manual = true
		suite.SetupTest()
		suite.Require().NoError(suite.Server.Start())
		suite.Stack.Gatts(gatts.ServiceRegistered{Status: gatts.StatusInsufficientRes})

		err := suite.Server.Indicate(suite.T().Context(), ble.MustParse(fuelUUID), []byte{1})
		suite.Assert().True(gatts.IsSetupError(err), "MUST refuse to publish on a half-built server")
	})
}

func (suite *SetupTestSuite) TestInvariantViolations() {
	// GOAL: Verify events referencing unknown state raise InvariantError without stopping the server
	//
	// TEST SCENARIO: Unexpected event → InvariantError reported → server keeps serving

	suite.Run("service created for an undeclared uuid", func() {
		suite.Stack.Gatts(gatts.ServiceCreated{
			Status:        gatts.StatusOK,
			ServiceHandle: 0x90,
			ServiceID:     gatts.ServiceID{UUID: ble.UUID16(0x1234)},
		})

		faults := suite.Faults()
		suite.Require().Len(faults, 1)
		var inv *gatts.InvariantError
		suite.Require().ErrorAs(faults[0], &inv)
		suite.Assert().Equal("service_created", inv.Event)
		suite.Assert().NoError(suite.Server.Err(), "invariant violations MUST not stop the server")
	})

	suite.Run("characteristic added to an unknown service", func() {
		suite.Reset()
		suite.SetupTest()
		suite.Stack.Gatts(gatts.CharacteristicAdded{
			Status:        gatts.StatusOK,
			AttrHandle:    0x91,
			ServiceHandle: 0x90,
			CharUUID:      ble.MustParse(fuelUUID),
		})

		var inv *gatts.InvariantError
		suite.Require().Len(suite.Faults(), 1)
		suite.Assert().ErrorAs(suite.Faults()[0], &inv)
	})

	suite.Run("registration for another application", func() {
		suite.Reset()
		suite.Manual = true
		suite.SetupTest()
		suite.Require().NoError(suite.Server.Start())

		suite.Stack.Gatts(gatts.ServiceRegistered{Status: gatts.StatusOK, AppID: 9})

		var inv *gatts.InvariantError
		suite.Require().Len(suite.Faults(), 1)
		suite.Assert().ErrorAs(suite.Faults()[0], &inv)
		suite.Assert().False(suite.Server.Snapshot().Registered, "MUST not adopt another application's interface")
	})
}

func TestNewServer(t *testing.T) {
	stack := testutils.NewMockStackBuilder(t).Build()
	cfg := testutils.CreateSchemaFromJSON(testutils.TelemetrySchemaJSON).Build()

	t.Run("rejects bound above the supported maximum", func(t *testing.T) {
		_, err := gatts.NewServer(stack.GAP, stack.GATTS, cfg, &gatts.Options{MaxPeers: gatts.MaxPeers + 1})
		assert.Error(t, err)
	})

	t.Run("rejects invalid schema before any stack call", func(t *testing.T) {
		_, err := gatts.NewServer(stack.GAP, stack.GATTS, gatts.ServerConfiguration{Name: "X"}, nil)
		assert.ErrorIs(t, err, gatts.ErrNoPrimaryService)
		stack.GATTS.AssertNotCalled(t, "RegisterApp", mock.Anything)
	})
}
