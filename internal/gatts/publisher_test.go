//go:build test

package gatts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	settle  = 100 * time.Millisecond
)

type PublisherTestSuite struct {
	testutils.GattsServerSuite
}

func TestPublisherTestSuite(t *testing.T) {
	suite.Run(t, new(PublisherTestSuite))
}

// indicateAsync runs Indicate on its own goroutine.
func (suite *PublisherTestSuite) indicateAsync(ctx context.Context, uuid string, value []byte) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- suite.Server.Indicate(ctx, ble.MustParse(uuid), value)
	}()
	return done
}

func (suite *PublisherTestSuite) awaitResult(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		suite.FailNow("Indicate MUST return")
		return nil
	}
}

func (suite *PublisherTestSuite) secondSent() func() bool {
	return func() bool { return len(suite.Stack.Indications()) > 1 }
}

func (suite *PublisherTestSuite) TestIndicate_WaitsForConfirmation() {
	// GOAL: Verify at most one indication is outstanding and the next send waits for the confirmation
	//
	// TEST SCENARIO: Peer connected → indicate v1 → indicate v2 blocks → confirm from peer → v2 sent

	ctx := suite.T().Context()
	fuel := suite.Characteristic(fuelUUID)
	suite.Stack.Connect(peerA, 0)

	err := suite.Server.Indicate(ctx, ble.MustParse(fuelUUID), []byte{1})
	suite.Require().NoError(err, "first indication MUST be sent without waiting")
	suite.Require().Len(suite.Stack.Indications(), 1)
	suite.Assert().NotNil(suite.Server.Snapshot().InFlight, "peer MUST be awaited after a send")

	done := suite.indicateAsync(ctx, fuelUUID, []byte{2})
	suite.Never(suite.secondSent(), settle, tick, "second indication MUST wait for the confirmation")

	suite.Stack.Confirm(peerA, 0, fuel.Handle, gatts.StatusOK)
	suite.Require().NoError(suite.awaitResult(done))

	indications := suite.Stack.Indications()
	suite.Require().Len(indications, 2)
	suite.Assert().Equal(testutils.IndicateCall{Conn: 0, Handle: fuel.Handle, Value: []byte{1}}, indications[0])
	suite.Assert().Equal(testutils.IndicateCall{Conn: 0, Handle: fuel.Handle, Value: []byte{2}}, indications[1])
	suite.Assert().Empty(suite.Faults())
}

func (suite *PublisherTestSuite) TestIndicate_RegistryBound() {
	// GOAL: Verify peers beyond the bound are neither registered nor indicated
	//
	// TEST SCENARIO: Bound 1 → two peers connect → only the first receives the indication

	suite.Stack.Connect(peerA, 0)
	suite.Stack.Connect(peerB, 1)

	conns := suite.Server.Snapshot().Connections
	suite.Require().Len(conns, 1, "registry MUST hold one peer")
	suite.Assert().Equal(gatts.ConnID(0), conns[0].ConnID)
	suite.Stack.GAP.AssertNumberOfCalls(suite.T(), "SetConnParams", 1)

	suite.Require().NoError(suite.Server.Indicate(suite.T().Context(), ble.MustParse(fuelUUID), []byte{9}))

	indications := suite.Stack.Indications()
	suite.Require().Len(indications, 1)
	suite.Assert().Equal(gatts.ConnID(0), indications[0].Conn, "MUST not indicate the unregistered peer")
}

func (suite *PublisherTestSuite) TestIndicate_Rejections() {
	// GOAL: Verify failing publishes leave the transport untouched
	//
	// TEST SCENARIO: Unknown uuid or oversized value → error returned → no Indicate call

	suite.Stack.Connect(peerA, 0)

	suite.Run("unknown characteristic", func() {
		err := suite.Server.Indicate(suite.T().Context(), ble.UUID16(0x2a19), []byte{1})

		suite.Assert().ErrorIs(err, gatts.ErrNoSuchCharacteristic)
		var notFound *gatts.NotFoundError
		suite.Assert().ErrorAs(err, &notFound)
	})

	suite.Run("value longer than max length", func() {
		err := suite.Server.Indicate(suite.T().Context(), ble.MustParse(fuelUUID), make([]byte, 201))

		suite.Assert().ErrorIs(err, gatts.ErrValueTooLong)
		suite.Assert().Equal([]byte{0, 0, 0, 0, 0, 0, 0, 0}, suite.Characteristic(fuelUUID).Value, "value MUST not change")
	})

	suite.Stack.GATTS.AssertNotCalled(suite.T(), "Indicate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *PublisherTestSuite) TestIndicate_NoPeers() {
	// GOAL: Verify publishing without peers only updates the stored value
	//
	// TEST SCENARIO: No connections → indicate → nil error, value stored, nothing sent

	err := suite.Server.Indicate(suite.T().Context(), ble.MustParse(runCountUUID), []byte{8, 0, 0, 0, 0, 0, 0, 0})

	suite.Require().NoError(err)
	suite.Assert().Empty(suite.Stack.Indications())
	suite.Assert().Equal([]byte{8, 0, 0, 0, 0, 0, 0, 0}, suite.Characteristic(runCountUUID).Value)
}

func (suite *PublisherTestSuite) TestIndicate_ReadAfterIndicate() {
	// GOAL: Verify reads return the value most recently published
	//
	// TEST SCENARIO: Read initial bytes → indicate new bytes → read returns new bytes

	runCount := suite.Characteristic(runCountUUID)
	suite.Stack.Connect(peerA, 0)

	rsp := suite.Stack.Read(peerA, 0, runCount.Handle, 0)
	suite.Assert().Equal(gatts.StatusOK, rsp.Status)
	suite.Assert().Equal([]byte{7, 0, 0, 0, 0, 0, 0, 0}, rsp.Value, "MUST return the initial bytes")

	suite.Require().NoError(suite.Server.Indicate(suite.T().Context(), runCount.UUID, []byte{8, 0, 0, 0, 0, 0, 0, 0}))

	rsp = suite.Stack.Read(peerA, 0, runCount.Handle, 0)
	suite.Assert().Equal([]byte{8, 0, 0, 0, 0, 0, 0, 0}, rsp.Value, "MUST return the published bytes")
}

func (suite *PublisherTestSuite) TestIndicate_PeerGone() {
	// GOAL: Verify a disconnect of the awaited peer releases the publisher
	//
	// TEST SCENARIO: Indicate → next indicate blocks → peer disconnects → waiter returns without sending

	ctx := suite.T().Context()
	suite.Stack.Connect(peerA, 0)
	suite.Require().NoError(suite.Server.Indicate(ctx, ble.MustParse(fuelUUID), []byte{1}))

	done := suite.indicateAsync(ctx, fuelUUID, []byte{2})
	suite.Never(suite.secondSent(), settle, tick)

	suite.Stack.Disconnect(peerA, 0)

	suite.Require().NoError(suite.awaitResult(done))
	suite.Assert().Len(suite.Stack.Indications(), 1, "MUST not indicate a departed peer")

	state := suite.Server.Snapshot()
	suite.Assert().Nil(state.InFlight, "marker MUST be cleared")
	suite.Assert().Empty(state.Connections)
}

func (suite *PublisherTestSuite) TestIndicate_ContextCancelled() {
	// GOAL: Verify a blocked publisher gives up when its context ends
	//
	// TEST SCENARIO: Indicate → next indicate blocks → cancel → context.Canceled, nothing sent

	suite.Stack.Connect(peerA, 0)
	suite.Require().NoError(suite.Server.Indicate(suite.T().Context(), ble.MustParse(fuelUUID), []byte{1}))

	ctx, cancel := context.WithCancel(suite.T().Context())
	done := suite.indicateAsync(ctx, fuelUUID, []byte{2})
	suite.Never(suite.secondSent(), settle, tick)

	cancel()

	suite.Assert().ErrorIs(suite.awaitResult(done), context.Canceled)
	suite.Assert().Len(suite.Stack.Indications(), 1)
	suite.Assert().NotNil(suite.Server.Snapshot().InFlight, "marker MUST stay until the peer confirms")
}

func (suite *PublisherTestSuite) TestIndicate_SetupFailureReleasesWaiters() {
	// GOAL: Verify a setup failure wakes blocked publishers with the failure
	//
	// TEST SCENARIO: Indicate → next indicate blocks → service start fails → waiter returns SetupError

	ctx := suite.T().Context()
	suite.Stack.Connect(peerA, 0)
	suite.Require().NoError(suite.Server.Indicate(ctx, ble.MustParse(fuelUUID), []byte{1}))

	done := suite.indicateAsync(ctx, fuelUUID, []byte{2})
	suite.Never(suite.secondSent(), settle, tick)

	suite.Stack.Gatts(gatts.ServiceStarted{Status: gatts.StatusError, ServiceHandle: testutils.FirstServiceHandle})

	suite.Assert().True(gatts.IsSetupError(suite.awaitResult(done)))
}

func (suite *PublisherTestSuite) TestIndicate_TransportFailure() {
	// GOAL: Verify a rejected submission is returned and leaves no outstanding indication
	//
	// TEST SCENARIO: Stack rejects Indicate → TransportError → marker clear

	cause := errors.New("congested")
	suite.Reset()
	suite.StackBuilder = testutils.NewMockStackBuilder(suite.T()).FailOn("Indicate", cause)
	suite.SetupTest()
	suite.Stack.Connect(peerA, 0)

	err := suite.Server.Indicate(suite.T().Context(), ble.MustParse(fuelUUID), []byte{1})

	var transportErr *gatts.TransportError
	suite.Require().ErrorAs(err, &transportErr)
	suite.Assert().Equal("indicate", transportErr.Op)
	suite.Assert().ErrorIs(err, cause)
	suite.Assert().Nil(suite.Server.Snapshot().InFlight)
}

func (suite *PublisherTestSuite) TestConfirmation() {
	// GOAL: Verify only the awaited peer's confirmation clears the marker
	//
	// TEST SCENARIO: Unexpected confirmations → InvariantError, marker kept; failed status → marker cleared

	fuel := suite.Characteristic(fuelUUID)
	suite.Stack.Connect(peerA, 0)

	suite.Run("confirmation without outstanding indication", func() {
		suite.Stack.Confirm(peerA, 0, fuel.Handle, gatts.StatusOK)

		var inv *gatts.InvariantError
		suite.Require().Len(suite.Faults(), 1)
		suite.Assert().ErrorAs(suite.Faults()[0], &inv)
	})

	suite.Require().NoError(suite.Server.Indicate(suite.T().Context(), fuel.UUID, []byte{1}))

	suite.Run("confirmation from another peer", func() {
		suite.Stack.Confirm(peerB, 1, fuel.Handle, gatts.StatusOK)

		suite.Assert().Len(suite.Faults(), 2)
		suite.Assert().NotNil(suite.Server.Snapshot().InFlight, "marker MUST stay set")
	})

	suite.Run("failed confirmation still releases", func() {
		suite.Stack.Confirm(peerA, 0, fuel.Handle, gatts.StatusTimeout)

		suite.Assert().Nil(suite.Server.Snapshot().InFlight)
		suite.Assert().Len(suite.Faults(), 2, "failed status MUST not be an invariant violation")
	})
}

type MultiPeerPublisherTestSuite struct {
	testutils.GattsServerSuite
}

func TestMultiPeerPublisherTestSuite(t *testing.T) {
	suite.Run(t, new(MultiPeerPublisherTestSuite))
}

func (suite *MultiPeerPublisherTestSuite) SetupTest() {
	suite.Options = &gatts.Options{MaxPeers: 2}
	suite.GattsServerSuite.SetupTest()
}

func (suite *MultiPeerPublisherTestSuite) TestIndicate_PeersInRegistryOrder() {
	// GOAL: Verify one publish reaches every registered peer, one confirmation at a time
	//
	// TEST SCENARIO: Two peers → indicate → A sent → confirm A → B sent → confirm B → Indicate returns

	fuel := suite.Characteristic(fuelUUID)
	suite.Stack.Connect(peerA, 0)
	suite.Stack.Connect(peerB, 1)

	done := make(chan error, 1)
	go func() {
		done <- suite.Server.Indicate(suite.T().Context(), fuel.UUID, []byte{5})
	}()

	suite.Eventually(func() bool { return len(suite.Stack.Indications()) == 1 }, waitFor, tick)
	suite.Never(func() bool { return len(suite.Stack.Indications()) > 1 }, settle, tick, "B MUST wait for A's confirmation")
	suite.Assert().Equal(gatts.ConnID(0), suite.Stack.Indications()[0].Conn)

	suite.Stack.Confirm(peerA, 0, fuel.Handle, gatts.StatusOK)

	select {
	case err := <-done:
		suite.Require().NoError(err)
	case <-time.After(waitFor):
		suite.FailNow("Indicate MUST return once the last peer is sent")
	}

	indications := suite.Stack.Indications()
	suite.Require().Len(indications, 2)
	suite.Assert().Equal(gatts.ConnID(1), indications[1].Conn)
	suite.Assert().Equal(ble.NewAddr(peerB).String(), suite.Server.Snapshot().InFlight.String(), "B MUST be awaited")
}
