package gatts_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/otgi/internal/gatts"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("characteristic NotFoundError matches ErrNoSuchCharacteristic", func(t *testing.T) {
		err := fmt.Errorf("indicate: %w", &gatts.NotFoundError{Resource: "characteristic", Key: "2a19"})
		assert.ErrorIs(t, err, gatts.ErrNoSuchCharacteristic)
		assert.EqualError(t, err, `indicate: characteristic "2a19" not found`)
	})

	t.Run("other NotFoundError does not match", func(t *testing.T) {
		err := &gatts.NotFoundError{Resource: "handle", Key: "0x0029"}
		assert.False(t, errors.Is(err, gatts.ErrNoSuchCharacteristic))
	})

	t.Run("SetupError wraps the submission error", func(t *testing.T) {
		cause := errors.New("out of memory")
		err := &gatts.SetupError{Phase: "create_service", Err: cause}
		assert.ErrorIs(t, err, cause)
		assert.True(t, gatts.IsSetupError(fmt.Errorf("start: %w", err)))
		assert.EqualError(t, err, "setup failed at create_service: out of memory")
	})

	t.Run("SetupError reports the stack status", func(t *testing.T) {
		err := &gatts.SetupError{Phase: "service_created", Status: gatts.StatusInsufficientRes}
		assert.EqualError(t, err, "setup failed at service_created: insufficient resources")
		assert.False(t, gatts.IsSetupError(&gatts.InvariantError{Event: "read", Detail: "x"}))
	})

	t.Run("TransportError names the peer", func(t *testing.T) {
		cause := errors.New("queue full")
		err := &gatts.TransportError{Op: "indicate", Peer: "aa:bb:cc:dd:ee:ff", Err: cause}
		assert.ErrorIs(t, err, cause)
		assert.EqualError(t, err, "indicate to aa:bb:cc:dd:ee:ff: queue full")
	})
}
