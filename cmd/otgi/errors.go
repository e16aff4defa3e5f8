package main

import (
	"errors"
	"fmt"

	"github.com/srg/otgi/internal/canbus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/obd"
)

// Command-level errors
var (
	// ErrServerNotReady indicates the attribute server did not finish building its table in time.
	ErrServerNotReady = errors.New("attribute server did not become ready")
)

// FormatUserError turns err into a one-line message with a hint where one is known.
func FormatUserError(err error) string {
	var setup *gatts.SetupError
	switch {
	case errors.As(err, &setup):
		return "Bluetooth " + setup.Error()
	case errors.Is(err, obd.ErrNoReply):
		return fmt.Sprintf("%v (is the ignition on and the CAN interface up?)", err)
	case errors.Is(err, canbus.ErrUnsupported):
		return fmt.Sprintf("%v (use --can loopback for the simulated vehicle)", err)
	case errors.Is(err, ErrServerNotReady):
		return fmt.Sprintf("%v (check the Bluetooth adapter or use --stack sim)", err)
	default:
		return err.Error()
	}
}
