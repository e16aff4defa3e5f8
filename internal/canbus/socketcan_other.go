//go:build !linux

package canbus

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Open always fails outside linux.
func Open(ifname string, filters []Filter, logger *logrus.Logger) (Bus, error) {
	return nil, fmt.Errorf("%s: %w", ifname, ErrUnsupported)
}
