package sim

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
)

// Subscribe registers an advertising event handler.
func (s *Stack) Subscribe(handler func(gatts.GapEvent)) error {
	return s.events.SubscribeGap(handler)
}

func (s *Stack) SetDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return nil
}

// ConfigureAdvertising stores the payload and raises AdvertisingConfigured.
func (s *Stack) ConfigureAdvertising(conf gatts.AdvConfiguration) error {
	s.mu.Lock()
	c := conf
	s.adv = &c
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"name":       s.DeviceName(),
		"service":    conf.ServiceUUID.String(),
		"appearance": fmt.Sprintf("0x%04x", conf.Appearance),
	}).Debug("Advertising payload configured")
	s.emitGap(gatts.AdvertisingConfigured{Status: gatts.StatusOK})
	return nil
}

func (s *Stack) StartAdvertising() error {
	s.mu.Lock()
	if s.adv == nil {
		s.mu.Unlock()
		return fmt.Errorf("advertising payload not configured")
	}
	s.advertised = true
	s.mu.Unlock()

	s.emitGap(gatts.AdvertisingStarted{Status: gatts.StatusOK})
	return nil
}

// SetConnParams records the requested parameters on the peer.
func (s *Stack) SetConnParams(peer ble.Addr, params gatts.ConnParams) error {
	if params.MinInterval > params.MaxInterval {
		return fmt.Errorf("min interval %s exceeds max interval %s", params.MinInterval, params.MaxInterval)
	}
	p := s.peerByAddr(peer)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	p.setParams(params)
	return nil
}

// DeviceName returns the configured device name.
func (s *Stack) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Advertising returns the advertising payload and whether advertising was started.
func (s *Stack) Advertising() (gatts.AdvConfiguration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adv == nil {
		return gatts.AdvConfiguration{}, false
	}
	return *s.adv, s.advertised
}
