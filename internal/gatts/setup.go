package gatts

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Advertisement flags: LE general discoverable.
const advFlagGeneralDiscoverable uint8 = 0x02

// cccdPermissions are the permissions of the configuration descriptor added to every
// characteristic.
const cccdPermissions = PermRead | PermWrite

func (s *Server) onServiceRegistered(intf Interface, e ServiceRegistered) {
	if e.Status != StatusOK {
		s.fail(&SetupError{Phase: "service_registered", Status: e.Status})
		return
	}
	if e.AppID != s.opts.AppID {
		s.violation("service_registered", "registration for app %d, expected app %d", e.AppID, s.opts.AppID)
		return
	}
	if s.hasIntf {
		s.violation("service_registered", "interface already assigned (%d), got %d", s.intf, intf)
		return
	}

	s.intf = intf
	s.hasIntf = true
	s.logger.WithFields(logrus.Fields{
		"app_id":    e.AppID,
		"interface": intf,
	}).Info("Attribute interface registered")

	primary, ok := s.config.PrimaryService()
	if !ok {
		s.fail(&SetupError{Phase: "advertising_payload", Err: ErrNoPrimaryService})
		return
	}

	if err := s.gap.SetDeviceName(s.config.Name); err != nil {
		s.fail(&SetupError{Phase: "set_device_name", Err: err})
		return
	}
	if err := s.gap.ConfigureAdvertising(AdvConfiguration{
		IncludeName: true,
		Appearance:  s.config.Appearance,
		Flags:       advFlagGeneralDiscoverable,
		ServiceUUID: primary.UUID,
	}); err != nil {
		s.fail(&SetupError{Phase: "configure_advertising", Err: err})
		return
	}

	for _, svc := range s.config.Services {
		id := ServiceID{UUID: svc.UUID, Primary: svc.Primary}
		if err := s.gatts.CreateService(intf, id, svc.numHandles()); err != nil {
			s.fail(&SetupError{Phase: "create_service", Err: err})
			return
		}
		s.logger.WithFields(logrus.Fields{
			"service":     svc.UUID.String(),
			"num_handles": svc.numHandles(),
		}).Debug("Requested service creation")
	}
}

func (s *Server) onAdvertisingConfigured(e AdvertisingConfigured) {
	if e.Status != StatusOK {
		s.fail(&SetupError{Phase: "advertising_configured", Status: e.Status})
		return
	}
	if err := s.gap.StartAdvertising(); err != nil {
		s.fail(&SetupError{Phase: "start_advertising", Err: err})
	}
}

func (s *Server) onServiceCreated(e ServiceCreated) {
	if e.Status != StatusOK {
		s.fail(&SetupError{Phase: "service_created", Status: e.Status})
		return
	}

	decls := s.config.servicesFor(e.ServiceID.UUID)
	if len(decls) == 0 {
		s.violation("service_created", "service %s is not in the schema", e.ServiceID.UUID)
		return
	}

	if _, err := s.table.addService(e.ServiceID.UUID, e.ServiceHandle); err != nil {
		s.violation("service_created", "%v", err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"service": e.ServiceID.UUID.String(),
		"handle":  e.ServiceHandle,
	}).Info("Service created")

	if err := s.gatts.StartService(e.ServiceHandle); err != nil {
		s.fail(&SetupError{Phase: "start_service", Err: err})
		return
	}

	for _, decl := range decls {
		for _, ch := range decl.Characteristics {
			def := CharacteristicDef{
				UUID:        ch.UUID,
				Permissions: ch.Permissions,
				Properties:  ch.Properties,
				MaxLen:      ch.MaxLen,
				Response:    RespondByApp,
			}
			if err := s.gatts.AddCharacteristic(e.ServiceHandle, def, ch.Value); err != nil {
				s.fail(&SetupError{Phase: "add_characteristic", Err: err})
				return
			}
		}
	}
}

func (s *Server) onCharacteristicAdded(e CharacteristicAdded) {
	if e.Status != StatusOK {
		s.fail(&SetupError{Phase: "characteristic_added", Status: e.Status})
		return
	}

	svc, ok := s.table.service(e.ServiceHandle)
	if !ok {
		s.violation("characteristic_added", "service handle 0x%04x was never created", uint16(e.ServiceHandle))
		return
	}
	decl, ok := s.declarationIn(svc.UUID, e.CharUUID)
	if !ok {
		s.violation("characteristic_added", "characteristic %s is not declared in service %s", e.CharUUID, svc.UUID)
		return
	}
	if _, err := s.table.addCharacteristic(svc, decl, e.AttrHandle); err != nil {
		s.violation("characteristic_added", "%v", err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"characteristic": e.CharUUID.String(),
		"handle":         e.AttrHandle,
		"service":        svc.UUID.String(),
	}).Info("Characteristic added")

	if err := s.gatts.AddDescriptor(e.ServiceHandle, DescriptorDef{
		UUID:        ble.ClientCharacteristicConfigUUID,
		Permissions: cccdPermissions,
	}); err != nil {
		s.fail(&SetupError{Phase: "add_descriptor", Err: err})
	}
}

func (s *Server) onDescriptorAdded(e DescriptorAdded) {
	if e.Status != StatusOK {
		s.fail(&SetupError{Phase: "descriptor_added", Status: e.Status})
		return
	}
	if !e.DescrUUID.Equal(ble.ClientCharacteristicConfigUUID) {
		s.logger.WithField("descriptor", e.DescrUUID.String()).Debug("Ignoring descriptor")
		return
	}

	svc, ok := s.table.service(e.ServiceHandle)
	if !ok {
		s.violation("descriptor_added", "service handle 0x%04x was never created", uint16(e.ServiceHandle))
		return
	}
	ch, err := s.table.attachCCCD(svc, e.AttrHandle)
	if err != nil {
		s.violation("descriptor_added", "%v", err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"characteristic": ch.UUID.String(),
		"cccd_handle":    e.AttrHandle,
	}).Debug("Configuration descriptor added")

	if s.table.complete(s.config.characteristicCount()) {
		s.readyOnce.Do(func() {
			s.logger.Info("Attribute table complete")
			close(s.ready)
		})
	}
}

// declarationIn finds the schema declaration of char inside the service with the given UUID.
func (s *Server) declarationIn(service, char ble.UUID) (CharacteristicDescriptor, bool) {
	for _, svc := range s.config.servicesFor(service) {
		for _, ch := range svc.Characteristics {
			if ch.UUID.Equal(char) {
				return ch, true
			}
		}
	}
	return CharacteristicDescriptor{}, false
}
