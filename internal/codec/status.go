package codec

import (
	"encoding/binary"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// Status is the telemetry carried in the C&C bytes of inbound half-frames.
// Every frame carries the PTT/dot/dash bits; the remaining fields arrive
// one address at a time as the radio cycles through C0[7:3].
type Status struct {
	PTT  bool
	Dash bool
	Dot  bool

	ADCOverload     bool
	MercuryVersion  uint8
	PenelopeVersion uint8
	MetisVersion    uint8 // Metis, Hermes or Angelia code version

	ExciterPower  uint16
	ForwardPower  uint16
	ReversePower  uint16
	AIN3          uint16
	AIN4          uint16
	SupplyVoltage uint16 // AIN6
}

// StatusAddress extracts the telemetry address from an inbound C0 byte
func StatusAddress(c0 byte) int {
	return int(c0>>3) & 0x1F
}

// Apply folds one inbound control register into s and returns the
// telemetry address it carried
func (s *Status) Apply(control ControlBytes) int {
	c0 := control[0]
	s.PTT = c0&protocol.STATUS_PTT_BIT != 0
	s.Dash = c0&protocol.STATUS_DASH_BIT != 0
	s.Dot = c0&protocol.STATUS_DOT_BIT != 0

	addr := StatusAddress(c0)
	switch addr {
	case protocol.STATUS_ADDR_VERSIONS:
		s.ADCOverload = control[1]&0x01 != 0
		s.MercuryVersion = control[2]
		s.PenelopeVersion = control[3]
		s.MetisVersion = control[4]
	case protocol.STATUS_ADDR_FORWARD:
		s.ExciterPower = binary.BigEndian.Uint16(control[1:3])
		s.ForwardPower = binary.BigEndian.Uint16(control[3:5])
	case protocol.STATUS_ADDR_REVERSE:
		s.ReversePower = binary.BigEndian.Uint16(control[1:3])
		s.AIN3 = binary.BigEndian.Uint16(control[3:5])
	case protocol.STATUS_ADDR_SUPPLY:
		s.AIN4 = binary.BigEndian.Uint16(control[1:3])
		s.SupplyVoltage = binary.BigEndian.Uint16(control[3:5])
	}
	return addr
}
