package protocol

// HPSDR Protocol 1 wire constants

const (
	// Half-frame layout
	HALF_FRAME_LENGTH    = 512 // One half-frame, either direction
	SYNC_LENGTH          = 3
	CONTROL_LENGTH       = 5
	HEADER_LENGTH        = SYNC_LENGTH + CONTROL_LENGTH // SYNC + C0..C4
	PAYLOAD_LENGTH       = HALF_FRAME_LENGTH - HEADER_LENGTH
	SYNC_BYTE            = 0x7F
	IQ_SAMPLE_BYTES      = 3 // 24-bit big-endian two's complement
	MIC_SAMPLE_BYTES     = 2
	MIN_RECEIVERS        = 1
	MAX_RECEIVERS        = 20
	MAX_ROUTED_RECEIVERS = 16 // ADC routing covers receivers 1..16

	// Outbound payload: L(2) R(2) I(2) Q(2) per sample
	OUTPUT_SAMPLE_BYTES     = 8
	OUTPUT_SAMPLES_PER_HALF = PAYLOAD_LENGTH / OUTPUT_SAMPLE_BYTES // 63

	// Metis datagram
	METIS_HEADER_LENGTH    = 8
	METIS_DATAGRAM_LENGTH  = METIS_HEADER_LENGTH + 2*HALF_FRAME_LENGTH // 1032
	METIS_MAGIC1           = 0xEF
	METIS_MAGIC2           = 0xFE
	METIS_TYPE_DATA        = 0x01
	METIS_TYPE_DISCOVERY   = 0x02
	METIS_TYPE_COMMAND     = 0x04
	METIS_EP2              = 0x02 // host -> radio audio/C&C
	METIS_EP6              = 0x06 // radio -> host IQ/status
	METIS_DISCOVERY_LENGTH = 63
	METIS_REPLY_LENGTH     = 60
	METIS_COMMAND_LENGTH   = 64
	METIS_STATUS_IDLE      = 0x02
	METIS_STATUS_RUNNING   = 0x03

	DEFAULT_PORT = 1024

	// Normalisation
	IQ_FULL_SCALE  = 8388607.0 // 2^23 - 1
	MIC_FULL_SCALE = 32767.0
	MIC_RATE       = 48000
)

// SYNC_BYTES is the 3-byte sentinel that opens every half-frame
var SYNC_BYTES = [SYNC_LENGTH]byte{SYNC_BYTE, SYNC_BYTE, SYNC_BYTE}

// HardwareCommand is the single byte carried by a Metis command packet
type HardwareCommand byte

const (
	CMD_STOP                HardwareCommand = 0x00
	CMD_START               HardwareCommand = 0x01 // IQ only
	CMD_START_WITH_WIDEBAND HardwareCommand = 0x03
)

func (c HardwareCommand) String() string {
	switch c {
	case CMD_STOP:
		return "STOP"
	case CMD_START:
		return "START"
	case CMD_START_WITH_WIDEBAND:
		return "START+WIDEBAND"
	default:
		return "UNKNOWN"
	}
}

// Outbound C0 addresses (bits 7..1); bit 0 is MOX
const (
	C0_CONFIG      = 0x00
	C0_TX_FREQ     = 0x02
	C0_RX1_FREQ    = 0x04 // receivers 0..6: 0x04 + 2*i
	C0_RX8_FREQ    = 0x24 // receivers 7..:  0x24 + 2*(i-7)
	C0_DRIVE       = 0x12
	C0_KEYER       = 0x16
	C0_ADC_ROUTING = 0x1C
	C0_CW_ENABLE   = 0x1E
	C0_CW_TIMING   = 0x20
	C0_MOX_BIT     = 0x01
)

// RxFrequencyAddress returns the C0 address carrying the frequency of receiver rx (0-based)
func RxFrequencyAddress(rx int) byte {
	if rx < 7 {
		return byte(C0_RX1_FREQ + 2*rx)
	}
	return byte(C0_RX8_FREQ + 2*(rx-7))
}

// Inbound C0 bits
const (
	STATUS_PTT_BIT  = 0x01
	STATUS_DASH_BIT = 0x02
	STATUS_DOT_BIT  = 0x04
)

// Inbound status addresses, C0[7:3]
const (
	STATUS_ADDR_VERSIONS = 0x00
	STATUS_ADDR_FORWARD  = 0x01
	STATUS_ADDR_REVERSE  = 0x02
	STATUS_ADDR_SUPPLY   = 0x03
)

// Sample rate selector bits in C1 of the config frame
var SAMPLE_RATE_BITS = map[int]byte{
	48000:  0x00,
	96000:  0x01,
	192000: 0x02,
	384000: 0x03,
}

// Board identifiers reported by discovery
type BoardID byte

const (
	BOARD_METIS       BoardID = 0x00
	BOARD_HERMES      BoardID = 0x01
	BOARD_GRIFFIN     BoardID = 0x02
	BOARD_ANGELIA     BoardID = 0x04
	BOARD_ORION       BoardID = 0x05
	BOARD_HERMES_LITE BoardID = 0x06
)

func (b BoardID) String() string {
	switch b {
	case BOARD_METIS:
		return "Metis"
	case BOARD_HERMES:
		return "Hermes"
	case BOARD_GRIFFIN:
		return "Griffin"
	case BOARD_ANGELIA:
		return "Angelia"
	case BOARD_ORION:
		return "Orion"
	case BOARD_HERMES_LITE:
		return "HermesLite"
	default:
		return "Unknown"
	}
}
