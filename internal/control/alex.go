package control

// Alex filter board selection. Low pass filters are chosen from the TX
// frequency while transmitting; high pass filters from the first receiver.

// Low pass filter bits, C4 of the drive frame
const (
	ALEX_LPF_30_20 = 0x01
	ALEX_LPF_60_40 = 0x02
	ALEX_LPF_80    = 0x04
	ALEX_LPF_160   = 0x08
	ALEX_LPF_6     = 0x10
	ALEX_LPF_12_10 = 0x20
	ALEX_LPF_17_15 = 0x40
)

// High pass filter bits, C3 of the drive frame
const (
	ALEX_HPF_13MHZ  = 0x01
	ALEX_HPF_20MHZ  = 0x02
	ALEX_HPF_9_5MHZ = 0x04
	ALEX_HPF_6_5MHZ = 0x08
	ALEX_HPF_1_5MHZ = 0x10
	ALEX_HPF_BYPASS = 0x20
	ALEX_6M_PREAMP  = 0x40
)

type filterBand struct {
	above uint32 // frequency strictly above this selects bits
	bits  byte
}

// ordered high to low; the first match wins
var lpfTable = []filterBand{
	{35600000, ALEX_LPF_6},
	{24000000, ALEX_LPF_12_10},
	{16500000, ALEX_LPF_17_15},
	{8000000, ALEX_LPF_30_20},
	{5000000, ALEX_LPF_60_40},
	{2500000, ALEX_LPF_80},
	{0, ALEX_LPF_160},
}

var hpfTable = []filterBand{
	{50000000, ALEX_6M_PREAMP},
	{20000000, ALEX_HPF_20MHZ},
	{13000000, ALEX_HPF_13MHZ},
	{9500000, ALEX_HPF_9_5MHZ},
	{6500000, ALEX_HPF_6_5MHZ},
	{1500000, ALEX_HPF_1_5MHZ},
}

// LowPassFilter returns the LPF select mask for a TX frequency in Hz
func LowPassFilter(hz uint32) byte {
	for _, b := range lpfTable {
		if hz > b.above {
			return b.bits
		}
	}
	return ALEX_LPF_160
}

// HighPassFilter returns the HPF select mask for an RX frequency in Hz
func HighPassFilter(hz uint32) byte {
	for _, b := range hpfTable {
		if hz > b.above {
			return b.bits
		}
	}
	return ALEX_HPF_BYPASS
}
