package codec

import (
	"fmt"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// Per sample period the radio sends 6 bytes of I/Q per receiver plus one
// 2-byte mic sample. Only whole periods fit in the 504 payload bytes, so
// each receiver count leaves a fixed number of unused bytes at the end.
var wastedBytes = [protocol.MAX_RECEIVERS + 1]int{
	0,  // unused
	0,  // 1 receiver:  63 periods x 8
	0,  // 2: 36 x 14
	4,  // 3: 25 x 20
	10, // 4: 19 x 26
	24, // 5: 15 x 32
	10, // 6: 13 x 38
	20, // 7: 11 x 44
	4,  // 8: 10 x 50
	0,  // 9:  9 x 56
	8,  // 10: 8 x 62
	28, // 11: 7 x 68
	60, // 12: 6 x 74
	24, // 13: 6 x 80
	74, // 14: 5 x 86
	44, // 15: 5 x 92
	14, // 16: 5 x 98
	88, // 17: 4 x 104
	64, // 18: 4 x 110
	40, // 19: 4 x 116
	16, // 20: 4 x 122
}

// Budget describes how one inbound half-frame payload is divided for a
// given receiver count
type Budget struct {
	Receivers   int
	PeriodBytes int // bytes per sample period
	Periods     int // sample periods per half-frame
	UsedBytes   int
	WastedBytes int
}

// BudgetFor returns the byte budget for receivers in 1..20
func BudgetFor(receivers int) (Budget, error) {
	if receivers < protocol.MIN_RECEIVERS || receivers > protocol.MAX_RECEIVERS {
		return Budget{}, fmt.Errorf("receiver count %d out of range %d..%d",
			receivers, protocol.MIN_RECEIVERS, protocol.MAX_RECEIVERS)
	}

	periodBytes := receivers*2*protocol.IQ_SAMPLE_BYTES + protocol.MIC_SAMPLE_BYTES
	used := protocol.PAYLOAD_LENGTH - wastedBytes[receivers]

	return Budget{
		Receivers:   receivers,
		PeriodBytes: periodBytes,
		Periods:     used / periodBytes,
		UsedBytes:   used,
		WastedBytes: wastedBytes[receivers],
	}, nil
}
