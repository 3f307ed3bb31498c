package control

import (
	"testing"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

func newSnapshot(t *testing.T, n int) (*radio.Params, radio.Snapshot) {
	t.Helper()
	p, err := radio.NewParams(n, 48000)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}
	return p, p.Snapshot()
}

// runCycle calls Next until the state machine is back at state 0 and
// returns the states it ran
func runCycle(r *RoundRobin, s *radio.Snapshot) []int {
	var states []int
	for {
		states = append(states, r.State())
		r.Next(s)
		if r.State() == STATE_CONFIG || len(states) > NUM_STATES {
			return states
		}
	}
}

func TestRoundRobinFirstCycleVisitsAllStates(t *testing.T) {
	_, s := newSnapshot(t, 2)
	r := NewRoundRobin(2)

	// routing has never been sent, so the first cycle includes state 4
	for i := 0; i < NUM_STATES; i++ {
		if r.State() != i {
			t.Fatalf("step %d: State() = %d, want %d", i, r.State(), i)
		}
		r.Next(&s)
	}
	if r.State() != STATE_CONFIG {
		t.Errorf("State() after 8 visits = %d, want 0", r.State())
	}
}

func TestRoundRobinSkipsRoutingWhenUnchanged(t *testing.T) {
	p, s := newSnapshot(t, 4)
	r := NewRoundRobin(4)

	runCycle(r, &s)

	states := runCycle(r, &s)
	want := []int{0, 1, 2, 3, 5, 6, 7}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}

	if err := p.SetADC(2, 1); err != nil {
		t.Fatalf("SetADC() error = %v", err)
	}
	s = p.Snapshot()
	states = runCycle(r, &s)
	if len(states) != NUM_STATES || states[4] != STATE_ADC_ROUTING {
		t.Errorf("states after routing change = %v, want all 8", states)
	}

	if v := r.Visits(); v[STATE_ADC_ROUTING] != 2 {
		t.Errorf("state 4 visits = %d, want 2", v[STATE_ADC_ROUTING])
	}
}

func TestConfigBytes(t *testing.T) {
	p, _ := newSnapshot(t, 3)
	p.SetFrontend(radio.Frontend{
		ClassE:     true,
		OCBits:     0x05,
		Attenuator: 2,
		Dither:     true,
		RxAntenna:  1,
		TxAntenna:  2,
		Duplex:     true,
	})
	s := p.Snapshot()
	s.SampleRate = 192000

	c := ConfigBytes(&s)
	want := codec.ControlBytes{
		0x00,
		0x02,               // 192k
		0x01 | 0x05<<1,     // class E + OC
		0x02 | 0x08 | 1<<5, // att 2, dither, rx antenna 1
		0x02 | 0x04 | 2<<3, // tx antenna 2, duplex, 3 receivers
	}
	if c != want {
		t.Errorf("ConfigBytes() = % x, want % x", c, want)
	}
}

func TestReceiverCountField(t *testing.T) {
	for n := protocol.MIN_RECEIVERS; n <= protocol.MAX_RECEIVERS; n++ {
		_, s := newSnapshot(t, n)
		c := ConfigBytes(&s)
		if got := int(c[4]>>3) + 1; got != n {
			t.Errorf("receivers=%d: C4 count field = %d", n, got)
		}
	}
}

func TestTxFrequencyBytes(t *testing.T) {
	p, _ := newSnapshot(t, 1)
	p.SetTxFrequency(14074000) // 0x00D6C090
	s := p.Snapshot()

	r := NewRoundRobin(1)
	r.Next(&s)
	c := r.Next(&s)

	want := codec.ControlBytes{protocol.C0_TX_FREQ, 0x00, 0xD6, 0xC0, 0x90}
	if c != want {
		t.Errorf("TX frequency bytes = % x, want % x", c, want)
	}
}

func TestRxFrequencyForceAllThenChanges(t *testing.T) {
	p, _ := newSnapshot(t, 3)
	for i := 0; i < 3; i++ {
		_ = p.SetRxFrequency(i, uint32(7000000+i*1000))
	}
	s := p.Snapshot()
	r := NewRoundRobin(3)

	rxFrame := func() codec.ControlBytes {
		for r.State() != STATE_RX_FREQ {
			r.Next(&s)
		}
		return r.Next(&s)
	}

	// startup: every receiver once, in order
	for i := 0; i < 3; i++ {
		c := rxFrame()
		if c[0] != protocol.RxFrequencyAddress(i) {
			t.Errorf("forced frame %d C0 = %#x, want %#x", i, c[0], protocol.RxFrequencyAddress(i))
		}
	}

	_ = p.SetRxFrequency(2, 7100000)
	s = p.Snapshot()
	c := rxFrame()
	if c[0] != protocol.RxFrequencyAddress(2) {
		t.Errorf("changed receiver C0 = %#x, want %#x", c[0], protocol.RxFrequencyAddress(2))
	}
	if got := uint32(c[1])<<24 | uint32(c[2])<<16 | uint32(c[3])<<8 | uint32(c[4]); got != 7100000 {
		t.Errorf("frequency = %d, want 7100000", got)
	}
}

func TestRxFrequencyUnchangedRefreshesInTurn(t *testing.T) {
	p, _ := newSnapshot(t, 3)
	for i := 0; i < 3; i++ {
		_ = p.SetRxFrequency(i, uint32(3500000+i*100000))
	}
	s := p.Snapshot()
	r := NewRoundRobin(3)

	rxFrame := func() codec.ControlBytes {
		for r.State() != STATE_RX_FREQ {
			r.Next(&s)
		}
		return r.Next(&s)
	}
	for i := 0; i < 3; i++ {
		rxFrame()
	}

	// nothing changed: each receiver is resent with its own frequency,
	// never a zeroed frame that would retune receiver 1 to 0 Hz
	for i := 0; i < 6; i++ {
		rx := i % 3
		c := rxFrame()
		if c[0] != protocol.RxFrequencyAddress(rx) {
			t.Errorf("refresh %d C0 = %#x, want %#x", i, c[0], protocol.RxFrequencyAddress(rx))
		}
		want := uint32(3500000 + rx*100000)
		if got := uint32(c[1])<<24 | uint32(c[2])<<16 | uint32(c[3])<<8 | uint32(c[4]); got != want {
			t.Errorf("refresh %d frequency = %d, want %d", i, got, want)
		}
	}
}

func TestRxFrequencyAddressHighReceivers(t *testing.T) {
	_, s := newSnapshot(t, 12)
	c := RxFrequencyBytes(&s, 9)
	if c[0] != 0x28 {
		t.Errorf("receiver 9 C0 = %#x, want 0x28", c[0])
	}
}

func TestDriveAndFilters(t *testing.T) {
	p, _ := newSnapshot(t, 1)
	p.SetFrontend(radio.Frontend{AlexEnabled: true})
	p.SetDrive(200)
	p.SetTxFrequency(7074000)
	_ = p.SetRxFrequency(0, 7074000)

	s := p.Snapshot()
	c := driveBytes(&s)
	if c[1] != 200 || c[3] != ALEX_HPF_6_5MHZ || c[4] != 0 {
		t.Errorf("receive drive bytes = % x", c)
	}

	p.SetMox(true)
	s = p.Snapshot()
	c = driveBytes(&s)
	if c[4] != ALEX_LPF_60_40 {
		t.Errorf("transmit LPF = %#x, want %#x", c[4], ALEX_LPF_60_40)
	}
}

func TestLowPassFilterTable(t *testing.T) {
	tests := []struct {
		hz   uint32
		want byte
	}{
		{1840000, ALEX_LPF_160},
		{3573000, ALEX_LPF_80},
		{7074000, ALEX_LPF_60_40},
		{14074000, ALEX_LPF_30_20},
		{18100000, ALEX_LPF_17_15},
		{28074000, ALEX_LPF_12_10},
		{50313000, ALEX_LPF_6},
	}
	for _, tt := range tests {
		if got := LowPassFilter(tt.hz); got != tt.want {
			t.Errorf("LowPassFilter(%d) = %#x, want %#x", tt.hz, got, tt.want)
		}
	}
}

func TestRouting(t *testing.T) {
	rxs := make([]radio.Receiver, 18)
	rxs[0].ADC = 1
	rxs[5].ADC = 2
	rxs[15].ADC = 3
	rxs[17].ADC = 3 // beyond 16, ignored

	got := Routing(rxs)
	want := [4]byte{0x01, 0x02 << 2, 0x00, 0x03 << 6}
	if got != want {
		t.Errorf("Routing() = % x, want % x", got, want)
	}
}

func TestCWFrames(t *testing.T) {
	p, _ := newSnapshot(t, 1)
	p.SetCW(radio.CW{
		Internal:       true,
		SidetoneVolume: 40,
		PTTDelay:       20,
		HangTime:       500,
		SidetoneFreq:   700,
		Speed:          25,
		Mode:           radio.KEYER_MODE_A,
		Weight:         55,
		Spacing:        true,
		Reversed:       true,
	})
	p.SetCWMode(true)
	s := p.Snapshot()

	r := NewRoundRobin(1)
	frames := make(map[int]codec.ControlBytes)
	for i := 0; i < NUM_STATES; i++ {
		st := r.State()
		frames[st] = r.Next(&s)
	}

	tests := []struct {
		name  string
		state int
		want  codec.ControlBytes
	}{
		{"enable", STATE_CW_ENABLE, codec.ControlBytes{0x1E, 0x01, 40, 20, 0}},
		{"timing", STATE_CW_TIMING, codec.ControlBytes{0x20, 500 >> 2, 500 & 3, 700 >> 4, 700 & 0x0F}},
		{"keyer", STATE_KEYER, codec.ControlBytes{0x16, 0, 0x40, 25 | 1<<6, 55 | 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := frames[tt.state]; got != tt.want {
				t.Errorf("state %d = % x, want % x", tt.state, got, tt.want)
			}
		})
	}

	// internal keyer is gated off while transmitting
	p.SetMox(true)
	s = p.Snapshot()
	r.Reset()
	for r.State() != STATE_CW_ENABLE {
		r.Next(&s)
	}
	if c := r.Next(&s); c[1] != 0 {
		t.Errorf("CW enable while transmitting = %#x, want 0", c[1])
	}
}

func TestMoxBit(t *testing.T) {
	tests := []struct {
		name    string
		mox     bool
		ptt     bool
		cw      bool
		wantMox bool
	}{
		{"receive", false, false, false, false},
		{"mox", true, false, false, true},
		{"ptt", false, true, false, true},
		{"cw forces off", true, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newSnapshot(t, 2)
			p.SetMox(tt.mox)
			p.SetPTT(tt.ptt)
			p.SetCWMode(tt.cw)
			s := p.Snapshot()

			r := NewRoundRobin(2)
			for i := 0; i < 2*NUM_STATES; i++ {
				c := r.Next(&s)
				if got := c[0]&protocol.C0_MOX_BIT != 0; got != tt.wantMox {
					t.Fatalf("visit %d: MOX = %v, want %v", i, got, tt.wantMox)
				}
			}
		})
	}
}
