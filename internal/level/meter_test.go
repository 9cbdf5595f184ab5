package level

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// newTestMeter returns a meter on a manual clock and a log of transitions.
func newTestMeter(hold time.Duration) (*Meter, *time.Time, *[]bool) {
	var changes []bool
	clock := time.Unix(1000, 0)
	m := NewMeter(DefaultThreshold, hold, func(s bool) { changes = append(changes, s) })
	m.now = func() time.Time { return clock }
	return m, &clock, &changes
}

func TestMeterTransitions(t *testing.T) {
	m, clock, changes := newTestMeter(300 * time.Millisecond)

	m.ObserveLevel(127) // silence
	if m.Speaking() || len(*changes) != 0 {
		t.Fatal("silence must not trigger speaking")
	}

	m.ObserveLevel(20) // loud
	if !m.Speaking() {
		t.Fatal("expected speaking after a loud level")
	}

	*clock = clock.Add(100 * time.Millisecond)
	m.ObserveLevel(127)
	if !m.Speaking() {
		t.Fatal("speaking should hold between words")
	}

	*clock = clock.Add(300 * time.Millisecond)
	m.ObserveLevel(127)
	if m.Speaking() {
		t.Fatal("speaking should end after the hold time")
	}

	if len(*changes) != 2 || !(*changes)[0] || (*changes)[1] {
		t.Fatalf("unexpected transitions: %v", *changes)
	}
}

func TestMeterPayloadFallback(t *testing.T) {
	testCases := []struct {
		name string
		size int
		want bool
	}{
		{"dtx frame", 3, false},
		{"speech frame", 80, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _ := newTestMeter(0)
			m.ObservePacket(&rtp.Packet{Payload: make([]byte, tc.size)}, 0)
			if m.Speaking() != tc.want {
				t.Errorf("speaking: got %v, want %v", m.Speaking(), tc.want)
			}
		})
	}
}

func TestMeterReadsExtension(t *testing.T) {
	m, _, _ := newTestMeter(0)

	raw, err := (rtp.AudioLevelExtension{Level: 10, Voice: true}).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pkt := &rtp.Packet{Payload: make([]byte, 2)}
	if err := pkt.Header.SetExtension(3, raw); err != nil {
		t.Fatalf("SetExtension: %v", err)
	}

	// A tiny payload would read as silence; the extension must win.
	m.ObservePacket(pkt, 3)
	if !m.Speaking() {
		t.Fatal("expected the audio level extension to report speech")
	}
}

func TestMeterClear(t *testing.T) {
	m, _, changes := newTestMeter(time.Hour)
	m.ObserveLevel(0)
	m.Clear()
	if m.Speaking() {
		t.Fatal("Clear should end speaking")
	}
	if len(*changes) != 1 {
		t.Fatalf("Clear must not report a transition, got %v", *changes)
	}

	// The next loud observation is a fresh transition.
	m.ObserveLevel(0)
	if len(*changes) != 2 || !(*changes)[1] {
		t.Fatalf("expected speaking to be reported again, got %v", *changes)
	}
}

func TestAudioLevelExtensionID(t *testing.T) {
	params := webrtc.RTPParameters{
		HeaderExtensions: []webrtc.RTPHeaderExtensionParameter{
			{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
			{URI: sdp.AudioLevelURI, ID: 4},
		},
	}
	if got := AudioLevelExtensionID(params); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
	if got := AudioLevelExtensionID(webrtc.RTPParameters{}); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
