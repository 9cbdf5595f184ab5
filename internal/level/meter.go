// Package level turns audio observations into a speaking indicator.
package level

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Defaults for NewMeter.
const (
	DefaultThreshold = 50 // dBov; quieter than -50 dBov is silence
	DefaultHold      = 400 * time.Millisecond

	// Opus frames under this size are DTX/comfort noise.
	silentPayloadSize = 16
)

// Meter reports speaking/not-speaking transitions for one audio track.
//
// Observations come either from the RFC 6464 audio level header extension
// (0 = loudest, 127 = silence) or, when the extension was not negotiated,
// from the size of the Opus payload. A track stays "speaking" for Hold after
// the last loud observation so the indicator does not flicker between words.
type Meter struct {
	threshold uint8
	hold      time.Duration
	onChange  func(speaking bool)
	now       func() time.Time

	mu       sync.Mutex
	speaking bool
	lastLoud time.Time
}

// NewMeter creates a meter; onChange is called on every transition from
// whichever goroutine made the observation.
func NewMeter(threshold uint8, hold time.Duration, onChange func(speaking bool)) *Meter {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Meter{
		threshold: threshold,
		hold:      hold,
		onChange:  onChange,
		now:       time.Now,
	}
}

// ObserveLevel records one RFC 6464 level in -dBov.
func (m *Meter) ObserveLevel(dBov uint8) {
	m.observe(dBov < m.threshold)
}

// ObservePayload records one encoded frame of n bytes.
func (m *Meter) ObservePayload(n int) {
	m.observe(n > silentPayloadSize)
}

// ObservePacket uses the audio level extension with id extID when present,
// the payload size otherwise.
func (m *Meter) ObservePacket(pkt *rtp.Packet, extID uint8) {
	if extID != 0 {
		if raw := pkt.GetExtension(extID); raw != nil {
			var ext rtp.AudioLevelExtension
			if err := ext.Unmarshal(raw); err == nil {
				m.ObserveLevel(ext.Level)
				return
			}
		}
	}
	m.ObservePayload(len(pkt.Payload))
}

// Clear forces the not-speaking state without reporting it. Callers that
// already show the participant as silent use it so the next loud
// observation is a transition again.
func (m *Meter) Clear() {
	m.mu.Lock()
	m.speaking = false
	m.lastLoud = time.Time{}
	m.mu.Unlock()
}

// Speaking reports the current state.
func (m *Meter) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

func (m *Meter) observe(loud bool) {
	now := m.now()

	m.mu.Lock()
	next := m.speaking
	if loud {
		m.lastLoud = now
		next = true
	} else if m.speaking && now.Sub(m.lastLoud) >= m.hold {
		next = false
	}
	changed := next != m.speaking
	m.speaking = next
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(next)
	}
}

// AudioLevelExtensionID returns the negotiated id of the ssrc-audio-level
// extension, or 0 when it was not negotiated.
func AudioLevelExtensionID(params webrtc.RTPParameters) uint8 {
	for _, ext := range params.HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}
