package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/util"
)

// ErrNoSender is returned by ReplaceTrack when no track of that kind was
// attached at negotiation time. Adding one would need renegotiation.
var ErrNoSender = errors.New("no sender for track kind")

// Peer wraps a single PeerConnection. It implements session.Conn.
//
// Remote ICE candidates that arrive before the remote description are
// queued and applied once SetRemoteDescription succeeds, so the controller
// can hand over every candidate as soon as it is received.
type Peer struct {
	pc  *webrtc.PeerConnection
	tag uint32

	mu        sync.Mutex
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closeOnce sync.Once
	closeErr  error
}

var _ session.Conn = (*Peer)(nil)

func newPeer(pc *webrtc.PeerConnection, remoteID string, ev session.ConnEvents) *Peer {
	p := &Peer{
		pc:      pc,
		tag:     util.PeerTag(remoteID),
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("[%08x] PeerConnection state: %s", p.tag, state.String())
		if ev.OnState != nil {
			ev.OnState(state)
		}
	})

	// Trickle ICE. A nil candidate marks the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || ev.OnCandidate == nil {
			return
		}
		ev.OnCandidate(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		util.LogDebug("[%08x] remote %s track %s (%s)", p.tag, track.Kind(), track.ID(), track.Codec().MimeType)
		if ev.OnTrack != nil {
			ev.OnTrack(track, receiver)
		}
	})

	return p
}

// ---------------------------------------------------------------------------
// Tracks
// ---------------------------------------------------------------------------

// AddTrack attaches an outgoing track. Must be called before the first offer
// or answer so the track is part of the negotiated session.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}

	p.mu.Lock()
	p.senders[track.Kind()] = sender
	p.mu.Unlock()

	go drainRTCP(sender)
	return nil
}

// ReplaceTrack swaps the outgoing track of the given kind in place. No
// renegotiation happens; the remote keeps receiving on the same transceiver.
func (p *Peer) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	p.mu.Lock()
	sender, ok := p.senders[kind]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, kind)
	}
	return sender.ReplaceTrack(track)
}

// drainRTCP reads incoming RTCP so that interceptors (NACK, reports) run.
// It exits when the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts ICE gathering.
func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

// SetRemoteDescription applies the remote SDP, then flushes any candidates
// that were queued while it was missing.
func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			util.LogWarning("[%08x] queued AddICECandidate failed: %v", p.tag, err)
		}
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate, or queues it until the remote
// description is known.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ConnectionState returns the current PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Close shuts down the PeerConnection. Safe to call multiple times.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
