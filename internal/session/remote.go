// Package session tracks one negotiation per remote participant.
package session

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// State is the negotiation state of one remote session.
type State int

const (
	StateNew State = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Healthy reports whether a session in this state can still reach
// CONNECTED without being recreated.
func (s State) Healthy() bool {
	return s != StateFailed && s != StateClosed
}

// Conn is the peer session handle a RemoteSession owns. transport.Peer is
// the production implementation.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) error
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// ConnEvents are the callbacks a Conn reports through. They may fire on any
// goroutine.
type ConnEvents struct {
	OnState     func(webrtc.PeerConnectionState)
	OnCandidate func(webrtc.ICECandidateInit)
	OnTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// RemoteSession holds the complete negotiation state for one remote id.
// The controller goroutine is its only writer; the mutex lets the view and
// stats read a consistent copy.
type RemoteSession struct {
	// Identity
	id         string
	generation uint64

	// Negotiation
	mu           sync.RWMutex
	name         string
	state        State
	audioEnabled bool

	conn      Conn
	closeOnce sync.Once
}

// New creates a session in StateNew that owns conn.
func New(id string, generation uint64, name string, audioEnabled bool, conn Conn) *RemoteSession {
	return &RemoteSession{
		id:           id,
		generation:   generation,
		name:         name,
		audioEnabled: audioEnabled,
		conn:         conn,
	}
}

func (s *RemoteSession) ID() string         { return s.id }
func (s *RemoteSession) Generation() uint64 { return s.generation }
func (s *RemoteSession) Conn() Conn         { return s.conn }

func (s *RemoteSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState moves the session to next. CLOSED is terminal: once closed the
// state never changes again and SetState returns false.
func (s *RemoteSession) SetState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}

func (s *RemoteSession) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName records the display name, ignoring empty values.
func (s *RemoteSession) SetName(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *RemoteSession) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioEnabled
}

func (s *RemoteSession) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioEnabled = enabled
	s.mu.Unlock()
}

// Close marks the session CLOSED and closes the connection exactly once,
// no matter how many paths race to tear it down.
func (s *RemoteSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// Info is a read-only copy of a session used by presentation code.
type Info struct {
	ID           string
	Name         string
	State        State
	AudioEnabled bool
	Generation   uint64
}

func (s *RemoteSession) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:           s.id,
		Name:         s.name,
		State:        s.state,
		AudioEnabled: s.audioEnabled,
		Generation:   s.generation,
	}
}
