// Package mesh is the signaling state machine of a full-mesh call: one
// negotiated peer session per remote participant, driven by relay envelopes,
// peer callbacks and user commands, all serialized on one event loop.
package mesh

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/state"
)

// Identity is the local participant.
type Identity struct {
	ID   string
	Name string
}

// NewIdentity draws a random 8-character id for this call.
func NewIdentity(name string) Identity {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return Identity{ID: id, Name: name}
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Relay sends envelopes to the room. signaling.Channel implements it.
type Relay interface {
	Send(msg protocol.Message) error
	Close()
}

// ConnFactory creates the peer session handle for a remote participant.
// transport.Factory implements it.
type ConnFactory interface {
	NewConn(remoteID string, ev session.ConnEvents) (session.Conn, error)
}

// Media is the local stream source. media.Manager implements it.
type Media interface {
	Active() *media.Stream
	Camera() *media.Stream
	SetActive(s *media.Stream)
	AcquireScreenShare() (*media.Stream, error)
	Sharing() bool
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	AudioEnabled() bool
	VideoEnabled() bool
	StopAll()
}

// Buttons is the toggled state of the local controls.
type Buttons struct {
	Muted     bool
	CameraOff bool
	Sharing   bool
}

// View is told about every visible change. Calls come from the controller
// goroutine only.
type View interface {
	ShowLocal(id, name string, audioEnabled bool)
	AddTile(id, name string, audioEnabled bool)
	RemoveTile(id string)
	SetName(id, name string)
	SetPeerState(id string, state session.State)
	SetMic(id string, enabled bool)
	SetSpeaking(id string, speaking bool)
	SetButtons(b Buttons)
	Clear()
}

// StateStore persists the call across restarts. state.Store implements it.
type StateStore interface {
	Save(saved state.Saved) error
	Clear() error
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// RetryPolicy governs how a session whose transport failed is rebuilt.
// MaxAttempts bounds consecutive retries per remote id; 0 means unbounded.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy retries one second after every failure, forever.
var DefaultRetryPolicy = RetryPolicy{Delay: time.Second}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Config configures a Controller.
type Config struct {
	Self              Identity
	Room              string
	Retry             RetryPolicy
	SpeakingThreshold uint8     // dBov, 0 = level.DefaultThreshold
	AfterFunc         AfterFunc // nil = time.AfterFunc
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// NegotiationError is an offer/answer/candidate step that could not be
// applied. The envelope that caused it is dropped.
type NegotiationError struct {
	RemoteID string
	Step     string
	Err      error
}

func (e *NegotiationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("negotiation with %s: %s", e.RemoteID, e.Step)
	}
	return fmt.Sprintf("negotiation with %s: %s: %v", e.RemoteID, e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TrackReplaceError is one session that rejected a track swap. Other
// sessions are unaffected.
type TrackReplaceError struct {
	RemoteID string
	Kind     webrtc.RTPCodecType
	Err      error
}

func (e *TrackReplaceError) Error() string {
	return fmt.Sprintf("replace %s track for %s: %v", e.Kind, e.RemoteID, e.Err)
}

func (e *TrackReplaceError) Unwrap() error { return e.Err }
