// Package protocol defines the JSON envelopes exchanged through the room relay.
//
// The relay forwards every envelope to every other client in the room, so
// unicast messages (offer, answer, candidate) carry a "to" field that
// receivers use to filter.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of envelope.
type Type string

const (
	TypeJoin        Type = "join"
	TypeOffer       Type = "offer"
	TypeAnswer      Type = "answer"
	TypeCandidate   Type = "candidate"
	TypeAudioToggle Type = "audio-toggle"
	TypeUserLeft    Type = "user-left"
)

// Message is one decoded envelope. The concrete types are *Join,
// *Description, *Candidate, *AudioToggle and *UserLeft.
type Message interface {
	MsgType() Type
	// Sender is the participant the envelope came from. Relay-originated
	// envelopes return "".
	Sender() string
}

// Recipient returns the addressee of a unicast envelope, or "" for broadcasts.
func Recipient(m Message) string {
	switch v := m.(type) {
	case *Description:
		return v.To
	case *Candidate:
		return v.To
	}
	return ""
}

// ---------------------------------------------------------------------------
// join
// ---------------------------------------------------------------------------

// Join announces a participant to the room.
type Join struct {
	From         string `json:"from"`
	Name         string `json:"name"`
	AudioEnabled bool   `json:"audioEnabled"`
}

func (*Join) MsgType() Type    { return TypeJoin }
func (j *Join) Sender() string { return j.From }

func (j *Join) MarshalJSON() ([]byte, error) {
	type alias Join
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeJoin, (*alias)(j)})
}

// ---------------------------------------------------------------------------
// offer / answer
// ---------------------------------------------------------------------------

// Description carries an SDP offer or answer. On the wire the session
// description is flattened into the envelope: its "type" is the envelope
// type and its "sdp" sits next to the routing fields.
type Description struct {
	Type         Type   `json:"type"`
	SDP          string `json:"sdp"`
	From         string `json:"from"`
	To           string `json:"to"`
	Name         string `json:"name"`
	AudioEnabled bool   `json:"audioEnabled"`
}

// NewDescription wraps a local pion description for sending to one peer.
func NewDescription(desc webrtc.SessionDescription, from, to, name string, audioEnabled bool) (*Description, error) {
	var t Type
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		t = TypeOffer
	case webrtc.SDPTypeAnswer:
		t = TypeAnswer
	default:
		return nil, fmt.Errorf("unsupported sdp type %q", desc.Type.String())
	}
	return &Description{
		Type:         t,
		SDP:          desc.SDP,
		From:         from,
		To:           to,
		Name:         name,
		AudioEnabled: audioEnabled,
	}, nil
}

func (d *Description) MsgType() Type  { return d.Type }
func (d *Description) Sender() string { return d.From }

// ToPion converts the envelope back to a pion session description.
func (d *Description) ToPion() (webrtc.SessionDescription, error) {
	switch d.Type {
	case TypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case TypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	}
	return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", d.Type)
}

// ---------------------------------------------------------------------------
// candidate
// ---------------------------------------------------------------------------

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateFromPion converts a gathered pion candidate.
func CandidateFromPion(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Candidate trickles one ICE candidate to one peer.
type Candidate struct {
	Candidate ICECandidate `json:"candidate"`
	From      string       `json:"from"`
	To        string       `json:"to"`
}

func (*Candidate) MsgType() Type    { return TypeCandidate }
func (c *Candidate) Sender() string { return c.From }

func (c *Candidate) MarshalJSON() ([]byte, error) {
	type alias Candidate
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeCandidate, (*alias)(c)})
}

// ---------------------------------------------------------------------------
// audio-toggle / user-left
// ---------------------------------------------------------------------------

// AudioToggle broadcasts a microphone state change.
type AudioToggle struct {
	From    string `json:"from"`
	Enabled bool   `json:"enabled"`
}

func (*AudioToggle) MsgType() Type    { return TypeAudioToggle }
func (a *AudioToggle) Sender() string { return a.From }

func (a *AudioToggle) MarshalJSON() ([]byte, error) {
	type alias AudioToggle
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeAudioToggle, (*alias)(a)})
}

// UserLeft is emitted by the relay when a client disconnects.
type UserLeft struct {
	ID string `json:"id"`
}

func (*UserLeft) MsgType() Type  { return TypeUserLeft }
func (*UserLeft) Sender() string { return "" }

func (u *UserLeft) MarshalJSON() ([]byte, error) {
	type alias UserLeft
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeUserLeft, (*alias)(u)})
}
