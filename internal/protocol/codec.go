package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by Decode for envelopes with an unrecognised type.
var ErrUnknownType = errors.New("unknown message type")

// Encode serializes a message into one WebSocket text frame.
func Encode(m Message) ([]byte, error) {
	if d, ok := m.(*Description); ok && d.Type != TypeOffer && d.Type != TypeAnswer {
		return nil, fmt.Errorf("description has type %q", d.Type)
	}
	return json.Marshal(m)
}

// wire is the union of every envelope field. Booleans and nested objects are
// pointers so that Decode can tell a missing field from a zero value.
type wire struct {
	Type         Type          `json:"type"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Name         string        `json:"name"`
	SDP          *string       `json:"sdp"`
	AudioEnabled *bool         `json:"audioEnabled"`
	Enabled      *bool         `json:"enabled"`
	Candidate    *ICECandidate `json:"candidate"`
	ID           string        `json:"id"`
}

// Decode parses and validates one frame. Unknown fields are ignored so that
// newer clients can extend envelopes.
func Decode(data []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch w.Type {
	case TypeJoin:
		if w.From == "" {
			return nil, fmt.Errorf("join: missing from")
		}
		audio := true
		if w.AudioEnabled != nil {
			audio = *w.AudioEnabled
		}
		return &Join{From: w.From, Name: w.Name, AudioEnabled: audio}, nil

	case TypeOffer, TypeAnswer:
		if w.SDP == nil || *w.SDP == "" {
			return nil, fmt.Errorf("%s: missing sdp", w.Type)
		}
		if w.From == "" || w.To == "" {
			return nil, fmt.Errorf("%s: missing from/to", w.Type)
		}
		audio := true
		if w.AudioEnabled != nil {
			audio = *w.AudioEnabled
		}
		return &Description{
			Type:         w.Type,
			SDP:          *w.SDP,
			From:         w.From,
			To:           w.To,
			Name:         w.Name,
			AudioEnabled: audio,
		}, nil

	case TypeCandidate:
		if w.Candidate == nil {
			return nil, fmt.Errorf("candidate: missing candidate")
		}
		if w.From == "" || w.To == "" {
			return nil, fmt.Errorf("candidate: missing from/to")
		}
		return &Candidate{Candidate: *w.Candidate, From: w.From, To: w.To}, nil

	case TypeAudioToggle:
		if w.From == "" || w.Enabled == nil {
			return nil, fmt.Errorf("audio-toggle: missing from/enabled")
		}
		return &AudioToggle{From: w.From, Enabled: *w.Enabled}, nil

	case TypeUserLeft:
		if w.ID == "" {
			return nil, fmt.Errorf("user-left: missing id")
		}
		return &UserLeft{ID: w.ID}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}
