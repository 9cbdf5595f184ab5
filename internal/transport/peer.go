// Package transport wraps pion PeerConnections as the per-peer media session
// handle used by the mesh controller.
package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/util"
)

// DefaultICEServers are used when no ICE servers are configured. No TURN:
// peers behind symmetric NATs will fail and go through the retry path.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newAPI builds a pion API with the default codecs, the RFC 6464 audio level
// header extension for the speaking indicator, the default interceptors
// (NACK, RTCP reports, TWCC) and pion logs routed into our logger.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = util.PionLoggerFactory{}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// Factory creates one Peer per remote participant from a shared API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory prepares the pion API. An empty iceServers list falls back to
// DefaultICEServers.
func NewFactory(iceServers []string) (*Factory, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	return &Factory{
		api: api,
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
		},
	}, nil
}

// NewConn creates a Peer for remoteID with ev wired to its callbacks.
func (f *Factory) NewConn(remoteID string, ev session.ConnEvents) (session.Conn, error) {
	return f.NewPeer(remoteID, ev)
}

// NewPeer is NewConn returning the concrete type.
func (f *Factory) NewPeer(remoteID string, ev session.ConnEvents) (*Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newPeer(pc, remoteID, ev), nil
}
