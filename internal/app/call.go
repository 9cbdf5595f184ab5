// Package app wires the call together: capture devices, the relay channel,
// the peer connection factory and the mesh controller.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/huddle/internal/config"
	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/mesh"
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/signaling"
	"github.com/1ureka/huddle/internal/state"
	"github.com/1ureka/huddle/internal/transport"
	"github.com/1ureka/huddle/internal/ui"
	"github.com/1ureka/huddle/internal/util"
)

// Params are the per-call choices made by the user or restored from the
// saved call.
type Params struct {
	Room  string
	Name  string
	Prefs media.Prefs
}

// Call is a running call.
type Call struct {
	*mesh.Controller
	View *ui.Terminal

	cancel    context.CancelFunc
	relayDone chan error
}

// Devices builds the capture devices described by cfg. Without a microphone
// file the microphone sends silence.
func Devices(cfg *config.Config) media.Devices {
	var d media.Devices
	if cfg.CameraFile != "" {
		d.Camera = &media.IVFDevice{Path: cfg.CameraFile, Loop: true, Name: "camera"}
	}
	if cfg.MicFile != "" {
		d.Mic = &media.OggDevice{Path: cfg.MicFile, Loop: true, Name: "microphone"}
	} else {
		d.Mic = media.SilenceDevice{}
	}
	if cfg.ScreenFile != "" {
		d.Screen = &media.IVFDevice{Path: cfg.ScreenFile, Name: "screen"}
	}
	if cfg.ScreenAudioFile != "" {
		d.ScreenAudio = &media.OggDevice{Path: cfg.ScreenAudioFile, Name: "system audio"}
	}
	return d
}

// StartCall orchestrates the call setup:
//  1. Acquire camera and microphone with the saved preferences
//  2. Prepare the peer connection factory
//  3. Dial the relay; every (re)connection announces us with a join
//  4. Run the controller until EndCall or ctx cancellation
//
// A MediaAccessError is returned before anything is sent to the room.
func StartCall(ctx context.Context, cfg *config.Config, p Params) (*Call, error) {
	// ── 1. Local media ─────────────────────────────────────────────────
	mgr := media.NewManager(Devices(cfg))
	cam, err := mgr.AcquireCameraAndMic(p.Prefs)
	if err != nil {
		var mae *media.MediaAccessError
		if errors.As(err, &mae) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire camera and microphone: %w", err)
	}
	mgr.SetActive(cam)

	// ── 2. Peer connections ────────────────────────────────────────────
	factory, err := transport.NewFactory(cfg.ICE)
	if err != nil {
		mgr.StopAll()
		return nil, fmt.Errorf("prepare webrtc: %w", err)
	}

	// ── 3. Relay ───────────────────────────────────────────────────────
	wsURL, err := signaling.BuildURL(cfg.RelayURL, p.Room, cfg.Secure)
	if err != nil {
		mgr.StopAll()
		return nil, err
	}

	view := ui.NewTerminal(nil)
	var ctrl *mesh.Controller
	channel := signaling.New(signaling.Options{
		URL:         wsURL,
		RejoinDelay: cfg.RejoinDelay,
		PingPeriod:  cfg.PingPeriod,
	}, signaling.Handlers{
		OnConnect:    func(reconnect bool) { ctrl.RelayConnected(reconnect) },
		OnDisconnect: func(err error) { ctrl.RelayDisconnected(err) },
		OnMessage:    func(msg protocol.Message) { ctrl.HandleMessage(msg) },
	})

	ctrl = mesh.New(mesh.Config{
		Self: mesh.NewIdentity(p.Name),
		Room: p.Room,
		Retry: mesh.RetryPolicy{
			Delay:       cfg.RetryDelay,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
		SpeakingThreshold: uint8(cfg.SpeakingThreshold),
	}, channel, factory, mgr, view, state.NewStore(cfg.StateFile))

	// ── 4. Run ─────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(ctx)
	call := &Call{Controller: ctrl, View: view, cancel: cancel, relayDone: make(chan error, 1)}

	go func() { call.relayDone <- channel.Run(ctx) }()
	go func() {
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			util.LogError("call loop: %v", err)
		}
	}()
	util.StartStatsReporter(ctx, cfg.StatsInterval)

	util.LogInfo("joining room %q as %s via %s", p.Room, ctrl.Self().Name, wsURL)
	return call, nil
}

// Wait blocks until the call has ended and the relay is closed.
func (c *Call) Wait() error {
	<-c.Done()
	c.cancel()
	err := <-c.relayDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
