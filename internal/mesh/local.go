package mesh

import (
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/huddle/internal/level"
	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/state"
	"github.com/1ureka/huddle/internal/util"
)

// start renders the local tile and attaches the local speaking meter.
func (c *Controller) start() {
	self := c.cfg.Self
	c.view.ShowLocal(self.ID, self.Name, c.media.AudioEnabled())
	c.view.SetButtons(c.buttons())

	c.localMeter = level.NewMeter(c.cfg.SpeakingThreshold, level.DefaultHold, func(speaking bool) {
		c.post(speakingEvent{id: self.ID, speaking: speaking})
	})
	if cam := c.media.Camera(); cam != nil && cam.Audio != nil {
		meter := c.localMeter
		cam.Audio.Observe(func(s pionmedia.Sample) { meter.ObservePayload(len(s.Data)) })
	}
}

// shutdown tears the call down. clear also forgets the persisted state so
// the next start does not rejoin.
func (c *Controller) shutdown(clear bool) {
	if c.ended {
		return
	}
	c.ended = true

	for id := range c.retries {
		c.cancelRetry(id)
	}
	for _, s := range c.registry.Drain() {
		c.closeSession(s)
	}
	c.relay.Close()
	c.media.StopAll()

	if clear {
		if err := c.store.Clear(); err != nil {
			util.LogWarning("clear saved call: %v", err)
		}
	}
	c.view.Clear()
}

func (c *Controller) buttons() Buttons {
	return Buttons{
		Muted:     !c.media.AudioEnabled(),
		CameraOff: !c.media.VideoEnabled(),
		Sharing:   c.media.Sharing(),
	}
}

// persist saves what a rejoin after restart needs.
func (c *Controller) persist() {
	err := c.store.Save(state.Saved{
		Room:      c.cfg.Room,
		Name:      c.cfg.Self.Name,
		MicMuted:  !c.media.AudioEnabled(),
		CameraOff: !c.media.VideoEnabled(),
	})
	if err != nil {
		util.LogWarning("save call state: %v", err)
	}
}

func (c *Controller) handleSpeaking(id string, gen uint64, speaking bool) {
	if id == c.cfg.Self.ID {
		if speaking && !c.media.AudioEnabled() {
			return
		}
		c.view.SetSpeaking(id, speaking)
		return
	}

	s, ok := c.lookup(id, gen)
	if !ok {
		return
	}
	if speaking && !s.AudioEnabled() {
		return
	}
	c.view.SetSpeaking(id, speaking)
}

// handleScreenEnded falls back to the camera when the capture of the active
// share stops on its own.
func (c *Controller) handleScreenEnded(stream *media.Stream) {
	if c.media.Active() != stream {
		return
	}
	util.LogInfo("screen share ended")
	if cam := c.media.Camera(); cam != nil {
		c.setActiveStream(cam)
	}
}

// setActiveStream swaps the outgoing tracks of every session to s without
// renegotiating. A session that rejects the swap keeps its old track.
func (c *Controller) setActiveStream(s *media.Stream) {
	c.registry.ForEach(func(rs *session.RemoteSession) {
		for _, t := range s.Tracks() {
			if err := rs.Conn().ReplaceTrack(t.Kind(), t.Track()); err != nil {
				util.LogWarning("[%08x] %v", util.PeerTag(rs.ID()),
					&TrackReplaceError{RemoteID: rs.ID(), Kind: t.Kind(), Err: err})
			}
		}
	})
	c.media.SetActive(s)
	c.view.SetButtons(c.buttons())
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// ToggleMute flips the microphone, tells the room once and returns whether
// the microphone is now muted.
func (c *Controller) ToggleMute() (muted bool, err error) {
	err = c.do(func() error {
		enabled, err := c.media.ToggleAudio()
		if err != nil {
			return err
		}
		muted = !enabled

		c.view.SetMic(c.cfg.Self.ID, enabled)
		if muted {
			c.view.SetSpeaking(c.cfg.Self.ID, false)
			if c.localMeter != nil {
				c.localMeter.Clear()
			}
		}
		c.view.SetButtons(c.buttons())
		c.persist()

		c.send(&protocol.AudioToggle{From: c.cfg.Self.ID, Enabled: enabled})
		return nil
	})
	return muted, err
}

// ToggleCamera flips the video of the active stream, the screen while
// sharing, and returns whether it is now off. Peers see the change on the
// wire; nothing is signalled.
func (c *Controller) ToggleCamera() (off bool, err error) {
	err = c.do(func() error {
		enabled, err := c.media.ToggleVideo()
		if err != nil {
			return err
		}
		off = !enabled
		c.view.SetButtons(c.buttons())
		c.persist()
		return nil
	})
	return off, err
}

// ShareScreen starts a screen share, or stops the current one. It returns
// whether a share is active afterwards.
func (c *Controller) ShareScreen() (sharing bool, err error) {
	err = c.do(func() error {
		if c.media.Sharing() {
			if cam := c.media.Camera(); cam != nil {
				c.setActiveStream(cam)
			}
			sharing = false
			return nil
		}

		screen, err := c.media.AcquireScreenShare()
		if err != nil {
			return err
		}
		c.setActiveStream(screen)
		screen.OnEnded(func() { c.post(screenEndedEvent{stream: screen}) })
		sharing = true
		return nil
	})
	return sharing, err
}

// SetActiveStream makes s the outgoing stream of every session.
func (c *Controller) SetActiveStream(s *media.Stream) error {
	return c.do(func() error {
		c.setActiveStream(s)
		return nil
	})
}

// EndCall leaves the room for good: sessions are closed, capture stops and
// the saved call is forgotten. Later commands return ErrEnded.
func (c *Controller) EndCall() error {
	return c.do(func() error {
		c.shutdown(true)
		return nil
	})
}
