package mesh

import (
	"errors"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/huddle/internal/level"
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/util"
)

// newSession creates and registers a session for id with the active local
// tracks attached. Callbacks from the connection are tagged with the new
// generation so events from a replaced session are recognisable.
func (c *Controller) newSession(id, name string, audioEnabled bool) (*session.RemoteSession, error) {
	gen := c.gens.Next()

	conn, err := c.conns.NewConn(id, session.ConnEvents{
		OnState: func(state webrtc.PeerConnectionState) {
			c.post(peerStateEvent{id: id, gen: gen, state: state})
		},
		OnCandidate: func(cand webrtc.ICECandidateInit) {
			c.post(localCandidateEvent{id: id, gen: gen, candidate: cand})
		},
		OnTrack: func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			go c.watchRemoteTrack(id, gen, track, receiver)
		},
	})
	if err != nil {
		return nil, err
	}

	if active := c.media.Active(); active != nil {
		for _, t := range active.Tracks() {
			if err := conn.AddTrack(t.Track()); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
	}

	s := session.New(id, gen, name, audioEnabled, conn)
	if old, ok := c.registry.Upsert(s); ok {
		c.closeSession(old)
	}
	util.Stats.AddSession()
	c.view.AddTile(id, displayName(name, id), audioEnabled)
	c.view.SetPeerState(id, session.StateNew)

	util.LogDebug("[%08x] session gen=%d created", util.PeerTag(id), gen)
	return s, nil
}

// lookup returns the current session for id if it is generation gen.
func (c *Controller) lookup(id string, gen uint64) (*session.RemoteSession, bool) {
	s, ok := c.registry.Get(id)
	if !ok || s.Generation() != gen {
		return nil, false
	}
	return s, true
}

// closeSession closes s without touching the registry or the view.
func (c *Controller) closeSession(s *session.RemoteSession) {
	if s.State() == session.StateClosed {
		return
	}
	if err := s.Close(); err != nil {
		util.LogDebug("[%08x] close: %v", util.PeerTag(s.ID()), err)
	}
	if m, ok := c.meters[s.ID()]; ok && m.gen == s.Generation() {
		delete(c.meters, s.ID())
	}
	util.Stats.RemoveSession()
}

// discardSession closes s and removes it from the registry. The tile stays:
// a replacement session is about to take its place.
func (c *Controller) discardSession(s *session.RemoteSession) {
	c.registry.Remove(s)
	c.closeSession(s)
}

// abortNegotiation reports a failed negotiation step and drops the session.
func (c *Controller) abortNegotiation(s *session.RemoteSession, step string, err error) {
	util.LogError("[%08x] %v", util.PeerTag(s.ID()), &NegotiationError{RemoteID: s.ID(), Step: step, Err: err})
	c.discardSession(s)
	c.view.RemoveTile(s.ID())
}

func (c *Controller) sendDescription(desc webrtc.SessionDescription, to string) {
	msg, err := protocol.NewDescription(desc, c.cfg.Self.ID, to, c.cfg.Self.Name, c.media.AudioEnabled())
	if err != nil {
		util.LogError("[%08x] %v", util.PeerTag(to), err)
		return
	}
	c.send(msg)
}

// send hands msg to the relay. A disconnected relay drops it; the join on
// reconnect rebuilds whatever it was part of.
func (c *Controller) send(msg protocol.Message) {
	if err := c.relay.Send(msg); err != nil {
		util.LogWarning("send %s: %v", msg.MsgType(), err)
	}
}

// ---------------------------------------------------------------------------
// Peer connection events
// ---------------------------------------------------------------------------

func (c *Controller) handlePeerState(id string, gen uint64, state webrtc.PeerConnectionState) {
	s, ok := c.lookup(id, gen)
	if !ok {
		return
	}
	tag := util.PeerTag(id)

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.SetState(session.StateConnected)
		c.attempts[id] = 0
		c.view.SetPeerState(id, session.StateConnected)
		util.LogSuccess("[%08x] connected to %s", tag, displayName(s.Name(), id))
	case webrtc.PeerConnectionStateFailed:
		if !s.SetState(session.StateFailed) {
			return
		}
		c.view.SetPeerState(id, session.StateFailed)
		util.LogWarning("[%08x] connection to %s failed", tag, displayName(s.Name(), id))
		c.scheduleRetry(id, gen)
	case webrtc.PeerConnectionStateDisconnected:
		util.LogDebug("[%08x] transport disconnected, waiting for ICE", tag)
	}
}

func (c *Controller) handleLocalCandidate(id string, gen uint64, cand webrtc.ICECandidateInit) {
	if _, ok := c.lookup(id, gen); !ok {
		return
	}
	c.send(&protocol.Candidate{
		Candidate: protocol.CandidateFromPion(cand),
		From:      c.cfg.Self.ID,
		To:        id,
	})
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

// scheduleRetry arms a rebuild of the failed session (id, gen) after the
// policy delay. A pending retry for id is replaced.
func (c *Controller) scheduleRetry(id string, gen uint64) {
	limit := c.cfg.Retry.MaxAttempts
	if limit > 0 && c.attempts[id] >= limit {
		util.LogError("[%08x] giving up on %s after %d attempts", util.PeerTag(id), id, c.attempts[id])
		return
	}

	c.cancelRetry(id)
	stop := c.cfg.AfterFunc(c.cfg.Retry.Delay, func() {
		c.post(retryEvent{id: id, gen: gen})
	})
	c.retries[id] = retryTask{gen: gen, stop: stop}
}

func (c *Controller) cancelRetry(id string) {
	if task, ok := c.retries[id]; ok {
		task.stop()
		delete(c.retries, id)
	}
}

// handleRetry drops the failed session and re-announces us so the peer
// offers again. Anything that happened to the session in the meantime
// (replaced, recovered, closed) cancels the retry.
func (c *Controller) handleRetry(id string, gen uint64) {
	if task, ok := c.retries[id]; ok && task.gen == gen {
		delete(c.retries, id)
	}

	s, ok := c.lookup(id, gen)
	if !ok || s.State() != session.StateFailed {
		return
	}

	c.attempts[id]++
	util.Stats.AddRetry()
	util.LogInfo("[%08x] retrying %s (attempt %d)", util.PeerTag(id), displayName(s.Name(), id), c.attempts[id])

	c.discardSession(s)
	c.sendJoin()
}

// ---------------------------------------------------------------------------
// Remote media
// ---------------------------------------------------------------------------

// watchRemoteTrack consumes an incoming track until the session closes. For
// audio it drives the speaking indicator of the remote tile.
func (c *Controller) watchRemoteTrack(id string, gen uint64, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	tag := util.PeerTag(id)
	util.LogDebug("[%08x] remote %s track %s (%s)", tag, track.Kind(), track.ID(), track.Codec().MimeType)

	var meter *level.Meter
	var extID uint8
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		extID = level.AudioLevelExtensionID(receiver.GetParameters())
		meter = c.newRemoteMeter(id, gen)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("[%08x] remote %s track ended: %v", tag, track.Kind(), err)
			}
			return
		}
		util.Stats.AddMediaRecv(len(pkt.Payload))
		if meter != nil {
			meter.ObservePacket(pkt, extID)
		}
	}
}

// newRemoteMeter creates the speaking meter of session (id, gen) and hands
// it to the loop, which clears it when the peer toggles its microphone.
func (c *Controller) newRemoteMeter(id string, gen uint64) *level.Meter {
	meter := level.NewMeter(c.cfg.SpeakingThreshold, level.DefaultHold, func(speaking bool) {
		c.post(speakingEvent{id: id, gen: gen, speaking: speaking})
	})
	c.post(remoteMeterEvent{id: id, gen: gen, meter: meter})
	return meter
}
