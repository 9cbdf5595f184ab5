package mesh

import (
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/util"
)

// handleMessage is the single dispatch point for relay envelopes.
func (c *Controller) handleMessage(msg protocol.Message) {
	self := c.cfg.Self.ID
	if msg.Sender() == self {
		return
	}
	if to := protocol.Recipient(msg); to != "" && to != self {
		return
	}

	switch m := msg.(type) {
	case *protocol.Join:
		c.handleJoin(m)
	case *protocol.Description:
		if m.Type == protocol.TypeOffer {
			c.handleOffer(m)
		} else {
			c.handleAnswer(m)
		}
	case *protocol.Candidate:
		c.handleCandidate(m)
	case *protocol.AudioToggle:
		c.handleAudioToggle(m)
	case *protocol.UserLeft:
		c.handleUserLeft(m)
	}
}

// handleJoin answers a newcomer with an offer. A join from a peer whose
// session is still healthy is a duplicate and changes nothing.
func (c *Controller) handleJoin(m *protocol.Join) {
	tag := util.PeerTag(m.From)

	if s, ok := c.registry.Get(m.From); ok {
		if s.State().Healthy() {
			util.LogDebug("[%08x] duplicate join from %s ignored (%s)", tag, m.From, s.State())
			return
		}
		c.discardSession(s)
	}

	s, err := c.newSession(m.From, m.Name, m.AudioEnabled)
	if err != nil {
		util.LogError("[%08x] %v", tag, &NegotiationError{RemoteID: m.From, Step: "create session", Err: err})
		return
	}

	offer, err := s.Conn().CreateOffer()
	if err != nil {
		c.abortNegotiation(s, "create offer", err)
		return
	}
	if err := s.Conn().SetLocalDescription(offer); err != nil {
		c.abortNegotiation(s, "set local offer", err)
		return
	}
	s.SetState(session.StateOfferSent)
	c.view.SetPeerState(s.ID(), session.StateOfferSent)

	c.sendDescription(offer, m.From)
	util.LogInfo("[%08x] %s joined, offer sent", tag, displayName(m.Name, m.From))
}

// handleOffer answers an offer, replacing whatever session existed for the
// sender. When both sides offered at once, the smaller id yields.
func (c *Controller) handleOffer(m *protocol.Description) {
	tag := util.PeerTag(m.From)

	if s, ok := c.registry.Get(m.From); ok {
		if s.State() == session.StateOfferSent && c.cfg.Self.ID > m.From {
			util.LogDebug("[%08x] offer glare with %s: keeping ours", tag, m.From)
			return
		}
		c.discardSession(s)
	}

	s, err := c.newSession(m.From, m.Name, m.AudioEnabled)
	if err != nil {
		util.LogError("[%08x] %v", tag, &NegotiationError{RemoteID: m.From, Step: "create session", Err: err})
		return
	}

	desc, err := m.ToPion()
	if err != nil {
		c.abortNegotiation(s, "parse offer", err)
		return
	}
	if err := s.Conn().SetRemoteDescription(desc); err != nil {
		c.abortNegotiation(s, "set remote offer", err)
		return
	}
	answer, err := s.Conn().CreateAnswer()
	if err != nil {
		c.abortNegotiation(s, "create answer", err)
		return
	}
	if err := s.Conn().SetLocalDescription(answer); err != nil {
		c.abortNegotiation(s, "set local answer", err)
		return
	}
	s.SetState(session.StateAnswerSent)
	c.view.SetPeerState(s.ID(), session.StateAnswerSent)

	c.sendDescription(answer, m.From)
	util.LogInfo("[%08x] offer from %s answered", tag, displayName(m.Name, m.From))
}

// handleAnswer completes an offer we sent. Answers in any other state are
// dropped.
func (c *Controller) handleAnswer(m *protocol.Description) {
	tag := util.PeerTag(m.From)

	s, ok := c.registry.Get(m.From)
	if !ok || s.State() != session.StateOfferSent {
		state := "no session"
		if ok {
			state = s.State().String()
		}
		util.LogWarning("[%08x] %v", tag, &NegotiationError{RemoteID: m.From, Step: "unexpected answer in " + state})
		return
	}

	desc, err := m.ToPion()
	if err == nil {
		err = s.Conn().SetRemoteDescription(desc)
	}
	if err != nil {
		util.LogWarning("[%08x] %v", tag, &NegotiationError{RemoteID: m.From, Step: "set remote answer", Err: err})
		return
	}

	s.SetName(m.Name)
	s.SetAudioEnabled(m.AudioEnabled)
	s.SetState(session.StateConnected)
	c.view.SetName(s.ID(), displayName(s.Name(), s.ID()))
	c.view.SetMic(s.ID(), m.AudioEnabled)
	c.view.SetPeerState(s.ID(), session.StateConnected)
}

// handleCandidate applies a trickled candidate. The transport queues it if
// the remote description is not known yet.
func (c *Controller) handleCandidate(m *protocol.Candidate) {
	tag := util.PeerTag(m.From)

	s, ok := c.registry.Get(m.From)
	if !ok || s.State() == session.StateClosed {
		util.LogDebug("[%08x] candidate for unknown session %s dropped", tag, m.From)
		return
	}
	if err := s.Conn().AddICECandidate(m.Candidate.ToPion()); err != nil {
		util.LogWarning("[%08x] %v", tag, &NegotiationError{RemoteID: m.From, Step: "add candidate", Err: err})
	}
}

func (c *Controller) handleAudioToggle(m *protocol.AudioToggle) {
	s, ok := c.registry.Get(m.From)
	if !ok {
		util.LogDebug("[%08x] audio-toggle for unknown session %s dropped", util.PeerTag(m.From), m.From)
		return
	}
	s.SetAudioEnabled(m.Enabled)
	c.view.SetMic(m.From, m.Enabled)
	c.view.SetSpeaking(m.From, false)

	// A muted peer stops sending, so its meter never saw the silence.
	if rm, ok := c.meters[m.From]; ok && rm.gen == s.Generation() {
		rm.meter.Clear()
	}
}

// handleUserLeft tears the session down for good.
func (c *Controller) handleUserLeft(m *protocol.UserLeft) {
	if m.ID == c.cfg.Self.ID {
		return
	}
	c.cancelRetry(m.ID)
	delete(c.attempts, m.ID)

	if s, ok := c.registry.Get(m.ID); ok {
		c.discardSession(s)
		util.LogInfo("[%08x] %s left", util.PeerTag(m.ID), displayName(s.Name(), m.ID))
	}
	c.view.RemoveTile(m.ID)
}

// handleRelayUp announces us to the room. After a relay reconnect every
// remote session is stale: peers saw us leave, so all sessions are dropped
// and rebuilt from the join.
func (c *Controller) handleRelayUp(reconnect bool) {
	if reconnect {
		util.LogInfo("relay reconnected, rebuilding %d session(s)", c.registry.Len())
	}
	for _, s := range c.registry.Drain() {
		c.cancelRetry(s.ID())
		c.closeSession(s)
		c.view.RemoveTile(s.ID())
	}
	c.attempts = make(map[string]int)

	c.sendJoin()
	c.persist()
}

func (c *Controller) sendJoin() {
	c.send(&protocol.Join{
		From:         c.cfg.Self.ID,
		Name:         c.cfg.Self.Name,
		AudioEnabled: c.media.AudioEnabled(),
	})
}

func displayName(name, id string) string {
	if name == "" {
		return id
	}
	return name
}
