package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/huddle/internal/level"
	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/util"
)

// ErrEnded is returned by commands issued after the call ended.
var ErrEnded = errors.New("call ended")

const eventBufferSize = 256

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type event interface{}

type (
	messageEvent   struct{ msg protocol.Message }
	relayUpEvent   struct{ reconnect bool }
	relayDownEvent struct{ err error }

	peerStateEvent struct {
		id    string
		gen   uint64
		state webrtc.PeerConnectionState
	}
	localCandidateEvent struct {
		id        string
		gen       uint64
		candidate webrtc.ICECandidateInit
	}
	retryEvent struct {
		id  string
		gen uint64
	}
	speakingEvent struct {
		id       string
		gen      uint64 // 0 for the local participant
		speaking bool
	}
	remoteMeterEvent struct {
		id    string
		gen   uint64
		meter *level.Meter
	}
	screenEndedEvent struct{ stream *media.Stream }

	commandEvent struct {
		run   func() error
		reply chan error
	}
)

// ---------------------------------------------------------------------------
// Controller
// ---------------------------------------------------------------------------

// Controller owns the session registry of one call. Every mutation happens
// on the goroutine running Run; everything else only posts events.
type Controller struct {
	cfg   Config
	relay Relay
	conns ConnFactory
	media Media
	view  View
	store StateStore

	registry *session.Registry
	gens     session.GenCounter

	events   chan event
	done     chan struct{}
	doneOnce sync.Once

	// Loop-owned state.
	ended      bool
	retries    map[string]retryTask
	attempts   map[string]int
	meters     map[string]remoteMeter
	localMeter *level.Meter
}

// remoteMeter is the speaking meter of the audio track of session gen.
type remoteMeter struct {
	gen   uint64
	meter *level.Meter
}

type retryTask struct {
	gen  uint64
	stop func() bool
}

// New wires a controller. The active stream must already be set on m.
func New(cfg Config, relay Relay, conns ConnFactory, m Media, view View, store StateStore) *Controller {
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.Retry.Delay <= 0 {
		cfg.Retry.Delay = DefaultRetryPolicy.Delay
	}
	return &Controller{
		cfg:      cfg,
		relay:    relay,
		conns:    conns,
		media:    m,
		view:     view,
		store:    store,
		registry: session.NewRegistry(),
		events:   make(chan event, eventBufferSize),
		done:     make(chan struct{}),
		retries:  make(map[string]retryTask),
		attempts: make(map[string]int),
		meters:   make(map[string]remoteMeter),
	}
}

// Self returns the local identity.
func (c *Controller) Self() Identity { return c.cfg.Self }

// Sessions returns a snapshot of the remote sessions.
func (c *Controller) Sessions() []session.Info { return c.registry.Snapshot() }

// Done is closed once the event loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes events until EndCall or ctx cancellation. Cancellation tears
// the call down but keeps the persisted state, so a restart rejoins.
func (c *Controller) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })

	c.start()

	for {
		select {
		case ev := <-c.events:
			c.dispatch(ev)
			if c.ended {
				return nil
			}
		case <-ctx.Done():
			c.shutdown(false)
			return ctx.Err()
		}
	}
}

// post hands ev to the loop. It is a no-op once the loop has exited.
func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(fn func() error) error {
	reply := make(chan error, 1)
	if !c.post(commandEvent{run: fn, reply: reply}) {
		return ErrEnded
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		// The loop may have answered just before exiting.
		select {
		case err := <-reply:
			return err
		default:
			return ErrEnded
		}
	}
}

func (c *Controller) dispatch(ev event) {
	switch e := ev.(type) {
	case messageEvent:
		c.handleMessage(e.msg)
	case relayUpEvent:
		c.handleRelayUp(e.reconnect)
	case relayDownEvent:
		util.LogWarning("relay lost: %v", e.err)
	case peerStateEvent:
		c.handlePeerState(e.id, e.gen, e.state)
	case localCandidateEvent:
		c.handleLocalCandidate(e.id, e.gen, e.candidate)
	case retryEvent:
		c.handleRetry(e.id, e.gen)
	case speakingEvent:
		c.handleSpeaking(e.id, e.gen, e.speaking)
	case remoteMeterEvent:
		if _, ok := c.lookup(e.id, e.gen); ok {
			c.meters[e.id] = remoteMeter{gen: e.gen, meter: e.meter}
		}
	case screenEndedEvent:
		c.handleScreenEnded(e.stream)
	case commandEvent:
		if c.ended {
			e.reply <- ErrEnded
			return
		}
		e.reply <- e.run()
	}
}

// ---------------------------------------------------------------------------
// Relay callbacks (signaling.Handlers)
// ---------------------------------------------------------------------------

// HandleMessage queues an inbound envelope.
func (c *Controller) HandleMessage(msg protocol.Message) {
	c.post(messageEvent{msg: msg})
}

// RelayConnected queues a (re)connection of the relay.
func (c *Controller) RelayConnected(reconnect bool) {
	c.post(relayUpEvent{reconnect: reconnect})
}

// RelayDisconnected queues a relay closure.
func (c *Controller) RelayDisconnected(err error) {
	c.post(relayDownEvent{err: err})
}
