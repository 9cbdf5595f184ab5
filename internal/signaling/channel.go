// Package signaling is the client side of the room relay: one WebSocket
// that carries JSON envelopes, redialled forever while the call lasts.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/util"
)

// ErrNotConnected is returned by Send while no relay connection is up.
var ErrNotConnected = errors.New("relay not connected")

// Options configures a Channel. Zero durations take the defaults below.
type Options struct {
	URL          string
	RejoinDelay  time.Duration // wait between a closure and the next dial
	PingPeriod   time.Duration // keepalive; negative disables
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

const (
	defaultRejoinDelay  = time.Second
	defaultPingPeriod   = 25 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Handlers are invoked from the channel's goroutines and must not block for
// long; the mesh controller only posts events from them.
type Handlers struct {
	OnConnect    func(reconnect bool)
	OnDisconnect func(err error)
	OnMessage    func(protocol.Message)
}

// Channel is the relay connection of one participant.
type Channel struct {
	opts Options
	h    Handlers

	mu      sync.Mutex
	out     *sender
	outCtx  context.Context
	current *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

func New(opts Options, h Handlers) *Channel {
	if opts.RejoinDelay <= 0 {
		opts.RejoinDelay = defaultRejoinDelay
	}
	if opts.PingPeriod == 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.PingPeriod < 0 {
		opts.PingPeriod = 0
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Channel{opts: opts, h: h, closed: make(chan struct{})}
}

// Run dials the relay and keeps it connected until ctx is cancelled or
// Close is called. Every closure is followed by a redial after RejoinDelay,
// without limit.
func (c *Channel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	connected := false
	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return c.exitErr(ctx)
			}
			util.LogWarning("relay dial failed: %v", err)
		} else {
			util.LogInfo("relay connected: %s", c.opts.URL)
			err = c.serve(ctx, conn, connected)
			connected = true
			if ctx.Err() != nil {
				return c.exitErr(ctx)
			}
			util.LogWarning("relay closed: %v; reconnecting in %s", err, c.opts.RejoinDelay)
			if c.h.OnDisconnect != nil {
				c.h.OnDisconnect(err)
			}
		}

		timer := time.NewTimer(c.opts.RejoinDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return c.exitErr(ctx)
		}
	}
}

func (c *Channel) exitErr(ctx context.Context) error {
	select {
	case <-c.closed:
		return nil
	default:
		return ctx.Err()
	}
}

// serve runs one connection until it fails or ctx ends.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, reconnect bool) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var failOnce sync.Once
	fail := func(error) {
		failOnce.Do(func() { conn.Close() })
	}
	// Unblock the read loop on shutdown.
	go func() {
		<-connCtx.Done()
		// Give the sender a moment to write the close frame.
		time.Sleep(50 * time.Millisecond)
		fail(nil)
	}()

	s := newSender(connCtx, conn, c.opts.WriteTimeout, c.opts.PingPeriod, fail)

	c.mu.Lock()
	c.out, c.outCtx, c.current = s, connCtx, conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.current == conn {
			c.out, c.outCtx, c.current = nil, nil, nil
		}
		c.mu.Unlock()
	}()

	if c.h.OnConnect != nil {
		c.h.OnConnect(reconnect)
	}

	deliver := func(msg protocol.Message) {
		if c.h.OnMessage != nil {
			c.h.OnMessage(msg)
		}
	}
	return receive(conn, c.opts.PingPeriod, deliver)
}

// Send encodes msg and queues it on the current connection.
func (c *Channel) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MsgType(), err)
	}

	c.mu.Lock()
	s, ctx := c.out, c.outCtx
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	if !s.send(ctx, data) {
		return ErrNotConnected
	}
	return nil
}

// Connected reports whether a relay connection is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out != nil
}

// Close stops Run and drops the connection. Safe to call multiple times.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}
