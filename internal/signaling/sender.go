package signaling

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/huddle/internal/util"
)

const sendBufferSize = 64 // outgoing frame channel capacity

// sender is the single writer of one WebSocket connection. Frames are
// written in the order they were queued; pings are interleaved on a timer.
type sender struct {
	inbox chan []byte
}

// newSender starts the write loop. The loop exits when ctx is cancelled or a
// write fails; in the latter case it calls fail so the read side unblocks.
func newSender(ctx context.Context, conn *websocket.Conn, writeTimeout, pingPeriod time.Duration, fail func(error)) *sender {
	s := &sender{inbox: make(chan []byte, sendBufferSize)}
	go s.loop(ctx, conn, writeTimeout, pingPeriod, fail)
	return s
}

func (s *sender) loop(ctx context.Context, conn *websocket.Conn, writeTimeout, pingPeriod time.Duration, fail func(error)) {
	var ping <-chan time.Time
	if pingPeriod > 0 {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-s.inbox:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogDebug("relay write failed: %v", err)
				fail(err)
				return
			}
			util.Stats.AddSent()

		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				util.LogDebug("relay ping failed: %v", err)
				fail(err)
				return
			}

		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// send queues a frame. It blocks while the buffer is full and gives up
// silently once ctx is cancelled.
func (s *sender) send(ctx context.Context, data []byte) bool {
	select {
	case s.inbox <- data:
		return true
	case <-ctx.Done():
		return false
	}
}
