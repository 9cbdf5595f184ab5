package signaling

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/util"
)

const maxFrameSize = 256 * 1024 // SDP with many candidates stays well below this

// receive reads frames until the connection fails and hands each decoded
// message to deliver. Malformed frames are logged and skipped.
func receive(conn *websocket.Conn, pingPeriod time.Duration, deliver func(protocol.Message)) error {
	conn.SetReadLimit(maxFrameSize)
	if pingPeriod > 0 {
		// A healthy relay answers every ping; two missed periods means dead.
		conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
		})
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read relay frame: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		util.Stats.AddRecv()

		msg, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("dropping relay frame: %v", err)
			continue
		}
		if pingPeriod > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
		}
		deliver(msg)
	}
}
