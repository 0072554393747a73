/*
Package hub contains the rendezvous server's connection handling and event dispatch.

This file defines the Session struct, representing an active WebSocket connection.
It manages the session's lifecycle and its message communication loops (ReadPump and
WritePump), and implements the session.Endpoint interface the store and relay
deliver through.
*/
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peerchat/internal/pkg/logx"
	"peerchat/internal/protocol"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	// Sized for a relayed 512 KiB file chunk plus base64 and framing overhead.
	maxFrameSize = 1 << 20

	// sendQueueSize is the per-session outbound buffer.
	sendQueueSize = 256
)

// Session represents one active WebSocket connection. userID is bound by the
// hub loop on user:join and read only from that loop.
type Session struct {
	hub *Hub

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// userID is the identity bound to this connection, empty before user:join.
	userID string

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// closeOnce guards the send channel against double close.
	closeOnce sync.Once

	// structured logger with session context.
	logger zerolog.Logger
}

// NewSession constructs a Session around an upgraded connection.
func NewSession(h *Hub, conn *websocket.Conn) *Session {
	return &Session{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		logger: logx.Component("session").With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// Deliver queues a frame for this session. Delivery is best effort: a full
// queue drops the frame rather than blocking the hub loop.
func (s *Session) Deliver(frame protocol.Frame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Str("event", frame.Event).Msg("Error marshaling frame for session")
		return
	}

	select {
	case s.send <- raw:
	default:
		s.logger.Warn().Str("event", frame.Event).Int("queue_len", len(s.send)).Msg("Session send queue full, dropping frame")
	}
}

// closeSend closes the send channel exactly once, terminating WritePump.
func (s *Session) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), frame parsing, and performs cleanup upon connection closure.
func (s *Session) ReadPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.stop:
		}
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Session connection close error")
		}
	}()

	s.conn.SetReadLimit(maxFrameSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("Session sent invalid JSON")
			continue
		}

		select {
		case s.hub.inbound <- inboundEvent{session: s, frame: frame}:
		case <-s.hub.stop:
			return
		}
	}
}

// WritePump handles writing frames from the Session.send channel to the WebSocket connection.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Session connection close error in WritePump")
		}
	}()

	for {
		select {
		case raw, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					s.logger.Debug().Err(err).Msg("Error writing close message")
				}
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.logger.Error().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Error().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}
