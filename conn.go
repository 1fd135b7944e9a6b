package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64

	// A connection that keeps sending malformed frames gets closed after
	// this many protocol errors instead of crashing the room's fan-out.
	maxProtocolErrors = 3
)

// Conn adapts one websocket to the room's Subscriber interface: a buffered
// send channel feeds the write pump, and the read pump decodes inbound
// frames and dispatches them to room operations.
type Conn struct {
	id   string
	room *Room
	ws   *websocket.Conn
	log  zerolog.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// user is the participant name this connection acts as; a guest name
	// until the client sends a join.
	user string
}

func NewConn(room *Room, ws *websocket.Conn, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:     id,
		room:   room,
		ws:     ws,
		log:    logger.With().Str("room", room.ID()).Str("conn", id[:8]).Logger(),
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
		user:   "guest-" + id[:8],
	}
}

// Send queues a payload for the write pump without blocking. A closed
// connection reports errClientGone; a full buffer is reported as an
// unexpected failure so it shows up separately in logs and metrics.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errClientGone
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full (conn %s)", c.id[:8])
	}
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.markClosed()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadPump decodes inbound frames until the client disconnects. On exit the
// connection is unsubscribed and its participant removed, and the remaining
// clients get a fresh state.
func (c *Conn) ReadPump() {
	defer func() {
		c.markClosed()
		c.room.Unsubscribe(c)
		c.room.RemoveParticipant(c.user)
		c.room.BroadcastState()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	strikes := 0
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read error")
			}
			return
		}

		msg, err := parseClientMessage(raw)
		if err != nil {
			strikes++
			c.log.Warn().Err(err).Int("strikes", strikes).Msg("protocol error")
			c.sendError(err.Error())
			if strikes >= maxProtocolErrors {
				return
			}
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Conn) sendError(message string) {
	raw, err := json.Marshal(errorPayload{Type: "error", Message: message})
	if err != nil {
		return
	}
	_ = c.Send(raw)
}

func (c *Conn) dispatch(msg ClientMessage) {
	user := strings.TrimSpace(msg.User)
	if user == "" {
		user = c.user
	} else if runes := []rune(user); len(runes) > MaxUserLength {
		user = string(runes[:MaxUserLength])
	}

	switch msg.Type {
	case MsgJoin:
		c.user = user
		c.room.AddParticipant(user)
		c.room.BroadcastEvent(EventUserJoin, user)
		c.room.BroadcastState()
	case MsgLeave:
		c.room.RemoveParticipant(user)
		c.room.BroadcastEvent(EventUserLeave, user)
		c.room.BroadcastState()
	case MsgStartFocus:
		c.room.StartFocus(user)
	case MsgStartBreak:
		c.room.StartBreak(user)
	case MsgPause:
		c.room.Pause(user)
	case MsgReset:
		c.room.Reset(user)
	case MsgSkipBreak:
		c.room.SkipBreak(user)
	case MsgChat:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		c.room.Broadcast(chatPayload{
			Type: "chat",
			User: user,
			Text: text,
			TS:   c.room.clock.Now().Unix(),
		})
	case MsgGoalUpdate:
		goal := c.room.SetGoal(msg.Goal)
		c.room.Broadcast(eventPayload{Type: "event", Event: EventGoalUpdate, Goal: goal})
		c.room.BroadcastState()
	case MsgMediaUpdate:
		snapshot := c.room.UpdateMediaState(user, msg.Media)
		c.room.Broadcast(mediaPayload{Type: "media:update", User: user, Media: snapshot})
	}
}
