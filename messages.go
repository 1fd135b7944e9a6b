package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Timer status and cycle values, mirrored verbatim in every state broadcast.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusPaused  = "paused"

	CycleFocus = "focus"
	CycleBreak = "break"
)

const (
	DefaultTimerLength = 25 * 60
	DefaultBreakLength = 5 * 60

	MinTimerLength = 60
	MaxTimerLength = 120 * 60
	MinBreakLength = 60
	MaxBreakLength = 30 * 60

	MaxGoalLength = 120
	MaxUserLength = 64
)

// Inbound message kinds accepted on a room socket.
const (
	MsgJoin        = "join"
	MsgLeave       = "leave"
	MsgStartFocus  = "timer:start_focus"
	MsgStartBreak  = "timer:start_break"
	MsgPause       = "timer:pause"
	MsgReset       = "timer:reset"
	MsgSkipBreak   = "timer:skip_break"
	MsgChat        = "chat"
	MsgGoalUpdate  = "goal:update"
	MsgMediaUpdate = "media:update"
)

// Event names carried by outbound event payloads.
const (
	EventUserJoin      = "user:join"
	EventUserLeave     = "user:leave"
	EventStartFocus    = "timer:start_focus"
	EventStartBreak    = "timer:start_break"
	EventPause         = "timer:pause"
	EventReset         = "timer:reset"
	EventSkipBreak     = "timer:skip_break"
	EventBreakAuto     = "timer:break_auto"
	EventCycleComplete = "timer:cycle_complete"
	EventGoalUpdate    = "goal:update"
)

var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{3,32}$`)

var (
	errBadRoomID    = errors.New("room_id must be 3-32 alphanumeric characters")
	errBadUserName  = errors.New("user must be a non-empty string")
	errBadTimerLen  = fmt.Errorf("timer_length must be between %d and %d seconds", MinTimerLength, MaxTimerLength)
	errBadBreakLen  = fmt.Errorf("break_length must be between %d and %d seconds", MinBreakLength, MaxBreakLength)
)

// normalizeRoomID trims and lowercases a room identifier, rejecting
// anything that is not 3-32 alphanumeric characters.
func normalizeRoomID(id string) (string, error) {
	cleaned := strings.TrimSpace(id)
	if !roomIDPattern.MatchString(cleaned) {
		return "", errBadRoomID
	}
	return strings.ToLower(cleaned), nil
}

func normalizeUserName(name string) (string, error) {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return "", errBadUserName
	}
	if runes := []rune(cleaned); len(runes) > MaxUserLength {
		cleaned = string(runes[:MaxUserLength])
	}
	return cleaned, nil
}

func truncateGoal(goal string) string {
	if runes := []rune(goal); len(runes) > MaxGoalLength {
		return string(runes[:MaxGoalLength])
	}
	return goal
}

// RoomConfig is the payload used to create or reconfigure a room.
type RoomConfig struct {
	RoomID      string `json:"room_id"`
	Goal        string `json:"goal"`
	TimerLength int    `json:"timer_length"`
	BreakLength int    `json:"break_length"`
}

// Normalize validates the config in place, applying defaults for zero
// lengths and truncating the goal. Called before any room state is touched.
func (c *RoomConfig) Normalize() error {
	id, err := normalizeRoomID(c.RoomID)
	if err != nil {
		return err
	}
	c.RoomID = id

	if c.TimerLength == 0 {
		c.TimerLength = DefaultTimerLength
	}
	if c.TimerLength < MinTimerLength || c.TimerLength > MaxTimerLength {
		return errBadTimerLen
	}
	if c.BreakLength == 0 {
		c.BreakLength = DefaultBreakLength
	}
	if c.BreakLength < MinBreakLength || c.BreakLength > MaxBreakLength {
		return errBadBreakLen
	}

	c.Goal = truncateGoal(c.Goal)
	return nil
}

// MediaState holds a participant's reported media flags. Absent flags
// decode to false, which gives media:update its replace-not-merge semantics.
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

// RoomSnapshot is the public view of a room at one instant. Participants
// are sorted so clients see a deterministic roster.
type RoomSnapshot struct {
	RoomID       string                `json:"room_id"`
	Goal         string                `json:"goal"`
	TimerLength  int                   `json:"timer_length"`
	BreakLength  int                   `json:"break_length"`
	Remaining    int                   `json:"remaining"`
	Status       string                `json:"status"`
	Cycle        string                `json:"cycle"`
	Participants []string              `json:"participants"`
	MediaStates  map[string]MediaState `json:"media_states"`
	UpdatedAt    int64                 `json:"updated_at"`
}

// ClientMessage is the closed set of frames a client may send. Unknown
// fields and unknown types are rejected as protocol errors.
type ClientMessage struct {
	Type  string      `json:"type"`
	User  string      `json:"user,omitempty"`
	Text  string      `json:"text,omitempty"`
	Goal  string      `json:"goal,omitempty"`
	Media *MediaState `json:"media,omitempty"`
}

var knownMessageTypes = map[string]bool{
	MsgJoin:        true,
	MsgLeave:       true,
	MsgStartFocus:  true,
	MsgStartBreak:  true,
	MsgPause:       true,
	MsgReset:       true,
	MsgSkipBreak:   true,
	MsgChat:        true,
	MsgGoalUpdate:  true,
	MsgMediaUpdate: true,
}

func parseClientMessage(raw []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	if !knownMessageTypes[msg.Type] {
		return ClientMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// Outbound payload shapes.

type statePayload struct {
	Type string       `json:"type"`
	Data RoomSnapshot `json:"data"`
}

type eventPayload struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	User  string `json:"user,omitempty"`
	Goal  string `json:"goal,omitempty"`
}

type chatPayload struct {
	Type string `json:"type"`
	User string `json:"user"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

type mediaPayload struct {
	Type  string     `json:"type"`
	User  string     `json:"user"`
	Media MediaState `json:"media"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
