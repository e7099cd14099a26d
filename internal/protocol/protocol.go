// Package protocol defines the wire-level vocabulary shared by the realtime
// coordinator and its clients: event names, the request/ack envelopes, room
// key derivation, and the error taxonomy surfaced in acknowledgements.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event identifies a realtime event delivered to or received from a client.
type Event string

// Presence events broadcast on user connectivity transitions.
const (
	EventClientConnectedJoin Event = "client_connected_join"
	EventClientConnectedQuit Event = "client_connected_quit"
	EventClientConnectedList Event = "client_connected_list"
	EventClientPlayingJoin   Event = "client_playing_join"
	EventClientPlayingQuit   Event = "client_playing_quit"
	EventClientPlayingList   Event = "client_playing_list"
)

// Channel events cover chat-room membership and message fan-out.
const (
	EventChannelConnect          Event = "channel_connect"
	EventChannelDisconnect       Event = "channel_disconnect"
	EventChannelUpdate           Event = "channel_update"
	EventChannelDelete           Event = "channel_delete"
	EventChannelMessage          Event = "channel_message"
	EventChannelEditMessage      Event = "edit_message"
	EventChannelMessageDelete    Event = "channel_message_delete"
	EventChannelMessageDeleteAll Event = "channel_message_delete_all"
	EventChannelUserJoin         Event = "channel_user_join"
	EventChannelUserLeave        Event = "channel_user_leave"
	EventChannelUserUpdate       Event = "channel_user_update"
	EventChannelOwnerTransfer    Event = "channel_owner_transfer"
	EventChannelNew              Event = "channel_new"
	EventChannelAdd              Event = "channel_add"
	EventDirectMessageAdd        Event = "direct_message_add"
)

// Game and matchmaking events.
const (
	EventGameConnect      Event = "game_connect"
	EventGameMove         Event = "game_move"
	EventGameStarting     Event = "game_starting"
	EventGameRestart      Event = "game_restart"
	EventGameExit         Event = "game_exit"
	EventWaitingRoomJoin  Event = "waiting_room_join"
	EventWaitingRoomLeave Event = "waiting_room_leave"
)

// User notification events pushed by the REST collaborators.
const (
	EventRelationshipNew    Event = "relationship_new"
	EventRelationshipUpdate Event = "relationship_update"
	EventRelationshipDelete Event = "relationship_delete"
	EventAchievementUnlock  Event = "achievement_unlock"
)

// ErrorKind tags the single failure category carried by an acknowledgement.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindForbidden          ErrorKind = "forbidden"
	KindConflict           ErrorKind = "conflict"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindAlreadyQueued      ErrorKind = "already_queued"
	KindInvalidPendingGame ErrorKind = "invalid_pending_game"
)

// Error is a protocol-visible failure. It is returned to the originating
// session only and never broadcast to a room.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NotFound builds a not_found protocol error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds a forbidden protocol error.
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict protocol error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput builds an invalid_input protocol error.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// AlreadyQueued builds an already_queued protocol error.
func AlreadyQueued(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyQueued, Message: fmt.Sprintf(format, args...)}
}

// InvalidPendingGame builds an invalid_pending_game protocol error.
func InvalidPendingGame(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidPendingGame, Message: fmt.Sprintf(format, args...)}
}

// AsError coerces an arbitrary error into a protocol error, defaulting the
// kind to invalid_input for failures that carry no explicit tag.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if perr, ok := err.(*Error); ok {
		return perr
	}
	return &Error{Kind: KindInvalidInput, Message: err.Error()}
}

// Envelope frames every message on the websocket in either direction.
// Inbound requests carry a client-chosen sequence number which the matching
// acknowledgement echoes back.
type Envelope struct {
	Event   Event           `json:"event"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the reply to a single inbound request. Exactly one of Data or Err is
// populated.
type Ack struct {
	Seq  uint64          `json:"seq"`
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data,omitempty"`
	Err  *Error          `json:"error,omitempty"`
}

// AckEvent is the event name used for request acknowledgements.
const AckEvent Event = "ack"

// EncodeEvent marshals an outbound event frame once so room fan-outs can
// reuse the serialized bytes for every recipient.
func EncodeEvent(event Event, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// EncodeAck marshals an acknowledgement frame for the originating session.
func EncodeAck(seq uint64, data any, perr *Error) ([]byte, error) {
	ack := Ack{Seq: seq, OK: perr == nil, Err: perr}
	if perr == nil && data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode ack data: %w", err)
		}
		ack.Data = raw
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: AckEvent, Seq: seq, Payload: payload})
}

// Room key derivation mirrors the entity naming used across the product so
// REST collaborators and the coordinator agree on broadcast targets.

// UserRoom returns the personal notification room for a user.
func UserRoom(userID int64) string { return fmt.Sprintf("users%d", userID) }

// ChannelRoom returns the chat room key for a channel.
func ChannelRoom(channelID int64) string { return fmt.Sprintf("channels%d", channelID) }

// GameRoom returns the broadcast room key for a game.
func GameRoom(gameID string) string { return "games" + gameID }

// PendingGameRoom returns the invitation room key for a pending game.
func PendingGameRoom(pendingGameID int64) string {
	return fmt.Sprintf("pending_games%d", pendingGameID)
}
