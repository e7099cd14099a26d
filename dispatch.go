package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"transcendence/coordinator/internal/game"
	"transcendence/coordinator/internal/protocol"
)

// requestTimeout bounds store lookups triggered by a single inbound frame.
const requestTimeout = 5 * time.Second

type channelConnectRequest struct {
	ChannelID int64 `json:"channelId"`
}

type waitingRoomJoinRequest struct {
	// ID names the pending game invitation, zero for the open queue.
	ID int64 `json:"id"`
}

type gameConnectRequest struct {
	GameID string `json:"gameId"`
}

type gameMoveRequest struct {
	GameID string   `json:"gameId"`
	Y      *float64 `json:"y"`
}

type gameRestartRequest struct {
	GameID string `json:"gameId"`
	Option string `json:"option"`
}

type gamePlayersReply struct {
	Player1 int64 `json:"player1"`
	Player2 int64 `json:"player2"`
}

// dispatch decodes one inbound frame and routes it to the service. Requests
// carrying a sequence number receive exactly one acknowledgement; fire and
// forget events receive none.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.Debug("malformed frame",
			zap.String("session_id", c.session.ID),
			zap.Error(err))
		return
	}

	s := c.session
	switch env.Event {
	case protocol.EventChannelConnect:
		var req channelConnectRequest
		if perr := decode(env.Payload, &req); perr != nil {
			h.ack(c, env.Seq, nil, perr)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := h.service.ChannelConnect(ctx, s, req.ChannelID); err != nil {
			h.ack(c, env.Seq, nil, protocol.AsError(err))
			return
		}
		h.ack(c, env.Seq, 1, nil)

	case protocol.EventChannelDisconnect:
		h.service.ChannelDisconnect(s)

	case protocol.EventWaitingRoomJoin:
		var req waitingRoomJoinRequest
		if perr := decode(env.Payload, &req); perr != nil {
			h.ack(c, env.Seq, nil, perr)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := h.service.MatchmakingJoin(ctx, s, req.ID); err != nil {
			h.ack(c, env.Seq, nil, protocol.AsError(err))
			return
		}
		h.ack(c, env.Seq, 1, nil)

	case protocol.EventWaitingRoomLeave:
		h.service.MatchmakingLeave(s)

	case protocol.EventGameConnect:
		var req gameConnectRequest
		if perr := decode(env.Payload, &req); perr != nil {
			h.ack(c, env.Seq, nil, perr)
			return
		}
		player1, player2, err := h.service.GameConnect(s, req.GameID)
		if err != nil {
			h.ack(c, env.Seq, nil, protocol.AsError(err))
			return
		}
		h.ack(c, env.Seq, gamePlayersReply{Player1: player1, Player2: player2}, nil)

	case protocol.EventGameMove:
		var req gameMoveRequest
		if perr := decode(env.Payload, &req); perr != nil {
			h.ack(c, env.Seq, nil, perr)
			return
		}
		if req.Y == nil {
			h.ack(c, env.Seq, nil, protocol.InvalidInput("missing paddle position"))
			return
		}
		accepted, err := h.service.GameMove(s, req.GameID, *req.Y)
		if err != nil {
			h.ack(c, env.Seq, nil, protocol.AsError(err))
			return
		}
		h.ack(c, env.Seq, map[string]float64{"y": accepted}, nil)

	case protocol.EventGameRestart:
		var req gameRestartRequest
		if perr := decode(env.Payload, &req); perr != nil {
			return
		}
		option := game.RestartOptionVote
		if req.Option == string(game.RestartOptionForce) {
			option = game.RestartOptionForce
		}
		if err := h.service.GameRestart(s, req.GameID, option); err != nil {
			h.log.Debug("restart request rejected",
				zap.String("session_id", s.ID),
				zap.String("game_id", req.GameID),
				zap.Error(err))
		}

	default:
		h.log.Debug("unknown event",
			zap.String("session_id", s.ID),
			zap.String("event", string(env.Event)))
		if env.Seq != 0 {
			h.ack(c, env.Seq, nil, protocol.InvalidInput("unknown event"))
		}
	}
}

// ack replies to a sequenced request. Requests without a sequence number get
// no reply, mirroring emit without callback.
func (h *Hub) ack(c *Client, seq uint64, data any, perr *protocol.Error) {
	if seq == 0 {
		return
	}
	frame, err := protocol.EncodeAck(seq, data, perr)
	if err != nil {
		h.log.Error("encode ack", zap.Error(err))
		return
	}
	h.Send(c.session.ID, frame)
}

func decode(raw json.RawMessage, into any) *protocol.Error {
	if len(raw) == 0 {
		return protocol.InvalidInput("missing payload")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return protocol.InvalidInput("malformed payload")
	}
	return nil
}
