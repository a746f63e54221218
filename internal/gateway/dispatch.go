package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/match"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/presence"
	"github.com/kapu/chess-arena/pkg/wire"
)

func (g *Gateway) dispatch(c *client, env wire.Envelope) {
	switch env.Event {
	case wire.EvtJoinRoom:
		g.onJoinRoom(c, env.Data)
	case wire.EvtMakeMove:
		g.onMakeMove(c, env.Data)
	case wire.EvtOfferDraw:
		g.onOfferDraw(c, env.Data)
	case wire.EvtRespondDraw:
		g.onRespondDraw(c, env.Data)
	case wire.EvtResignGame:
		g.onResignGame(c, env.Data)
	case wire.EvtSendMessage:
		g.onSendMessage(c, env.Data)
	case wire.EvtReconnect:
		g.onReconnect(c, env.Data)
	default:
		obslog.L().Debug("ws_unknown_event", zap.String("event", env.Event), zap.String("conn_id", c.id))
	}
}

func (g *Gateway) onJoinRoom(c *client, data json.RawMessage) {
	var req wire.JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	roomID := strings.TrimSpace(req.RoomID)
	identity := strings.TrimSpace(req.Identity)
	if roomID == "" || identity == "" {
		g.sendError(c, "error.join_failed", "Failed to join room")
		return
	}

	m, created := g.registry.GetOrCreate(roomID, identity)

	c.identity = identity
	c.displayName = strings.TrimSpace(req.DisplayName)
	c.room = roomID
	g.hub.Join(roomID, c.ob)
	g.trackPresence(c)

	m.Deliver(func() {
		role, snap := m.Join(identity)

		obslog.L().Info("room_join",
			zap.String("room_id", roomID),
			zap.String("identity", identity),
			zap.String("role", string(role)),
			zap.Bool("created", created),
		)

		_ = c.ob.Send(wire.EvtGameState, snap)
		_ = g.hub.Publish(roomID, wire.EvtPlayerJoined, wire.PlayerJoined{
			Identity:    identity,
			DisplayName: c.displayName,
			GameState:   snap,
		})
		_ = g.hub.Publish(roomID, wire.EvtGameUpdated, snap)
	})
}

func (g *Gateway) onMakeMove(c *client, data json.RawMessage) {
	var req wire.MakeMoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	m, ok := g.resolveMatch(c, req.RoomID)
	if !ok {
		return
	}

	// Clients that detect a terminal position send a sentinel instead of a
	// move; route it to the outcome declaration path.
	if req.From == wire.MoveSentinelEnd {
		g.declareFromWire(c, m, req)
		return
	}

	m.Deliver(func() {
		snap, err := m.Move(c.identity, req.From, req.To, req.NewBoardState, req.MoveData)
		if err != nil {
			g.sendMatchError(c, err)
			return
		}
		obslog.L().Info("match_move",
			zap.String("room_id", m.RoomID()),
			zap.String("identity", c.identity),
			zap.String("from", req.From),
			zap.String("to", req.To),
		)
		_ = g.hub.Publish(m.RoomID(), wire.EvtMoveMade, wire.MoveMade{
			From:      req.From,
			To:        req.To,
			MoveData:  req.MoveData,
			GameState: snap,
		})
	})
}

// declareFromWire translates the legacy game-end sentinel into an outcome
// declaration: To carries the ending kind, and for checkmate the winner rides
// in moveData. Duplicate declarations are absorbed silently.
func (g *Gateway) declareFromWire(c *client, m *match.Match, req wire.MakeMoveRequest) {
	var winner *match.Color
	var reason match.EndReason

	switch req.To {
	case wire.EndingCheckmate:
		var md struct {
			Winner string `json:"winner"`
		}
		if len(req.MoveData) > 0 {
			_ = json.Unmarshal(req.MoveData, &md)
		}
		switch md.Winner {
		case string(match.White):
			w := match.White
			winner = &w
		case string(match.Black):
			w := match.Black
			winner = &w
		default:
			g.sendError(c, "error.invalid_payload", "Invalid payload")
			return
		}
		reason = match.EndCheckmate
	case wire.EndingStalemate:
		reason = match.EndStalemate
	default:
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}

	m.Deliver(func() {
		snap, applied := m.DeclareOutcome(winner, reason)
		if !applied {
			return
		}
		obslog.L().Info("match_declared",
			zap.String("room_id", m.RoomID()),
			zap.String("identity", c.identity),
			zap.String("reason", string(reason)),
		)
		_ = g.hub.Publish(m.RoomID(), wire.EvtGameEnded, wire.GameEnded{
			Winner:    snap.Winner,
			Reason:    snap.EndReason,
			GameState: snap,
		})
	})
}

func (g *Gateway) onOfferDraw(c *client, data json.RawMessage) {
	var req wire.OfferDrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	m, ok := g.resolveMatch(c, req.RoomID)
	if !ok {
		return
	}
	m.Deliver(func() {
		seat, snap, err := m.OfferDraw(c.identity)
		if err != nil {
			g.sendError(c, "error.draw_offer_rejected", "Cannot offer draw at this time")
			return
		}
		obslog.L().Info("draw_offer", zap.String("room_id", m.RoomID()), zap.String("by", string(seat)))
		_ = g.hub.Publish(m.RoomID(), wire.EvtDrawOffered, wire.DrawOffered{
			OfferedBy: string(seat),
			GameState: snap,
		})
	})
}

func (g *Gateway) onRespondDraw(c *client, data json.RawMessage) {
	var req wire.RespondDrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	m, ok := g.resolveMatch(c, req.RoomID)
	if !ok {
		return
	}
	m.Deliver(func() {
		seat, snap, err := m.RespondDraw(c.identity, req.Accept)
		if err != nil {
			g.sendError(c, "error.draw_response_rejected", "Cannot respond to draw offer")
			return
		}
		obslog.L().Info("draw_response",
			zap.String("room_id", m.RoomID()),
			zap.String("by", string(seat)),
			zap.Bool("accept", req.Accept),
		)
		if req.Accept {
			_ = g.hub.Publish(m.RoomID(), wire.EvtGameEnded, wire.GameEnded{
				Winner:    nil,
				Reason:    snap.EndReason,
				GameState: snap,
			})
			return
		}
		_ = g.hub.Publish(m.RoomID(), wire.EvtDrawDeclined, wire.DrawDeclined{
			DeclinedBy: string(seat),
			GameState:  snap,
		})
	})
}

func (g *Gateway) onResignGame(c *client, data json.RawMessage) {
	var req wire.ResignRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	m, ok := g.resolveMatch(c, req.RoomID)
	if !ok {
		return
	}
	m.Deliver(func() {
		winner, snap, err := m.Resign(c.identity)
		if err != nil {
			g.sendMatchError(c, err)
			return
		}
		obslog.L().Info("match_resign",
			zap.String("room_id", m.RoomID()),
			zap.String("identity", c.identity),
			zap.String("winner", string(winner)),
		)
		_ = g.hub.Publish(m.RoomID(), wire.EvtGameEnded, wire.GameEnded{
			Winner:    snap.Winner,
			Reason:    snap.EndReason,
			GameState: snap,
		})
	})
}

// onSendMessage relays room chat. Messages from connections that never joined
// a room, or with an empty body, are dropped without an error reply.
func (g *Gateway) onSendMessage(c *client, data json.RawMessage) {
	var req wire.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" || c.identity == "" || strings.TrimSpace(req.Message) == "" {
		return
	}
	_ = g.hub.Publish(roomID, wire.EvtNewMessage, wire.NewMessage{
		ID:          uuid.NewString(),
		Identity:    c.identity,
		DisplayName: c.displayName,
		Message:     req.Message,
		Timestamp:   time.Now(),
	})
	obslog.L().Debug("chat_message", zap.String("room_id", roomID), zap.String("identity", c.identity))
}

// onReconnect re-binds an existing connection to a room without the creation
// side effects of join-room.
func (g *Gateway) onReconnect(c *client, data json.RawMessage) {
	var req wire.ReconnectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	roomID := strings.TrimSpace(req.RoomID)
	identity := strings.TrimSpace(req.Identity)
	if roomID == "" || identity == "" {
		g.sendError(c, "error.invalid_payload", "Invalid payload")
		return
	}
	m := g.registry.Get(roomID)
	if m == nil {
		g.sendError(c, "error.game_not_found", "Game not found")
		return
	}

	c.identity = identity
	c.room = roomID
	g.hub.Join(roomID, c.ob)
	g.trackPresence(c)

	m.Deliver(func() {
		snap := m.Snapshot()
		obslog.L().Info("room_reconnect", zap.String("room_id", roomID), zap.String("identity", identity))
		_ = c.ob.Send(wire.EvtGameState, snap)
		_ = g.hub.Publish(roomID, wire.EvtPlayerReconnected, wire.PlayerPresence{
			Identity:  identity,
			GameState: snap,
		})
	})
}

// resolveMatch looks the request's room up, falling back to the connection's
// bound room, and replies with an error event when nothing matches.
func (g *Gateway) resolveMatch(c *client, roomID string) (*match.Match, bool) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		roomID = c.room
	}
	if c.identity == "" {
		g.sendError(c, "error.join_required", "Join a room first")
		return nil, false
	}
	m := g.registry.Get(roomID)
	if m == nil {
		g.sendError(c, "error.game_not_found", "Game not found")
		return nil, false
	}
	return m, true
}

// sendMatchError maps move/resign failures onto wire error text. The draw
// handlers reply with their own per-operation messages instead.
func (g *Gateway) sendMatchError(c *client, err error) {
	switch {
	case errors.Is(err, match.ErrNotYourTurn), errors.Is(err, match.ErrNotSeated):
		g.sendError(c, "error.not_your_turn", "Not your turn")
	case errors.Is(err, match.ErrGameNotActive):
		g.sendError(c, "error.game_not_active", "Game is not active")
	default:
		g.sendError(c, "error.invalid_payload", "Invalid payload")
	}
}

func (g *Gateway) trackPresence(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := g.presence.Track(ctx, c.id, presence.Entry{
		Identity: c.identity,
		Room:     c.room,
	})
	if err != nil {
		obslog.L().Warn("presence_track_error", zap.String("conn_id", c.id), zap.Error(err))
	}
}
