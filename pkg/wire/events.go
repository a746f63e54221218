package wire

import "encoding/json"

// Inbound event names (client → server).
const (
	EvtJoinRoom    = "join-room"
	EvtMakeMove    = "make-move"
	EvtOfferDraw   = "offer-draw"
	EvtRespondDraw = "respond-to-draw"
	EvtResignGame  = "resign-game"
	EvtSendMessage = "send-message"
	EvtReconnect   = "reconnect-to-room"
)

// Outbound event names (server → client/room).
const (
	EvtGameState          = "game-state"
	EvtGameUpdated        = "game-updated"
	EvtPlayerJoined       = "player-joined"
	EvtMoveMade           = "move-made"
	EvtDrawOffered        = "draw-offered"
	EvtDrawDeclined       = "draw-declined"
	EvtGameEnded          = "game-ended"
	EvtPlayerDisconnected = "player-disconnected"
	EvtPlayerReconnected  = "player-reconnected"
	EvtNewMessage         = "new-message"
	EvtError              = "error"
)

// Sentinel values carried on the legacy move channel. Clients that detect
// checkmate/stalemate locally send make-move with From set to MoveSentinelEnd
// and To set to the detected ending.
const (
	MoveSentinelEnd = "game-end"
	EndingCheckmate = "checkmate"
	EndingStalemate = "stalemate"
)

// Envelope is the one frame shape exchanged on the room socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
