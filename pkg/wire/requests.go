package wire

import "encoding/json"

// JoinRoomRequest opens or enters a room. Fields beyond roomId/identity are
// advisory room metadata supplied by lobby UIs; the server stores none of
// them beyond the display name.
type JoinRoomRequest struct {
	RoomID      string `json:"roomId"`
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	Password    string `json:"password,omitempty"`
	RoomName    string `json:"roomName,omitempty"`
	TimeControl string `json:"timeControl,omitempty"`
	IsPrivate   bool   `json:"isPrivate,omitempty"`
}

// MakeMoveRequest carries one move. The board state is an opaque blob owned
// by the client; the server passes it through untouched.
type MakeMoveRequest struct {
	RoomID        string          `json:"roomId"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	NewBoardState string          `json:"newBoardState"`
	MoveData      json.RawMessage `json:"moveData,omitempty"`
}

type OfferDrawRequest struct {
	RoomID string `json:"roomId"`
}

type RespondDrawRequest struct {
	RoomID string `json:"roomId"`
	Accept bool   `json:"accept"`
}

type ResignRequest struct {
	RoomID string `json:"roomId"`
}

type SendMessageRequest struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type ReconnectRequest struct {
	RoomID   string `json:"roomId"`
	Identity string `json:"identity"`
}
