package wire

import (
	"encoding/json"
	"time"
)

type PlayerJoined struct {
	Identity    string   `json:"identity"`
	DisplayName string   `json:"displayName,omitempty"`
	GameState   Snapshot `json:"gameState"`
}

type MoveMade struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	MoveData  json.RawMessage `json:"moveData,omitempty"`
	GameState Snapshot        `json:"gameState"`
}

type DrawOffered struct {
	OfferedBy string   `json:"offeredBy"`
	GameState Snapshot `json:"gameState"`
}

type DrawDeclined struct {
	DeclinedBy string   `json:"declinedBy"`
	GameState  Snapshot `json:"gameState"`
}

// GameEnded reports a terminal outcome. Winner is nil for draws.
type GameEnded struct {
	Winner    *string  `json:"winner"`
	Reason    string   `json:"reason"`
	GameState Snapshot `json:"gameState"`
}

type PlayerPresence struct {
	Identity  string   `json:"identity"`
	GameState Snapshot `json:"gameState"`
}

type NewMessage struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName,omitempty"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
