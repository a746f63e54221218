package wire

import (
	"encoding/json"
	"time"
)

// MoveRecord is one entry of the append-only move log. MoveData is whatever
// metadata the mover supplied (piece, capture, SAN, ...) — opaque here.
type MoveRecord struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	MoveData  json.RawMessage `json:"moveData,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot is the full observable state of one match, safe to hand to any
// room member or lobby caller.
type Snapshot struct {
	RoomID         string       `json:"roomId"`
	WhitePlayer    string       `json:"whitePlayer,omitempty"`
	BlackPlayer    string       `json:"blackPlayer,omitempty"`
	CurrentTurn    string       `json:"currentTurn"`
	BoardState     string       `json:"boardState"`
	Status         string       `json:"status"`
	Moves          []MoveRecord `json:"moves"`
	SpectatorCount int          `json:"spectatorCount"`
	Winner         *string      `json:"winner"`
	EndReason      string       `json:"endReason,omitempty"`
	DrawOfferedBy  string       `json:"drawOfferedBy,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	EndedAt        *time.Time   `json:"endedAt,omitempty"`
}
