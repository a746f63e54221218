package match

// Color identifies a seat.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the match lifecycle state. Transitions are monotonic:
// waiting → playing → finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Role is what a joining identity ends up as.
type Role string

const (
	RoleWhite     Role = "player:white"
	RoleBlack     Role = "player:black"
	RoleSpectator Role = "spectator"
)

// EndReason records how a finished match ended.
type EndReason string

const (
	EndCheckmate     EndReason = "checkmate"
	EndStalemate     EndReason = "stalemate"
	EndResignation   EndReason = "resignation"
	EndDrawAgreement EndReason = "draw by agreement"
)

// startFEN seeds new matches; the server otherwise never parses board blobs.
const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Errors returned by match operations with violated preconditions. The
// gateway maps these onto wire error events; none of them mutate state.
var (
	ErrNotYourTurn   = errf("not your turn")
	ErrGameNotActive = errf("game is not active")
	ErrNotSeated     = errf("identity holds no seat")
	ErrDrawPending   = errf("seat already has an outstanding draw offer")
	ErrNoDrawOffer   = errf("no outstanding draw offer from opponent")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
