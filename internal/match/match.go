package match

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/pkg/wire"
)

// ResultReporter receives the final outcome of a match whose both seats were
// filled. Implementations must bound their own timeouts; a slow or failing
// reporter never blocks or reverses the match's terminal transition.
type ResultReporter interface {
	Report(ctx context.Context, whiteIdentity, blackIdentity string, winner *string, reason string) error
}

// reportTimeout bounds the detached outcome report.
const reportTimeout = 10 * time.Second

// Match is the state machine for one two-player game occupying one room.
// All mutation goes through its methods; every method takes the match mutex,
// so concurrent operations against the same match apply in a total order.
type Match struct {
	mu sync.Mutex

	// deliverMu orders room broadcasts: Deliver holds it across a mutation
	// and the enqueue of that mutation's frames, so frames enter the fabric
	// in the order the mutations applied. Always taken outside mu.
	deliverMu sync.Mutex

	roomID string
	white  string
	black  string

	status     Status
	turn       Color
	boardState string
	moves      []wire.MoveRecord
	spectators map[string]struct{}

	drawOfferedBy Color // "" when no outstanding offer

	winner    *Color
	endReason EndReason

	createdAt time.Time
	endedAt   time.Time

	ratingReported bool
	reporter       ResultReporter
}

// New creates a waiting match with whiteIdentity seated as white.
func New(roomID, whiteIdentity string, reporter ResultReporter) *Match {
	return &Match{
		roomID:     strings.TrimSpace(roomID),
		white:      strings.TrimSpace(whiteIdentity),
		status:     StatusWaiting,
		turn:       White,
		boardState: startFEN,
		moves:      []wire.MoveRecord{},
		spectators: make(map[string]struct{}),
		createdAt:  time.Now(),
		reporter:   reporter,
	}
}

// RoomID is stable for the match's lifetime.
func (m *Match) RoomID() string { return m.roomID }

// Deliver runs fn under the match's delivery lock. Callers that broadcast a
// mutation's snapshot wrap the mutation and the broadcast enqueue together,
// so two racing operations cannot interleave their frames: without this, an
// operation descheduled between releasing the match mutex and enqueueing its
// frame could publish a snapshot older than one already delivered.
func (m *Match) Deliver(fn func()) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	fn()
}

// Join attaches identity to the match and never fails: the identity lands on
// its existing seat, the open black seat, or the spectator set. Re-joining a
// held seat is a no-op and does not demote the player to spectator.
func (m *Match) Join(identity string) (Role, wire.Snapshot) {
	identity = strings.TrimSpace(identity)
	m.mu.Lock()
	defer m.mu.Unlock()

	var role Role
	switch {
	case identity == m.white:
		role = RoleWhite
	case identity == m.black && m.black != "":
		role = RoleBlack
	case m.black == "" && m.status == StatusWaiting:
		m.black = identity
		m.status = StatusPlaying
		role = RoleBlack
	default:
		m.spectators[identity] = struct{}{}
		role = RoleSpectator
	}
	return role, m.snapshotLocked()
}

// Move appends a move record, swaps in the client-supplied board blob, flips
// the turn, and clears any outstanding draw offer. The server performs no
// legality validation; seat/turn bookkeeping is access control only.
func (m *Match) Move(identity, from, to, newBoardState string, moveData json.RawMessage) (wire.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusPlaying {
		return wire.Snapshot{}, ErrGameNotActive
	}
	seat, ok := m.seatLocked(identity)
	if !ok || seat != m.turn {
		return wire.Snapshot{}, ErrNotYourTurn
	}

	m.moves = append(m.moves, wire.MoveRecord{
		From:      from,
		To:        to,
		MoveData:  moveData,
		Timestamp: time.Now(),
	})
	m.boardState = newBoardState
	m.turn = m.turn.Opponent()
	m.drawOfferedBy = ""
	return m.snapshotLocked(), nil
}

// OfferDraw records an outstanding draw offer for identity's seat.
func (m *Match) OfferDraw(identity string) (Color, wire.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusPlaying {
		return "", wire.Snapshot{}, ErrGameNotActive
	}
	seat, ok := m.seatLocked(identity)
	if !ok {
		return "", wire.Snapshot{}, ErrNotSeated
	}
	if m.drawOfferedBy == seat {
		return "", wire.Snapshot{}, ErrDrawPending
	}
	m.drawOfferedBy = seat
	return seat, m.snapshotLocked(), nil
}

// RespondDraw answers the opponent's outstanding offer. Accepting terminates
// the match as a draw; declining just clears the offer. Either branch
// consumes the offer. The returned color is the responding seat.
func (m *Match) RespondDraw(identity string, accept bool) (Color, wire.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seat, ok := m.seatLocked(identity)
	if !ok {
		return "", wire.Snapshot{}, ErrNotSeated
	}
	if m.status != StatusPlaying || m.drawOfferedBy != seat.Opponent() {
		return "", wire.Snapshot{}, ErrNoDrawOffer
	}
	if accept {
		m.declareLocked(nil, EndDrawAgreement)
	} else {
		m.drawOfferedBy = ""
	}
	return seat, m.snapshotLocked(), nil
}

// Resign terminates the match with identity's opponent as winner.
func (m *Match) Resign(identity string) (Color, wire.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusPlaying {
		return "", wire.Snapshot{}, ErrGameNotActive
	}
	seat, ok := m.seatLocked(identity)
	if !ok {
		return "", wire.Snapshot{}, ErrNotSeated
	}
	winner := seat.Opponent()
	m.declareLocked(&winner, EndResignation)
	return winner, m.snapshotLocked(), nil
}

// DeclareOutcome applies a terminal outcome signalled from outside the normal
// move path (client-detected checkmate/stalemate). It is idempotent: once the
// match is finished, further declarations report applied=false and change
// nothing, which absorbs races between duplicate termination triggers.
func (m *Match) DeclareOutcome(winner *Color, reason EndReason) (wire.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusFinished {
		return m.snapshotLocked(), false
	}
	m.declareLocked(winner, reason)
	return m.snapshotLocked(), true
}

// RemoveSpectator drops identity from the spectator set on disconnect. Seats
// are never vacated; a disconnected player keeps its seat for reconnection.
func (m *Match) RemoveSpectator(identity string) (wire.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, present := m.spectators[strings.TrimSpace(identity)]
	if present {
		delete(m.spectators, strings.TrimSpace(identity))
	}
	return m.snapshotLocked(), present
}

// Snapshot returns a consistent copy of the observable state.
func (m *Match) Snapshot() wire.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// FinishedAt reports when the match finished, for registry reclamation.
func (m *Match) FinishedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusFinished {
		return time.Time{}, false
	}
	return m.endedAt, true
}

func (m *Match) seatLocked(identity string) (Color, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", false
	}
	switch identity {
	case m.white:
		return White, true
	case m.black:
		return Black, true
	}
	return "", false
}

// declareLocked performs the one-way transition into finished and kicks off
// the outcome report. The ratingReported latch flips before the reporter call
// and never reverts, so concurrent duplicate terminations observe it already
// set even while the call is still in flight. The call itself runs detached,
// outside the match mutex.
func (m *Match) declareLocked(winner *Color, reason EndReason) {
	m.status = StatusFinished
	m.winner = winner
	m.endReason = reason
	m.drawOfferedBy = ""
	m.endedAt = time.Now()

	if m.white == "" || m.black == "" || m.ratingReported || m.reporter == nil {
		return
	}
	m.ratingReported = true

	white, black := m.white, m.black
	room := m.roomID
	var winnerSeat *string
	if winner != nil {
		s := string(*winner)
		winnerSeat = &s
	}
	reporter := m.reporter
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := reporter.Report(ctx, white, black, winnerSeat, string(reason)); err != nil {
			obslog.L().Error("rating_report_error",
				zap.String("room_id", room),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
		}
	}()
}

func (m *Match) snapshotLocked() wire.Snapshot {
	moves := make([]wire.MoveRecord, len(m.moves))
	copy(moves, m.moves)

	var winner *string
	if m.winner != nil {
		s := string(*m.winner)
		winner = &s
	}
	var endedAt *time.Time
	if !m.endedAt.IsZero() {
		t := m.endedAt
		endedAt = &t
	}
	return wire.Snapshot{
		RoomID:         m.roomID,
		WhitePlayer:    m.white,
		BlackPlayer:    m.black,
		CurrentTurn:    string(m.turn),
		BoardState:     m.boardState,
		Status:         string(m.status),
		Moves:          moves,
		SpectatorCount: len(m.spectators),
		Winner:         winner,
		EndReason:      string(m.endReason),
		DrawOfferedBy:  string(m.drawOfferedBy),
		CreatedAt:      m.createdAt,
		EndedAt:        endedAt,
	}
}
