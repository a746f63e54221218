package match

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeReporter struct {
	calls   int64
	mu      sync.Mutex
	winners []*string
	reasons []string
	err     error
}

func (f *fakeReporter) Report(ctx context.Context, white, black string, winner *string, reason string) error {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.winners = append(f.winners, winner)
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	return f.err
}

func (f *fakeReporter) count() int64 { return atomic.LoadInt64(&f.calls) }

func waitForCalls(t *testing.T, f *fakeReporter, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= want {
			// settle window: a duplicate report would land right behind
			time.Sleep(50 * time.Millisecond)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("reporter calls: got %d want %d", f.count(), want)
}

func playingMatch(rep ResultReporter) *Match {
	m := New("r1", "alice", rep)
	m.Join("bob")
	return m
}

func TestJoinSeatsAndSpectators(t *testing.T) {
	m := New("r1", "alice", nil)

	role, snap := m.Join("alice")
	if role != RoleWhite { t.Fatalf("rejoin by white: got role %s", role) }
	if snap.Status != string(StatusWaiting) { t.Fatalf("status: %s", snap.Status) }

	role, snap = m.Join("bob")
	if role != RoleBlack { t.Fatalf("second join: got role %s", role) }
	if snap.Status != string(StatusPlaying) { t.Fatalf("status after black joins: %s", snap.Status) }
	if snap.CurrentTurn != string(White) { t.Fatalf("opening turn: %s", snap.CurrentTurn) }

	role, snap = m.Join("carol")
	if role != RoleSpectator { t.Fatalf("third identity: got role %s", role) }
	if snap.SpectatorCount != 1 { t.Fatalf("spectator count: %d", snap.SpectatorCount) }

	// idempotent spectator re-join
	_, snap = m.Join("carol")
	if snap.SpectatorCount != 1 { t.Fatalf("spectator re-join duplicated: %d", snap.SpectatorCount) }

	// a seated player never lands in the spectator set
	role, snap = m.Join("alice")
	if role != RoleWhite || snap.SpectatorCount != 1 {
		t.Fatalf("seated rejoin: role=%s spectators=%d", role, snap.SpectatorCount)
	}
	if snap.WhitePlayer != "alice" || snap.BlackPlayer != "bob" {
		t.Fatalf("seats moved: %s / %s", snap.WhitePlayer, snap.BlackPlayer)
	}
}

func TestMoveFlipsTurnAndClearsDrawOffer(t *testing.T) {
	m := playingMatch(nil)

	if _, _, err := m.OfferDraw("alice"); err != nil { t.Fatalf("OfferDraw: %v", err) }

	snap, err := m.Move("alice", "e2", "e4", "fen-after-e4", nil)
	if err != nil { t.Fatalf("Move: %v", err) }
	if snap.CurrentTurn != string(Black) { t.Fatalf("turn after white move: %s", snap.CurrentTurn) }
	if len(snap.Moves) != 1 || snap.Moves[0].From != "e2" || snap.Moves[0].To != "e4" {
		t.Fatalf("move log: %+v", snap.Moves)
	}
	if snap.BoardState != "fen-after-e4" { t.Fatalf("board state not replaced: %s", snap.BoardState) }
	if snap.DrawOfferedBy != "" { t.Fatalf("draw offer not cleared by move: %q", snap.DrawOfferedBy) }
}

func TestMoveRejections(t *testing.T) {
	m := New("r1", "alice", nil)

	// waiting: nobody may move
	if _, err := m.Move("alice", "e2", "e4", "x", nil); err != ErrGameNotActive {
		t.Fatalf("move while waiting: %v", err)
	}

	m.Join("bob")
	m.Join("carol") // spectator

	if _, err := m.Move("bob", "e7", "e5", "x", nil); err != ErrNotYourTurn {
		t.Fatalf("out-of-turn move: %v", err)
	}
	if _, err := m.Move("carol", "e2", "e4", "x", nil); err != ErrNotYourTurn {
		t.Fatalf("spectator move: %v", err)
	}

	// rejected moves change nothing
	snap := m.Snapshot()
	if snap.CurrentTurn != string(White) || len(snap.Moves) != 0 {
		t.Fatalf("state mutated by rejected move: turn=%s moves=%d", snap.CurrentTurn, len(snap.Moves))
	}
}

func TestTurnAlternatesAndReplayMatches(t *testing.T) {
	m := playingMatch(nil)

	movers := []string{"alice", "bob", "alice", "bob", "alice"}
	var observed []string
	for i, who := range movers {
		snap, err := m.Move(who, "sq", "sq", "b", nil)
		if err != nil { t.Fatalf("move %d: %v", i, err) }
		observed = append(observed, snap.CurrentTurn)
	}

	// replaying the log yields the same flip sequence
	turn := White
	for i := range m.Snapshot().Moves {
		turn = turn.Opponent()
		if observed[i] != string(turn) {
			t.Fatalf("replay diverged at move %d: live=%s replay=%s", i, observed[i], turn)
		}
	}
}

func TestDrawOfferLifecycle(t *testing.T) {
	m := playingMatch(nil)

	seat, snap, err := m.OfferDraw("alice")
	if err != nil { t.Fatalf("OfferDraw: %v", err) }
	if seat != White || snap.DrawOfferedBy != string(White) {
		t.Fatalf("offer bookkeeping: seat=%s snap=%s", seat, snap.DrawOfferedBy)
	}

	// duplicate offer by the same seat rejected
	if _, _, err := m.OfferDraw("alice"); err != ErrDrawPending { t.Fatalf("duplicate offer: %v", err) }

	// white cannot answer its own offer
	if _, _, err := m.RespondDraw("alice", true); err != ErrNoDrawOffer { t.Fatalf("self-response: %v", err) }

	// decline clears the offer, game continues
	seat, snap, err = m.RespondDraw("bob", false)
	if err != nil { t.Fatalf("decline: %v", err) }
	if seat != Black || snap.DrawOfferedBy != "" || snap.Status != string(StatusPlaying) {
		t.Fatalf("decline bookkeeping: seat=%s offer=%q status=%s", seat, snap.DrawOfferedBy, snap.Status)
	}

	// responding again with no outstanding offer rejected
	if _, _, err := m.RespondDraw("bob", true); err != ErrNoDrawOffer { t.Fatalf("response without offer: %v", err) }

	// play proceeds normally after the declined offer
	if _, err := m.Move("alice", "e2", "e4", "x", nil); err != nil { t.Fatalf("move after decline: %v", err) }
}

func TestDrawAcceptTerminates(t *testing.T) {
	rep := &fakeReporter{}
	m := playingMatch(rep)

	if _, _, err := m.OfferDraw("alice"); err != nil { t.Fatalf("OfferDraw: %v", err) }
	_, snap, err := m.RespondDraw("bob", true)
	if err != nil { t.Fatalf("accept: %v", err) }
	if snap.Status != string(StatusFinished) { t.Fatalf("status: %s", snap.Status) }
	if snap.Winner != nil { t.Fatalf("draw has no winner: %v", *snap.Winner) }
	if snap.EndReason != string(EndDrawAgreement) { t.Fatalf("end reason: %s", snap.EndReason) }
	if snap.DrawOfferedBy != "" { t.Fatalf("offer survived termination: %q", snap.DrawOfferedBy) }

	waitForCalls(t, rep, 1)
	if rep.winners[0] != nil { t.Fatalf("reporter winner: want nil, got %v", *rep.winners[0]) }
}

func TestResign(t *testing.T) {
	rep := &fakeReporter{}
	m := playingMatch(rep)

	winner, snap, err := m.Resign("bob")
	if err != nil { t.Fatalf("Resign: %v", err) }
	if winner != White { t.Fatalf("winner: %s", winner) }
	if snap.Status != string(StatusFinished) || snap.EndReason != string(EndResignation) {
		t.Fatalf("terminal state: status=%s reason=%s", snap.Status, snap.EndReason)
	}
	if snap.Winner == nil || *snap.Winner != string(White) { t.Fatalf("snapshot winner: %v", snap.Winner) }

	// second resign is rejected and leaves the outcome alone
	if _, _, err := m.Resign("alice"); err != ErrGameNotActive { t.Fatalf("resign after finish: %v", err) }
	snap = m.Snapshot()
	if snap.EndReason != string(EndResignation) || *snap.Winner != string(White) {
		t.Fatalf("outcome rewritten: %s %v", snap.EndReason, snap.Winner)
	}
	waitForCalls(t, rep, 1)
}

func TestDeclareOutcomeIdempotent(t *testing.T) {
	m := playingMatch(nil)

	w := White
	snap, applied := m.DeclareOutcome(&w, EndCheckmate)
	if !applied || snap.Status != string(StatusFinished) { t.Fatalf("first declare: applied=%v status=%s", applied, snap.Status) }

	b := Black
	snap, applied = m.DeclareOutcome(&b, EndStalemate)
	if applied { t.Fatalf("duplicate declare applied") }
	if snap.EndReason != string(EndCheckmate) || *snap.Winner != string(White) {
		t.Fatalf("duplicate declare rewrote outcome: %s %v", snap.EndReason, snap.Winner)
	}
}

func TestRatingReportedOnceUnderRace(t *testing.T) {
	rep := &fakeReporter{}
	m := playingMatch(rep)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Resign("bob")
	}()
	go func() {
		defer wg.Done()
		w := White
		m.DeclareOutcome(&w, EndCheckmate)
	}()
	wg.Wait()

	waitForCalls(t, rep, 1)
	if n := rep.count(); n != 1 { t.Fatalf("reporter calls under race: %d", n) }
}

func TestReporterFailureDoesNotRevertMatch(t *testing.T) {
	rep := &fakeReporter{err: context.DeadlineExceeded}
	m := playingMatch(rep)

	m.Resign("alice")
	waitForCalls(t, rep, 1)

	snap := m.Snapshot()
	if snap.Status != string(StatusFinished) { t.Fatalf("status: %s", snap.Status) }

	// the latch never resets: a hypothetical later declaration stays silent
	w := White
	if _, applied := m.DeclareOutcome(&w, EndCheckmate); applied { t.Fatalf("declare applied on finished match") }
	time.Sleep(100 * time.Millisecond)
	if n := rep.count(); n != 1 { t.Fatalf("reporter retried after failure: %d", n) }
}

func TestNoReportWithEmptySeat(t *testing.T) {
	rep := &fakeReporter{}
	m := New("r1", "alice", rep)

	// terminate while still waiting (black seat empty)
	w := White
	if _, applied := m.DeclareOutcome(&w, EndCheckmate); !applied { t.Fatalf("declare on waiting match not applied") }
	time.Sleep(100 * time.Millisecond)
	if n := rep.count(); n != 0 { t.Fatalf("reported with empty seat: %d calls", n) }
}

func TestRemoveSpectator(t *testing.T) {
	m := playingMatch(nil)
	m.Join("carol")

	snap, removed := m.RemoveSpectator("carol")
	if !removed || snap.SpectatorCount != 0 { t.Fatalf("remove: removed=%v count=%d", removed, snap.SpectatorCount) }

	// players are not spectators; disconnect does not vacate seats
	snap, removed = m.RemoveSpectator("alice")
	if removed { t.Fatalf("player removed as spectator") }
	if snap.WhitePlayer != "alice" { t.Fatalf("seat vacated: %s", snap.WhitePlayer) }
}
