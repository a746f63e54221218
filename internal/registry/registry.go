package registry

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/match"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/pkg/wire"
)

// Registry maps room identifiers to live matches. Creation is lazy: the first
// join of an unseen room constructs the match. Finished matches are retained
// for a grace period and then swept; a room with an in-progress match always
// resolves to the same instance.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*match.Match

	reporter  match.ResultReporter
	retention time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds an empty registry. reporter is handed to every created match;
// retention controls how long finished matches stay listable.
func New(reporter match.ResultReporter, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{
		matches:   make(map[string]*match.Match),
		reporter:  reporter,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// GetOrCreate resolves roomID to its match, creating a waiting match seeded
// with firstIdentity as white when the room is unseen. Racing first joins all
// observe the same instance; exactly one creation wins.
func (r *Registry) GetOrCreate(roomID, firstIdentity string) (*match.Match, bool) {
	roomID = strings.TrimSpace(roomID)

	r.mu.RLock()
	m := r.matches[roomID]
	r.mu.RUnlock()
	if m != nil {
		return m, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.matches[roomID]; m != nil {
		return m, false
	}
	m = match.New(roomID, firstIdentity, r.reporter)
	r.matches[roomID] = m
	obslog.L().Info("match_create", zap.String("room_id", roomID), zap.String("white", firstIdentity))
	return m, true
}

// Get returns the match for roomID, or nil.
func (r *Registry) Get(roomID string) *match.Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matches[strings.TrimSpace(roomID)]
}

// Len reports the number of retained matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// Snapshots lists the state of every retained match.
func (r *Registry) Snapshots() []wire.Snapshot {
	r.mu.RLock()
	list := make([]*match.Match, 0, len(r.matches))
	for _, m := range r.matches {
		list = append(list, m)
	}
	r.mu.RUnlock()

	out := make([]wire.Snapshot, 0, len(list))
	for _, m := range list {
		out = append(out, m.Snapshot())
	}
	return out
}

// StartJanitor launches the background sweep loop. Close stops it.
func (r *Registry) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-t.C:
				r.Sweep(time.Now())
			}
		}
	}()
}

// Sweep removes matches that finished more than the retention period before
// now. In-progress matches are never reclaimed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for room, m := range r.matches {
		endedAt, finished := m.FinishedAt()
		if !finished || now.Sub(endedAt) < r.retention {
			continue
		}
		delete(r.matches, room)
		removed++
	}
	if removed > 0 {
		obslog.L().Info("match_sweep", zap.Int("removed", removed), zap.Int("remaining", len(r.matches)))
	}
	return removed
}

// Close stops the janitor.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
