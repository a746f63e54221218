package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/kapu/chess-arena/internal/hub"
	"github.com/kapu/chess-arena/internal/msgcat"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/presence"
	"github.com/kapu/chess-arena/internal/registry"
	"github.com/kapu/chess-arena/pkg/wire"
)

const writeTimeout = 10 * time.Second

// Gateway owns the websocket endpoint and the small HTTP operational surface.
// It translates wire events into match operations and match results back into
// room broadcasts; all game state lives behind the injected registry.
type Gateway struct {
	registry *registry.Registry
	hub      *hub.Hub
	presence *presence.Store
	msgs     *msgcat.Catalog

	origins []string

	// local live-connection count, fallback for /health when the presence
	// store is unreachable
	connected atomic.Int64
}

func New(reg *registry.Registry, h *hub.Hub, pres *presence.Store, msgs *msgcat.Catalog, origins []string) *Gateway {
	return &Gateway{
		registry: reg,
		hub:      h,
		presence: pres,
		msgs:     msgs,
		origins:  origins,
	}
}

// Router exposes /ws, /health and /games.
func (g *Gateway) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/games", g.handleGames)
	return mux
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  g.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	c := newClient(conn)
	g.connected.Add(1)
	obslog.L().Info("ws_connect", zap.String("conn_id", c.id))

	if err := g.presence.Track(r.Context(), c.id, presence.Entry{ConnectedAt: time.Now()}); err != nil {
		obslog.L().Warn("presence_track_error", zap.String("conn_id", c.id), zap.Error(err))
	}

	go c.writeLoop()
	g.readLoop(r.Context(), c)
	g.disconnect(c)
}

// readLoop pumps frames off the socket until it errors or closes.
func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.sendError(c, "error.invalid_payload", "Invalid payload")
			continue
		}
		g.dispatch(c, env)
	}
}

// disconnect runs the original's socket-teardown sequence: spectators are
// dropped from their match and the room is told a player went away. Seats are
// never vacated so the player can reconnect.
func (g *Gateway) disconnect(c *client) {
	g.connected.Add(-1)
	obslog.L().Info("ws_disconnect",
		zap.String("conn_id", c.id),
		zap.String("identity", c.identity),
		zap.String("room_id", c.room),
	)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := g.presence.Untrack(ctx, c.id); err != nil {
		obslog.L().Warn("presence_untrack_error", zap.String("conn_id", c.id), zap.Error(err))
	}

	if c.identity != "" && c.room != "" {
		if m := g.registry.Get(c.room); m != nil {
			m.Deliver(func() {
				snap, _ := m.RemoveSpectator(c.identity)
				_ = g.hub.Publish(c.room, wire.EvtPlayerDisconnected, wire.PlayerPresence{
					Identity:  c.identity,
					GameState: snap,
				})
			})
		}
	}

	g.hub.Leave(c.ob)
	c.closeConn(websocket.StatusNormalClosure, "bye")
}

func (g *Gateway) sendError(c *client, key, fallback string) {
	_ = c.ob.Send(wire.EvtError, wire.ErrorPayload{Message: g.msgs.Text(key, fallback)})
}

type healthResponse struct {
	Status           string    `json:"status"`
	ActiveMatchCount int       `json:"activeMatchCount"`
	ConnectedCount   int       `json:"connectedCount"`
	Timestamp        time.Time `json:"timestamp"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected, err := g.presence.Count(r.Context())
	if err != nil {
		obslog.L().Warn("presence_count_error", zap.Error(err))
		connected = int(g.connected.Load())
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ActiveMatchCount: g.registry.Len(),
		ConnectedCount:   connected,
		Timestamp:        time.Now(),
	})
}

// handleGames lists retained matches as a bare snapshot array, optionally
// filtered by ?status=. Lobby clients consume the array shape directly.
func (g *Gateway) handleGames(w http.ResponseWriter, r *http.Request) {
	snaps := g.registry.Snapshots()
	if status := r.URL.Query().Get("status"); status != "" {
		snaps = lo.Filter(snaps, func(s wire.Snapshot, _ int) bool {
			return s.Status == status
		})
	}
	writeJSON(w, http.StatusOK, snaps)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("http_write_error", zap.Error(err))
	}
}
