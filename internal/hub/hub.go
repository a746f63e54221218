package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/pkg/wire"
)

// outboxBuffer is how many frames an outbox can lag before its connection is
// considered dead-slow and evicted.
const outboxBuffer = 64

// Outbox is one connection's outgoing frame queue. The gateway's writer
// goroutine drains Out(); the hub and direct replies push into it without
// ever blocking on the peer.
type Outbox struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func NewOutbox() *Outbox {
	return &Outbox{ch: make(chan []byte, outboxBuffer)}
}

// Out yields encoded frames until the outbox is closed.
func (o *Outbox) Out() <-chan []byte { return o.ch }

// Send delivers a single event to this connection only. A full queue drops
// the frame rather than blocking the caller.
func (o *Outbox) Send(event string, payload any) error {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	o.trySend(raw)
	return nil
}

func (o *Outbox) trySend(raw []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.ch <- raw:
		return true
	default:
		return false
	}
}

func (o *Outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

type joinReq struct {
	room string
	ob   *Outbox
}

type roomFrame struct {
	room string
	raw  []byte
}

// Hub fans room events out to every subscribed outbox. All membership state
// is owned by the Run loop; callers talk to it through channels only.
// Delivery is best-effort per connection: an outbox that cannot keep up is
// evicted and closed instead of stalling the rest of the room.
type Hub struct {
	rooms  map[string]map[*Outbox]struct{}
	member map[*Outbox]string

	join      chan joinReq
	leave     chan *Outbox
	broadcast chan roomFrame

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New() *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Outbox]struct{}),
		member:    make(map[*Outbox]string),
		join:      make(chan joinReq),
		leave:     make(chan *Outbox),
		broadcast: make(chan roomFrame, 256),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run is the hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stopCh:
			for ob := range h.member {
				ob.close()
			}
			h.rooms = make(map[string]map[*Outbox]struct{})
			h.member = make(map[*Outbox]string)
			return

		case req := <-h.join:
			h.detach(req.ob)
			if h.rooms[req.room] == nil {
				h.rooms[req.room] = make(map[*Outbox]struct{})
			}
			h.rooms[req.room][req.ob] = struct{}{}
			h.member[req.ob] = req.room

		case ob := <-h.leave:
			h.detach(ob)
			ob.close()

		case f := <-h.broadcast:
			for ob := range h.rooms[f.room] {
				if !ob.trySend(f.raw) {
					obslog.L().Warn("hub_slow_client_evicted", zap.String("room_id", f.room))
					h.detach(ob)
					ob.close()
				}
			}
		}
	}
}

// detach removes ob from whichever room holds it. Loop-goroutine only.
func (h *Hub) detach(ob *Outbox) {
	room, ok := h.member[ob]
	if !ok {
		return
	}
	delete(h.member, ob)
	if set := h.rooms[room]; set != nil {
		delete(set, ob)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Join subscribes ob to roomID's broadcasts. An outbox belongs to at most one
// room; joining again moves it.
func (h *Hub) Join(roomID string, ob *Outbox) {
	select {
	case h.join <- joinReq{room: roomID, ob: ob}:
	case <-h.stopCh:
	}
}

// Leave detaches and closes ob.
func (h *Hub) Leave(ob *Outbox) {
	select {
	case h.leave <- ob:
	case <-h.stopCh:
		ob.close()
	}
}

// Publish delivers an event to every connection subscribed to roomID.
func (h *Hub) Publish(roomID, event string, payload any) error {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomFrame{room: roomID, raw: raw}:
	case <-h.stopCh:
	}
	return nil
}

// Close stops the loop and closes every outbox.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.done
}

func encodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(wire.Envelope{Event: event, Data: data})
}
