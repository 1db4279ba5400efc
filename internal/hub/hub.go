package hub

import (
	"context"

	"github.com/DoyleJ11/syncwatch/internal/engine"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type Join struct {
	ClientID string
	Outbox   chan engine.Snapshot // where this peer wants to receive snapshots
	Ack      chan struct{}        // optional, closed once registered
}

type Leave struct {
	ClientID string
}

type Broadcast struct {
	Snap engine.Snapshot
}

type Unicast struct {
	ClientID string
	Snap     engine.Snapshot
}

type CountPeers struct {
	Reply chan int
}

type ShutdownHub struct{}

func (Join) isHubMsg()        {}
func (Leave) isHubMsg()       {}
func (Broadcast) isHubMsg()   {}
func (Unicast) isHubMsg()     {}
func (CountPeers) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Hub owns every connected peer's outbox. Outboxes are closed only by the
// hub, which tells the peer no more snapshots will arrive.
type Hub struct {
	inbox   chan HubMsg
	clients map[string]chan engine.Snapshot
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		clients: make(map[string]chan engine.Snapshot),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Join registers a peer and reports whether the hub took ownership of
// outbox. Once it has, the hub closes outbox on Leave, on eviction or at
// shutdown.
func (h *Hub) Join(ctx context.Context, clientID string, outbox chan engine.Snapshot) bool {
	ack := make(chan struct{})
	if !h.send(ctx, Join{ClientID: clientID, Outbox: outbox, Ack: ack}) {
		return false
	}
	select {
	case <-ack:
		return true
	case <-ctx.Done():
		h.Leave(clientID)
		return false
	case <-h.ctx.Done():
		return false
	}
}

// Leave never blocks past hub shutdown.
func (h *Hub) Leave(clientID string) {
	h.send(context.Background(), Leave{ClientID: clientID})
}

// Stop closes every outbox and ends the loop. It is safe to call after the
// hub already stopped.
func (h *Hub) Stop() {
	h.send(context.Background(), ShutdownHub{})
}

// Broadcast queues snap for every peer, the originator of a command included.
func (h *Hub) Broadcast(ctx context.Context, snap engine.Snapshot) {
	h.send(ctx, Broadcast{Snap: snap})
}

// Unicast queues snap for a single peer.
func (h *Hub) Unicast(ctx context.Context, clientID string, snap engine.Snapshot) {
	h.send(ctx, Unicast{ClientID: clientID, Snap: snap})
}

// Peers reports the number of connected peers, or -1 if the hub has stopped.
func (h *Hub) Peers(ctx context.Context) int {
	reply := make(chan int, 1)
	if !h.send(ctx, CountPeers{Reply: reply}) {
		return -1
	}
	select {
	case n := <-reply:
		return n
	case <-ctx.Done():
		return -1
	case <-h.ctx.Done():
		return -1
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				if old, ok := h.clients[msg.ClientID]; ok {
					close(old)
				}
				h.clients[msg.ClientID] = msg.Outbox
				if msg.Ack != nil {
					close(msg.Ack)
				}
				h.log.Debug("peer joined", zap.String("client_id", msg.ClientID), zap.Int("peers", len(h.clients)))

			case Leave:
				if ch, ok := h.clients[msg.ClientID]; ok {
					close(ch)
					delete(h.clients, msg.ClientID)
					h.log.Debug("peer left", zap.String("client_id", msg.ClientID), zap.Int("peers", len(h.clients)))
				}

			case Broadcast:
				h.broadcast(msg.Snap)

			case Unicast:
				if ch, ok := h.clients[msg.ClientID]; ok {
					h.deliver(msg.ClientID, ch, msg.Snap)
				}

			case CountPeers:
				msg.Reply <- len(h.clients)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.cancel()
}

func (h *Hub) broadcast(snap engine.Snapshot) {
	for id, ch := range h.clients {
		h.deliver(id, ch, snap)
	}
}

func (h *Hub) deliver(id string, ch chan engine.Snapshot, snap engine.Snapshot) {
	select {
	case ch <- snap:
		//ok
	default:
		// Peer is slow/full - drop them.
		h.log.Warn("dropping slow peer", zap.String("client_id", id))
		close(ch)
		delete(h.clients, id)
	}
}
