package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gavelhouse/gavel/internal/wire"
)

// Subscriber is a connected client as the registry sees it. The gateway's
// connection type implements it; delivery into the subscriber's outbound
// queue must never block.
type Subscriber interface {
	ID() string
	// Enqueue offers a marshaled event to the subscriber's outbound queue.
	// It returns false when the queue is full.
	Enqueue(data []byte) bool
	// CloseSlow tears the connection down with a SlowConsumer reason.
	CloseSlow()
}

// SnapshotSource supplies the auction state snapshot sent on join.
type SnapshotSource interface {
	Snapshot(ctx context.Context, auctionID uuid.UUID) (wire.AuctionStateSyncPayload, error)
}

// Registry maps each auction to its local set of subscribers. Rooms are
// replica-local and ephemeral: created on first join, dropped on last leave.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[uuid.UUID]map[Subscriber]struct{}
	memberOf  map[Subscriber]map[uuid.UUID]struct{}
	snapshots SnapshotSource
}

// New creates an empty registry.
func New(snapshots SnapshotSource) *Registry {
	return &Registry{
		rooms:     make(map[uuid.UUID]map[Subscriber]struct{}),
		memberOf:  make(map[Subscriber]map[uuid.UUID]struct{}),
		snapshots: snapshots,
	}
}

// Join adds sub to the auction's room and replies with the join ack and a
// state snapshot. Broadcasts flow to sub from the moment it is registered.
func (r *Registry) Join(ctx context.Context, sub Subscriber, auctionID uuid.UUID) error {
	r.mu.Lock()
	if r.rooms[auctionID] == nil {
		r.rooms[auctionID] = make(map[Subscriber]struct{})
	}
	r.rooms[auctionID][sub] = struct{}{}
	if r.memberOf[sub] == nil {
		r.memberOf[sub] = make(map[uuid.UUID]struct{})
	}
	r.memberOf[sub][auctionID] = struct{}{}
	size := len(r.rooms[auctionID])
	r.mu.Unlock()

	log.Debug().
		Str("subscriber_id", sub.ID()).
		Str("auction_id", auctionID.String()).
		Int("room_size", size).
		Msg("subscriber joined room")

	r.deliver(sub, wire.MustEvent(wire.EventTypeJoinedRoom,
		wire.JoinedAuctionRoomPayload{AuctionItemID: auctionID}))

	snapshot, err := r.snapshots.Snapshot(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("failed to read auction snapshot: %w", err)
	}
	r.deliver(sub, wire.MustEvent(wire.EventTypeStateSync, snapshot))
	return nil
}

// Leave removes sub from the auction's room; the last member leaving drops
// the room.
func (r *Registry) Leave(sub Subscriber, auctionID uuid.UUID) {
	r.mu.Lock()
	r.removeLocked(sub, auctionID)
	r.mu.Unlock()

	r.deliver(sub, wire.MustEvent(wire.EventTypeLeftRoom,
		wire.LeftAuctionRoomPayload{AuctionItemID: auctionID}))
}

// OnDisconnect removes sub from every room it belonged to.
func (r *Registry) OnDisconnect(sub Subscriber) {
	r.mu.Lock()
	for auctionID := range r.memberOf[sub] {
		r.removeLocked(sub, auctionID)
	}
	r.mu.Unlock()
}

// Broadcast delivers an event to every current member of the auction's room.
// Delivery is fire-and-forget: membership is snapshotted under the read lock,
// then writes happen lock-free so a slow subscriber never blocks the rest.
// Callers invoke Broadcast in commit order; within one auction subscribers
// therefore see updates in that order.
func (r *Registry) Broadcast(auctionID uuid.UUID, event wire.Event) {
	r.mu.RLock()
	members := r.rooms[auctionID]
	targets := make([]Subscriber, 0, len(members))
	for sub := range members {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal broadcast")
		return
	}

	for _, sub := range targets {
		if !sub.Enqueue(data) {
			log.Warn().
				Str("subscriber_id", sub.ID()).
				Str("auction_id", auctionID.String()).
				Msg("subscriber queue full, closing slow consumer")
			r.OnDisconnect(sub)
			sub.CloseSlow()
		}
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("auction_id", auctionID.String()).
		Int("subscribers", len(targets)).
		Msg("event broadcast")
}

// RoomSize reports the current membership of an auction's room.
func (r *Registry) RoomSize(auctionID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[auctionID])
}

// removeLocked drops one membership edge. Caller holds the write lock.
func (r *Registry) removeLocked(sub Subscriber, auctionID uuid.UUID) {
	if members, ok := r.rooms[auctionID]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(r.rooms, auctionID)
		}
	}
	if joined, ok := r.memberOf[sub]; ok {
		delete(joined, auctionID)
		if len(joined) == 0 {
			delete(r.memberOf, sub)
		}
	}
}

// deliver sends a single event to one subscriber, applying the same
// slow-consumer policy as Broadcast.
func (r *Registry) deliver(sub Subscriber, event wire.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}
	if !sub.Enqueue(data) {
		r.OnDisconnect(sub)
		sub.CloseSlow()
	}
}
