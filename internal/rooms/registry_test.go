package rooms

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gavelhouse/gavel/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubSnapshots struct {
	err error
}

func (s *stubSnapshots) Snapshot(_ context.Context, auctionID uuid.UUID) (wire.AuctionStateSyncPayload, error) {
	if s.err != nil {
		return wire.AuctionStateSyncPayload{}, s.err
	}
	return wire.AuctionStateSyncPayload{
		AuctionItemID:              auctionID,
		CurrentHighestBidInDollars: json.Number("100.00"),
		AuctionStatus:              "ACTIVE",
	}, nil
}

// stubSub collects delivered events; capacity zero means unbounded.
type stubSub struct {
	id  string
	cap int

	mu         sync.Mutex
	events     []wire.Event
	slowClosed bool
}

func newStubSub() *stubSub {
	return &stubSub{id: uuid.NewString()}
}

func (s *stubSub) ID() string { return s.id }

func (s *stubSub) Enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap > 0 && len(s.events) >= s.cap {
		return false
	}
	var ev wire.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		panic(err)
	}
	s.events = append(s.events, ev)
	return true
}

func (s *stubSub) CloseSlow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowClosed = true
}

func (s *stubSub) received() []wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Event(nil), s.events...)
}

func (s *stubSub) wasClosedSlow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slowClosed
}

func TestJoinDeliversAckAndSnapshot(t *testing.T) {
	r := New(&stubSnapshots{})
	sub := newStubSub()
	auctionID := uuid.New()

	require.NoError(t, r.Join(context.Background(), sub, auctionID))
	require.Equal(t, 1, r.RoomSize(auctionID))

	events := sub.received()
	require.Len(t, events, 2)
	require.Equal(t, wire.EventTypeJoinedRoom, events[0].Type)
	require.Equal(t, wire.EventTypeStateSync, events[1].Type)

	var snap wire.AuctionStateSyncPayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &snap))
	require.Equal(t, auctionID, snap.AuctionItemID)
	require.EqualValues(t, "100.00", snap.CurrentHighestBidInDollars)
}

func TestJoinSnapshotFailureStillRegisters(t *testing.T) {
	r := New(&stubSnapshots{err: context.DeadlineExceeded})
	sub := newStubSub()
	auctionID := uuid.New()

	err := r.Join(context.Background(), sub, auctionID)
	require.Error(t, err)
	// Membership holds; the client can re-request state by rejoining.
	require.Equal(t, 1, r.RoomSize(auctionID))
}

func TestBroadcastReachesMembersOnly(t *testing.T) {
	r := New(&stubSnapshots{})
	auctionA := uuid.New()
	auctionB := uuid.New()

	inA := newStubSub()
	inB := newStubSub()
	require.NoError(t, r.Join(context.Background(), inA, auctionA))
	require.NoError(t, r.Join(context.Background(), inB, auctionB))

	ev := wire.MustEvent(wire.EventTypeBidUpdate, wire.BidUpdateBroadcastPayload{
		AuctionItemID:          auctionA,
		NewHighestBidInDollars: json.Number("110.00"),
	})
	r.Broadcast(auctionA, ev)

	eventsA := inA.received()
	require.Len(t, eventsA, 3)
	require.Equal(t, wire.EventTypeBidUpdate, eventsA[2].Type)

	// The member of the other room saw only its own join traffic.
	require.Len(t, inB.received(), 2)
}

func TestLeaveStopsDelivery(t *testing.T) {
	r := New(&stubSnapshots{})
	sub := newStubSub()
	auctionID := uuid.New()

	require.NoError(t, r.Join(context.Background(), sub, auctionID))
	r.Leave(sub, auctionID)
	require.Zero(t, r.RoomSize(auctionID))

	events := sub.received()
	require.Equal(t, wire.EventTypeLeftRoom, events[len(events)-1].Type)

	before := len(sub.received())
	r.Broadcast(auctionID, wire.MustEvent(wire.EventTypeBidUpdate, wire.BidUpdateBroadcastPayload{AuctionItemID: auctionID}))
	require.Len(t, sub.received(), before)
}

func TestOnDisconnectSweepsAllRooms(t *testing.T) {
	r := New(&stubSnapshots{})
	sub := newStubSub()
	auctionA := uuid.New()
	auctionB := uuid.New()

	require.NoError(t, r.Join(context.Background(), sub, auctionA))
	require.NoError(t, r.Join(context.Background(), sub, auctionB))

	r.OnDisconnect(sub)
	require.Zero(t, r.RoomSize(auctionA))
	require.Zero(t, r.RoomSize(auctionB))
}

func TestBroadcastClosesSlowConsumer(t *testing.T) {
	r := New(&stubSnapshots{})
	auctionID := uuid.New()

	slow := newStubSub()
	require.NoError(t, r.Join(context.Background(), slow, auctionID))
	slow.cap = len(slow.received()) // queue is now full

	healthy := newStubSub()
	require.NoError(t, r.Join(context.Background(), healthy, auctionID))

	r.Broadcast(auctionID, wire.MustEvent(wire.EventTypeBidUpdate, wire.BidUpdateBroadcastPayload{AuctionItemID: auctionID}))

	require.True(t, slow.wasClosedSlow())
	require.Equal(t, 1, r.RoomSize(auctionID), "slow consumer must be evicted")
	require.Len(t, healthy.received(), 3, "healthy subscriber still gets the event")
}

func TestConcurrentChurn(t *testing.T) {
	r := New(&stubSnapshots{})
	auctionID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := newStubSub()
			for j := 0; j < 50; j++ {
				_ = r.Join(context.Background(), sub, auctionID)
				r.Broadcast(auctionID, wire.MustEvent(wire.EventTypeBidUpdate,
					wire.BidUpdateBroadcastPayload{AuctionItemID: auctionID}))
				r.Leave(sub, auctionID)
			}
			r.OnDisconnect(sub)
		}()
	}
	wg.Wait()

	require.Zero(t, r.RoomSize(auctionID))
}
