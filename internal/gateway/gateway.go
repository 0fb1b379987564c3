package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gavelhouse/gavel/internal/auth"
	"github.com/gavelhouse/gavel/internal/bidding"
	"github.com/gavelhouse/gavel/internal/rooms"
)

// Verifier checks the bearer credential presented on the handshake.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*auth.Identity, error)
}

// BidPlacer is the bid pipeline as the gateway sees it.
type BidPlacer interface {
	PlaceBid(ctx context.Context, req bidding.PlaceBidRequest) (*bidding.BidResult, *bidding.BidError)
}

// Rooms is the registry surface used per connection.
type Rooms interface {
	Join(ctx context.Context, sub rooms.Subscriber, auctionID uuid.UUID) error
	Leave(sub rooms.Subscriber, auctionID uuid.UUID)
	OnDisconnect(sub rooms.Subscriber)
}

// Config holds per-connection socket tuning.
type Config struct {
	AllowedOrigin  string
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	AuthTimeout    time.Duration
	MaxMessageSize int64
	// SendQueueDepth caps the outbound queue; exceeding it closes the
	// connection as a slow consumer.
	SendQueueDepth int
}

// DefaultConfig returns the standard socket configuration.
func DefaultConfig(allowedOrigin string) Config {
	return Config{
		AllowedOrigin:  allowedOrigin,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		AuthTimeout:    10 * time.Second,
		MaxMessageSize: 4096,
		SendQueueDepth: 64,
	}
}

// Gateway owns the websocket lifecycle: upgrade, credential handshake, event
// demux, and teardown.
type Gateway struct {
	config   Config
	upgrader websocket.Upgrader
	verifier Verifier
	bids     BidPlacer
	rooms    Rooms
	clock    clockwork.Clock
}

// New creates a gateway. The origin check admits only the configured origin;
// "*" disables the check for local development.
func New(config Config, verifier Verifier, bids BidPlacer, registry Rooms, clock clockwork.Clock) *Gateway {
	return &Gateway{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if config.AllowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == config.AllowedOrigin
			},
		},
		verifier: verifier,
		bids:     bids,
		rooms:    registry,
		clock:    clock,
	}
}

// HandleSocket upgrades an HTTP request and hands the connection to its
// pumps. The connection starts in the authenticating state; no auction
// traffic flows until the credential clears.
func (g *Gateway) HandleSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	// The request context dies when this handler returns; the connection
	// outlives it, so the pumps run under their own context.
	conn := newConn(g, sock)
	go conn.writePump()
	go conn.run(context.Background())
}

// RegisterRoutes mounts the socket endpoint and a liveness probe.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.HandleSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}
