package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gavelhouse/gavel/internal/auth"
	"github.com/gavelhouse/gavel/internal/bidding"
	"github.com/gavelhouse/gavel/internal/models"
	"github.com/gavelhouse/gavel/internal/wire"
)

// Close reasons surfaced to the client.
const (
	reasonSlowConsumer = "SlowConsumer"
	reasonAuthRequired = "AuthRequired"
	reasonAuthFailed   = "AuthFailed"
	reasonExpired      = "Expired"
	reasonRevoked      = "Revoked"
)

// Conn is one client connection. Its state machine is
// CONNECTING → AUTHENTICATING → READY → CLOSED; identity is nil until the
// handshake clears. The write pump is the single writer on the socket.
type Conn struct {
	id       string
	gw       *Gateway
	sock     *websocket.Conn
	identity *auth.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(g *Gateway, sock *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		gw:   g,
		sock: sock,
		send: make(chan []byte, g.config.SendQueueDepth),
		done: make(chan struct{}),
	}
}

// ID implements rooms.Subscriber.
func (c *Conn) ID() string { return c.id }

// Enqueue implements rooms.Subscriber: non-blocking hand-off to the write
// pump. A closed connection swallows events rather than reporting full.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// CloseSlow implements rooms.Subscriber.
func (c *Conn) CloseSlow() {
	c.shutdown(websocket.ClosePolicyViolation, reasonSlowConsumer)
}

// run drives the connection through authentication and the ready loop.
func (c *Conn) run(ctx context.Context) {
	defer c.shutdown(websocket.CloseNormalClosure, "")

	c.sock.SetReadLimit(c.gw.config.MaxMessageSize)

	if !c.authenticate(ctx) {
		return
	}

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", c.identity.UserID.String()).
		Str("username", c.identity.Username).
		Msg("connection ready")

	c.readLoop(ctx)
}

// authenticate waits for the AUTH envelope and verifies the credential. Any
// failure closes the connection with a reason code and no further detail.
func (c *Conn) authenticate(ctx context.Context) bool {
	c.sock.SetReadDeadline(time.Now().Add(c.gw.config.AuthTimeout))

	_, raw, err := c.sock.ReadMessage()
	if err != nil {
		c.shutdown(websocket.ClosePolicyViolation, reasonAuthRequired)
		return false
	}

	var ev wire.Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != wire.EventTypeAuth {
		c.shutdown(websocket.ClosePolicyViolation, reasonAuthRequired)
		return false
	}
	var payload wire.AuthPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Token == "" {
		c.shutdown(websocket.ClosePolicyViolation, reasonAuthRequired)
		return false
	}

	identity, err := c.gw.verifier.Verify(ctx, payload.Token)
	if err != nil {
		reason := reasonAuthFailed
		switch {
		case errors.Is(err, auth.ErrExpired):
			reason = reasonExpired
		case errors.Is(err, auth.ErrRevoked):
			reason = reasonRevoked
		}
		log.Warn().
			Str("connection_id", c.id).
			Str("reason", reason).
			Msg("handshake rejected")
		c.shutdown(websocket.ClosePolicyViolation, reason)
		return false
	}

	c.identity = identity
	return true
}

// readLoop is the READY state: demux inbound events until the peer goes
// away. Bids run on their own goroutine so a slow commit never stalls
// reads; everything else is quick enough to handle inline.
func (c *Conn) readLoop(ctx context.Context) {
	c.sock.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
		return nil
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected socket close")
			}
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))

		var ev wire.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Debug().Str("connection_id", c.id).Msg("dropping malformed frame")
			continue
		}

		switch ev.Type {
		case wire.EventTypeTimeSyncRequest:
			c.handleTimeSync(ev.Payload)
		case wire.EventTypeJoinAuctionRoom:
			c.handleJoin(ctx, ev.Payload)
		case wire.EventTypeLeaveAuctionRoom:
			c.handleLeave(ev.Payload)
		case wire.EventTypePlaceBid:
			go c.handlePlaceBid(ctx, ev.Payload)
		default:
			// Unknown types are ignored, not fatal.
			log.Debug().
				Str("connection_id", c.id).
				Str("type", string(ev.Type)).
				Msg("ignoring unknown event type")
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, raw json.RawMessage) {
	var payload wire.JoinAuctionRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.AuctionItemID == uuid.Nil {
		return
	}
	if err := c.gw.rooms.Join(ctx, c, payload.AuctionItemID); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.id).
			Str("auction_id", payload.AuctionItemID.String()).
			Msg("room join failed")
	}
}

func (c *Conn) handleLeave(raw json.RawMessage) {
	var payload wire.LeaveAuctionRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.AuctionItemID == uuid.Nil {
		return
	}
	c.gw.rooms.Leave(c, payload.AuctionItemID)
}

func (c *Conn) handlePlaceBid(ctx context.Context, raw json.RawMessage) {
	var payload wire.PlaceBidPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.AuctionItemID == uuid.Nil {
		return
	}

	amount, err := models.ParseDollars(payload.BidAmountInDollars)
	if err != nil {
		c.sendEvent(wire.MustEvent(wire.EventTypeBidError, wire.BidPlacedErrorPayload{
			AuctionItemID: payload.AuctionItemID,
			ErrorCode:     string(bidding.CodeInvalidAmount),
			ErrorMessage:  "bid amount must be a number with at most two fractional digits",
		}))
		return
	}

	result, bidErr := c.gw.bids.PlaceBid(ctx, bidding.PlaceBidRequest{
		AuctionID:      payload.AuctionItemID,
		BidderUserID:   c.identity.UserID,
		BidderUsername: c.identity.Username,
		Amount:         amount,
	})
	if bidErr != nil {
		message := bidErr.Message
		if !bidErr.ClientAttributable() {
			// Internal detail stays inside; the code is all the client gets.
			message = "bid could not be processed"
		}
		c.sendEvent(wire.MustEvent(wire.EventTypeBidError, wire.BidPlacedErrorPayload{
			AuctionItemID: payload.AuctionItemID,
			ErrorCode:     string(bidErr.Code),
			ErrorMessage:  message,
		}))
		return
	}

	c.sendEvent(wire.MustEvent(wire.EventTypeBidSuccess, wire.BidPlacedSuccessPayload{
		AuctionItemID:        payload.AuctionItemID,
		BidAmountInDollars:   wire.Dollars(result.Amount),
		BidID:                result.BidID,
		BidPlacedAtTimestamp: result.AcceptedAt.UnixMilli(),
	}))
}

// sendEvent marshals and enqueues a direct reply, applying the same
// slow-consumer policy as broadcasts.
func (c *Conn) sendEvent(ev wire.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal reply")
		return
	}
	if !c.Enqueue(data) {
		c.CloseSlow()
	}
}

// writePump is the single writer on the socket: queued events and pings all
// leave through here.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(c.gw.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("socket write failed")
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.gw.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// shutdown moves the connection to CLOSED exactly once: membership is swept,
// the peer gets a close frame with the reason, and the socket dies.
func (c *Conn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.gw.rooms.OnDisconnect(c)

		deadline := time.Now().Add(time.Second)
		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		c.sock.Close()

		log.Info().
			Str("connection_id", c.id).
			Str("reason", reason).
			Msg("connection closed")
	})
}
