package gateway

import (
	"encoding/json"

	"github.com/jonboulle/clockwork"

	"github.com/gavelhouse/gavel/internal/wire"
)

// The time-sync responder is stateless: it echoes the client's t0 and stamps
// t1/t2 with the server clock. Clients sample several round trips and take
// the median offset of the lowest-RTT samples; all the server owes them is a
// fast, honest timestamp.

func buildTimeSyncResponse(clock clockwork.Clock, req wire.TimeSyncRequestPayload) wire.TimeSyncResponsePayload {
	now := clock.Now().UnixMilli()
	return wire.TimeSyncResponsePayload{
		ClientTimestampT0InMs: req.ClientTimestampT0InMs,
		ServerTimestampT1InMs: now,
		ServerTimestampT2InMs: now,
	}
}

func (c *Conn) handleTimeSync(raw json.RawMessage) {
	var req wire.TimeSyncRequestPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	resp := buildTimeSyncResponse(c.gw.clock, req)
	c.sendEvent(wire.MustEvent(wire.EventTypeTimeSyncResponse, resp))
}
