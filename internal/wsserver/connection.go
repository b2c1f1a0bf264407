// Package wsserver implements the connection handler (C5): a websocket
// upgrade endpoint, one session per peer, action dispatch, and the typed
// outbound frames the rate service's subscriber callback writes through.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"ratefeed/internal/logging"
	"ratefeed/internal/ratepoint"
	"ratefeed/internal/rateservice"
	"ratefeed/internal/symbols"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// inboundFrame is the shape of every client->server message.
type inboundFrame struct {
	Action  string `json:"action"`
	Message struct {
		AssetID *int `json:"assetId"`
	} `json:"message"`
}

// outboundFrame wraps every server->client message.
type outboundFrame struct {
	Action  string      `json:"action"`
	Message interface{} `json:"message"`
}

// connection is one peer's session: a reader loop driving action dispatch,
// and a writer goroutine draining a buffered send channel so a slow peer
// never blocks the rate service's notifier pool for longer than one
// enqueue.
type connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	service *rateservice.Service
	log     *logging.Logger
}

func newConnection(id string, conn *websocket.Conn, service *rateservice.Service) *connection {
	return &connection{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, 256),
		service: service,
		log:     logging.Named("wsserver"),
	}
}

// serve runs the session to completion: reader loop plus writer goroutine.
// On return the peer is always unsubscribed.
func (c *connection) serve() {
	defer c.service.Unsubscribe(c.id)
	defer c.conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop()
	}()

	c.readLoop()
	close(c.send)
	<-done
}

func (c *connection) writeLoop() {
	for msg := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		if _, err := w.Write(msg); err != nil {
			w.Close()
			return
		}
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *connection) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(raw)
	}
}

func (c *connection) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Warn().Str("subscriber", c.id).Msg("invalid json message")
		return
	}

	switch frame.Action {
	case "assets":
		c.replyAssets()
	case "subscribe":
		if frame.Message.AssetID == nil {
			c.log.Warn().Str("subscriber", c.id).Msg("subscribe missing assetId")
			return
		}
		c.handleSubscribe(*frame.Message.AssetID)
	default:
		c.log.Warn().Str("subscriber", c.id).Str("action", frame.Action).Msg("unknown action")
	}
}

func (c *connection) replyAssets() {
	c.writeFrame(outboundFrame{Action: "assets", Message: map[string][]symbols.Symbol{"assets": c.service.Symbols()}})
}

// handleSubscribe admits assetID, sends the historical window, then
// installs the live subscription — strictly in that order, so the client
// can never observe a live point before its requested history.
func (c *connection) handleSubscribe(assetID int) {
	if !c.service.AssetKnown(assetID) {
		c.log.Warn().Str("subscriber", c.id).Int("assetId", assetID).Msg("subscribe on unknown assetId")
		return
	}

	points, err := c.service.History(context.Background(), assetID)
	if err != nil {
		c.log.Error().Err(err).Int("assetId", assetID).Msg("history lookup failed")
		points = nil
	}
	c.writeFrame(outboundFrame{Action: "asset_history", Message: map[string][]ratepoint.Point{"points": points}})

	c.service.Subscribe(c.id, assetID, c.deliverPoint)
}

// deliverPoint is the per-subscriber callback installed on the rate
// service's registry; it runs on a notifier-pool worker goroutine.
func (c *connection) deliverPoint(ctx context.Context, point ratepoint.Point) {
	c.writeFrame(outboundFrame{Action: "point", Message: point})
}

func (c *connection) writeFrame(frame outboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode outbound frame")
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn().Str("subscriber", c.id).Msg("send on slow or closed connection, dropping frame")
	}
}
