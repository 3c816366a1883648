package service

import (
	"encoding/json"

	ws "pharmstock/internal/websocket"
)

// Websocket event names pushed to the hub for live dashboards.
const (
	EventReservationCreated = "RESERVATION_CREATED"
	EventReservationClosed  = "RESERVATION_CLOSED"
	EventStockAllocated     = "STOCK_ALLOCATED"
	EventStockReceived      = "STOCK_RECEIVED"
	EventLotWrittenOff      = "LOT_WRITTEN_OFF"
)

// Event is the websocket payload broadcast on ledger and stock mutations.
type Event struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// publish broadcasts an event on the hub. A nil hub (tests, workers without a
// websocket endpoint) makes it a no-op.
func publish(hub *ws.Hub, event string, data map[string]interface{}) {
	if hub == nil {
		return
	}
	payload, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		return
	}
	hub.Broadcast <- payload
}
