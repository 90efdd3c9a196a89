package audit

import (
	"context"

	"lv-papertrade/internal/marketdata"
)

var _ Sink = (*BusSink)(nil)

// BusSink republishes events on the in-process bus feeding websocket
// clients. Events are typed "trade.create" and "trade.close".
type BusSink struct {
	bus *marketdata.Bus
}

func NewBusSink(bus *marketdata.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) RecordEvent(_ context.Context, evt Event) error {
	s.bus.Publish(marketdata.Event{Type: "trade." + string(evt.Action), Data: evt})
	return nil
}
