package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = Multi(nil)
)

// LogSink writes events to the structured log.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log.WithField("component", "audit-log")}
}

func (s *LogSink) RecordEvent(_ context.Context, evt Event) error {
	fields := logrus.Fields{
		"event_id":  evt.ID.String(),
		"order_id":  evt.OrderID,
		"action":    evt.Action,
		"timestamp": evt.Timestamp,
	}
	if evt.Side != "" {
		fields["type"] = evt.Side
	}
	if evt.Amount != nil {
		fields["amount"] = evt.Amount.String()
	}
	if evt.Price != nil {
		fields["price"] = evt.Price.String()
	}
	if evt.Status != "" {
		fields["status"] = evt.Status
	}
	if evt.ClosePrice != nil {
		fields["close_price"] = evt.ClosePrice.String()
	}
	s.log.WithFields(fields).Info("trade event")
	return nil
}

// Multi fans an event out to every sink and returns the first error after
// all of them have been tried.
type Multi []Sink

func (m Multi) RecordEvent(ctx context.Context, evt Event) error {
	var first error
	for _, s := range m {
		if err := s.RecordEvent(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
