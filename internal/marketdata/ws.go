package marketdata

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// EventsWS streams bus events to a websocket client as JSON, one message
// per event. Sending the last known price on connect is optional.
type EventsWS struct {
	bus      *Bus
	ticker   *PriceTicker
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewEventsWS(bus *Bus, ticker *PriceTicker, origin string, log logrus.FieldLogger) *EventsWS {
	return &EventsWS{
		bus:      bus,
		ticker:   ticker,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) }},
		log:      log.WithField("component", "events-ws"),
	}
}

func (h *EventsWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if h.ticker != nil {
		if q, ok := h.ticker.Last(); ok {
			if err := h.write(conn, Event{Type: "price", Data: q}); err != nil {
				return
			}
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := h.write(conn, evt); err != nil {
				h.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *EventsWS) write(conn *websocket.Conn, evt Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}

func allowOrigin(r *http.Request, origin string) bool {
	got := r.Header.Get("Origin")
	if origin == "*" || got == "" {
		return true
	}
	return strings.EqualFold(got, origin)
}
