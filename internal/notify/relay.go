package notify

import (
	"net/http"
	"time"

	"homeapi/internal/logging"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay streams events from a Subscriber to websocket clients as JSON text
// frames. Anything the client sends is ignored.
type Relay struct {
	sub    Subscriber
	logger *logging.Logger
}

func NewRelay(sub Subscriber, logger *logging.Logger) *Relay {
	return &Relay{sub: sub, logger: logger}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := rl.logger.WithRequestID(r.Context())

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	events, cancel, err := rl.sub.Subscribe(r.Context())
	if err != nil {
		log.Error("subscribing to notes events", zap.Error(err))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}
	defer cancel()

	log.Debug("notes event stream opened", zap.String("remote_addr", r.RemoteAddr))

	// The read loop only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				log.Debug("writing event to client", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Debug("notes event stream closed")
			return
		}
	}
}
