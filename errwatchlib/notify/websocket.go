package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const (
	ShowOp    = "show"
	DismissOp = "dismiss"

	writeWait = 5 * time.Second
)

// BannerEvent is what subscribers receive for every banner change
type BannerEvent struct {
	Op      string `json:"op"`
	Id      Handle `json:"id"`
	Message string `json:"message,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan BannerEvent
}

// WebsocketRenderer mirrors banners to every connected page. It is both the
// Renderer and the http.Handler pages connect to.
type WebsocketRenderer struct {
	logger   *logger.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func NewWebsocketRenderer(logger *logger.Logger) *WebsocketRenderer {
	return &WebsocketRenderer{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (w *WebsocketRenderer) Render(message string) (Handle, error) {
	handle := Handle(uuid.New().String())
	w.broadcast(BannerEvent{Op: ShowOp, Id: handle, Message: message})
	return handle, nil
}

func (w *WebsocketRenderer) Dismiss(handle Handle) error {
	w.broadcast(BannerEvent{Op: DismissOp, Id: handle})
	return nil
}

// Subscribers returns how many pages are currently connected
func (w *WebsocketRenderer) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subscribers)
}

func (w *WebsocketRenderer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Errorf("failed to upgrade banner subscriber: %s", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan BannerEvent, 32),
	}

	w.mu.Lock()
	w.subscribers[sub] = struct{}{}
	w.mu.Unlock()
	w.logger.Debugf("banner subscriber connected from %s", r.RemoteAddr)

	go w.writeLoop(sub)

	// we never expect messages from the page, reading just tells us when it leaves
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	w.unsubscribe(sub)
}

func (w *WebsocketRenderer) writeLoop(sub *subscriber) {
	defer sub.conn.Close()

	for event := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(event); err != nil {
			w.logger.Debugf("dropping banner subscriber: %s", err)
			w.unsubscribe(sub)
			return
		}
	}
}

func (w *WebsocketRenderer) unsubscribe(sub *subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.subscribers[sub]; ok {
		delete(w.subscribers, sub)
		close(sub.send)
	}
}

func (w *WebsocketRenderer) broadcast(event BannerEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for sub := range w.subscribers {
		select {
		case sub.send <- event:
		default:
			// a page that cannot keep up loses events rather than blocking the pipeline
			w.logger.Debugf("banner subscriber is behind, dropping %s event", event.Op)
		}
	}
}
