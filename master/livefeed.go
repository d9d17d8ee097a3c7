package master

import (
	"encoding/json"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/dchest/uniuri"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// feedHandle is one attached inspector connection.
type feedHandle struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Livefeed streams the master's session events to websocket inspectors.
// Any number may attach; a slow one has events dropped rather than holding
// up the rest.
type Livefeed struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	handles  mapset.Set
}

func NewLivefeed(logger *logrus.Logger) *Livefeed {
	return &Livefeed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		handles: mapset.NewSet(),
	}
}

func (f *Livefeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Error("livefeed: upgrade failed")
		return
	}
	handle := &feedHandle{
		id:   uniuri.NewLen(8),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	f.handles.Add(handle)
	f.logger.WithField("handle", handle.id).Info("livefeed: inspector attached")
	go f.writeLoop(handle)
	go f.readLoop(handle)
}

// Broadcast sends event, serialized as JSON, to every attached inspector.
func (f *Livefeed) Broadcast(event interface{}) {
	body, err := json.Marshal(event)
	if err != nil {
		f.logger.WithError(err).Warn("livefeed: could not serialize event")
		return
	}
	for h := range f.handles.Iter() {
		handle := h.(*feedHandle)
		select {
		case handle.send <- body:
		default:
			// Inspector not keeping up; this event is dropped for it.
		}
	}
}

// CloseAll detaches every inspector, typically at shutdown.
func (f *Livefeed) CloseAll() {
	for h := range f.handles.Iter() {
		f.detach(h.(*feedHandle))
	}
}

func (f *Livefeed) detach(h *feedHandle) {
	h.once.Do(func() {
		f.handles.Remove(h)
		close(h.done)
		_ = h.conn.Close()
		f.logger.WithField("handle", h.id).Info("livefeed: inspector detached")
	})
}

func (f *Livefeed) writeLoop(h *feedHandle) {
	for {
		select {
		case <-h.done:
			return
		case body := <-h.send:
			if err := h.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				f.detach(h)
				return
			}
		}
	}
}

// readLoop discards anything the inspector sends; its job is noticing the
// connection going away.
func (f *Livefeed) readLoop(h *feedHandle) {
	for {
		if _, _, err := h.conn.ReadMessage(); err != nil {
			f.detach(h)
			return
		}
	}
}
