// Package spectate streams episode snapshots to websocket watchers.
package spectate

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"dinosim/internal/sim"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"

	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

type watcher struct {
	conn   *websocket.Conn
	binary bool
	send   chan []byte
	once   sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.send) })
}

// Hub is a sim.Sink that fans every snapshot out to connected watchers.
// Slow watchers miss frames instead of stalling the episode.
type Hub struct {
	logger        *log.Logger
	marshalBinary func(v any) ([]byte, error)

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	latest   []byte
	frames   uint64
	dropped  uint64
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{logger: logger, marshalBinary: msgpack.Marshal, watchers: make(map[*watcher]struct{})}
}

func (h *Hub) Frame(snapshot sim.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.frames++
	jsonFrame, err := json.Marshal(&snapshot)
	if err != nil {
		h.logger.Printf("encode frame tick=%d: %v", snapshot.Tick, err)
		return
	}
	h.latest = jsonFrame

	var binaryFrame []byte
	for w := range h.watchers {
		if w.binary {
			binaryFrame, err = h.marshalBinary(&snapshot)
			if err != nil {
				h.logger.Printf("encode msgpack frame tick=%d: %v", snapshot.Tick, err)
				binaryFrame = nil
			}
			break
		}
	}

	for w := range h.watchers {
		frame := jsonFrame
		if w.binary {
			if binaryFrame == nil {
				h.dropped++
				continue
			}
			frame = binaryFrame
		}
		select {
		case w.send <- frame:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Stats reports frames seen and frames dropped for slow watchers.
func (h *Hub) Stats() (frames, dropped uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames, h.dropped
}

// Close disconnects every watcher.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		w.close()
		delete(h.watchers, w)
	}
}

func (h *Hub) add(w *watcher) {
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	n := len(h.watchers)
	h.mu.Unlock()
	h.logger.Printf("watcher connected binary=%t watchers=%d", w.binary, n)
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	_, ok := h.watchers[w]
	delete(h.watchers, w)
	n := len(h.watchers)
	h.mu.Unlock()
	w.close()
	if ok {
		h.logger.Printf("watcher disconnected watchers=%d", n)
	}
}

// Handler serves /ws, /state and /healthz with combined access logging to
// accessLog. A nil accessLog disables access logging.
func (h *Hub) Handler(accessLog io.Writer) http.Handler {
	wrap := func(fn http.HandlerFunc) http.Handler {
		if accessLog == nil {
			return fn
		}
		return handlers.CombinedLoggingHandler(accessLog, fn)
	}

	router := mux.NewRouter()
	router.Handle("/ws", wrap(h.serveWebsocket)).Methods(http.MethodGet)
	router.Handle("/state", wrap(h.serveState)).Methods(http.MethodGet)
	router.Handle("/healthz", wrap(serveHealth)).Methods(http.MethodGet)
	return router
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (h *Hub) serveState(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	latest := h.latest
	h.mu.Unlock()

	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(latest)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Hub) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatMsgpack {
		http.Error(w, "format must be json or msgpack", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade: %v", err)
		return
	}
	client := &watcher{conn: conn, binary: format == FormatMsgpack, send: make(chan []byte, sendBuffer)}
	h.add(client)

	// Reading is required to notice a client-side close.
	go func() {
		defer h.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	messageType := websocket.TextMessage
	if client.binary {
		messageType = websocket.BinaryMessage
	}
	defer conn.Close()
	for frame := range client.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(messageType, frame); err != nil {
			h.remove(client)
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "episode over"))
}
