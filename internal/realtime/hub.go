package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/sftpgate/pkg/logger"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxControl  = 4 << 10
	queueLength = 64
)

// Message is the JSON frame written to subscribers.
type Message struct {
	Stream string `json:"stream"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// topic identifies the subscribers of one progress stream within one tenant.
type topic struct {
	stream string
	owner  string
}

// Hub fans progress events out to websocket subscribers. Subscriptions are
// keyed by owner (the tenant id, or "" without tenancy) so one tenant never
// receives another tenant's events. Only progress streams can be joined.
type Hub struct {
	mu       sync.RWMutex
	topics   map[topic]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a hub. Cross-origin upgrades are refused unless the
// origin is a loopback host.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[topic]map[*subscriber]struct{}),
		log:    logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
}

// Serve upgrades the request and joins owner to streams. It blocks until the
// client disconnects.
func (h *Hub) Serve(owner string, streams []string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		hub:    h,
		socket: socket,
		owner:  owner,
		joined: make(map[string]struct{}),
		queue:  make(chan Message, queueLength),
	}
	h.join(sub, streams)

	go sub.writeLoop()
	sub.readLoop()
}

// Publish delivers message to the connections of owner subscribed to stream.
func (h *Hub) Publish(stream, owner string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	message.Stream = stream
	for sub := range h.topics[topic{stream: stream, owner: owner}] {
		h.deliver(sub, message)
	}
}

// Subscribers counts connections listening on stream across all owners.
func (h *Hub) Subscribers(stream string) int {
	stream = normalizeStream(stream)

	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for t, subs := range h.topics {
		if t.stream == stream {
			count += len(subs)
		}
	}
	return count
}

func (h *Hub) join(sub *subscriber, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if !isProgressStream(stream) {
			h.log.Debug("ignoring non-progress stream", zap.String("stream", stream), zap.String("owner", sub.owner))
			continue
		}
		if _, ok := sub.joined[stream]; ok {
			continue
		}
		key := topic{stream: stream, owner: sub.owner}
		if h.topics[key] == nil {
			h.topics[key] = make(map[*subscriber]struct{})
		}
		h.topics[key][sub] = struct{}{}
		sub.joined[stream] = struct{}{}
	}
}

func (h *Hub) leave(sub *subscriber, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range streams {
		stream = normalizeStream(stream)
		key := topic{stream: stream, owner: sub.owner}
		if subs, ok := h.topics[key]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, key)
			}
		}
		delete(sub.joined, stream)
	}
}

func (h *Hub) leaveAll(sub *subscriber) {
	h.mu.RLock()
	streams := make([]string, 0, len(sub.joined))
	for stream := range sub.joined {
		streams = append(streams, stream)
	}
	h.mu.RUnlock()
	h.leave(sub, streams)
}

// deliver never blocks. A subscriber whose queue is full is disconnected; the
// close runs on its own goroutine because callers hold h.mu.
func (h *Hub) deliver(sub *subscriber, message Message) {
	if sub.offer(message) {
		return
	}
	h.log.Warn("dropping slow progress subscriber", zap.String("owner", sub.owner))
	go sub.close()
}

type subscriber struct {
	hub    *Hub
	socket *websocket.Conn
	owner  string
	joined map[string]struct{} // guarded by hub.mu
	queue  chan Message

	closeOnce sync.Once
	queueMu   sync.Mutex
	closed    bool
}

func (s *subscriber) readLoop() {
	defer s.close()

	s.socket.SetReadLimit(maxControl)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		return s.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("websocket closed", zap.String("owner", s.owner), zap.Error(err))
			}
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			s.hub.log.Debug("invalid control payload", zap.String("owner", s.owner), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			s.hub.join(s, ctrl.Streams)
		case "unsubscribe":
			s.hub.leave(s, ctrl.Streams)
		case "ping":
			s.hub.deliver(s, Message{Event: "pong"})
		default:
			s.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action))
		}
	}
}

func (s *subscriber) writeLoop() {
	defer s.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-s.queue:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// offer queues message without blocking. It reports false only when the queue is full.
func (s *subscriber) offer(message Message) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.queue <- message:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.hub.leaveAll(s)
		s.queueMu.Lock()
		s.closed = true
		close(s.queue)
		s.queueMu.Unlock()
		_ = s.socket.Close()
	})
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := hostWithoutPort(origin)
	return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil {
			host = parsed.Host
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
