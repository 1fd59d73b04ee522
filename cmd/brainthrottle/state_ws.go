package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Read-only live feed of the throttle state:
//   - "state_init" with a StateSnapshot on connect (requested through the
//     daemon loop, never read from DaemonState directly)
//   - "penalty_started", "penalty_extended", "penalty_restored" and
//     "brightness_changed" as the reducer emits them
//
// Frames are JSON text messages with an envelope: {type, ts, data}.
// Slow clients are disconnected when their send buffer fills.
//
// ============================================================================

type wsPenaltyStartedData struct {
	OriginalBrightness float64   `json:"original_brightness"`
	Brightness         float64   `json:"brightness"`
	RecentTotal        int64     `json:"recent_total"`
	Magnitude          int64     `json:"magnitude"`
	Deadline           time.Time `json:"deadline"`
}

type wsPenaltyExtendedData struct {
	Brightness  float64   `json:"brightness"`
	Dimmed      bool      `json:"dimmed"`
	RecentTotal int64     `json:"recent_total"`
	Magnitude   int64     `json:"magnitude"`
	Deadline    time.Time `json:"deadline"`
}

type wsPenaltyRestoredData struct {
	Brightness float64 `json:"brightness"`
	Reason     string  `json:"reason"`
}

type wsBrightnessChangedData struct {
	Brightness float64 `json:"brightness"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "use now"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int
	// BroadcastBuf is the hub inbound broadcast queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) fanout(msg []byte) {
	// Collect slow clients first, remove them after unlocking.
	var slow []*Client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.removeClient(c, "slow_client")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes enqueues a pre-serialized JSON frame for broadcast.
// It never blocks; if the hub queue is full the frame is dropped.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close drops the connection and signals writePump by closing send.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsBrightnessCoalesceWindow bounds how often brightness_changed frames are
// emitted; within a window the latest value wins.
const wsBrightnessCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued frames and keepalive pings.
// It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames to notice disconnects and handle pongs,
// then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// Used for the initial snapshot request on connect.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Serve Router(path),
// then run Hub().Run(ctx) and RunBroadcaster.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Router returns the state server routes: the WS feed at wsPath, a one-shot
// JSON snapshot at /state and a liveness check at /health. Handler panics are
// recovered and logged.
func (s *Server) Router(wsPath string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(wsPath, s.handleStateWS).Methods(http.MethodGet)
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	recoveryLog := slog.NewLogLogger(s.logger.Handler(), slog.LevelError)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLog),
		handlers.PrintRecoveryStack(true),
	)(r)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// handleState answers with the current StateSnapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "daemon not attached", http.StatusServiceUnavailable)
		return
	}
	snap, err := requestSnapshot(r.Context(), s.events, time.Second)
	if err != nil {
		s.logger.Warn("state snapshot request failed", "error", err)
		http.Error(w, "snapshot unavailable", http.StatusGatewayTimeout)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Debug("state response write failed", "error", err)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so no broadcast between snapshot and registration is lost.
	s.hub.register <- client

	// Pumps must outlive the request context, which net/http cancels when
	// this handler returns.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events, time.Second)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope("state_init", time.Now(), snap)
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// requestSnapshot asks the daemon loop for a StateSnapshot and waits for the
// reply, bounded by timeout when ctx has no deadline of its own.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	if _, has := ctx.Deadline(); !has && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted StateBroadcast events, marshals them and
// hands them to the hub. Intended to run as a single goroutine.
//
// brightness_changed is rate-limited (latest wins, flushed at most once per
// wsBrightnessCoalesceWindow); penalty events flush any pending brightness
// first and then go out immediately, so ordering is preserved.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerC <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev.Type, ev.At, ev.Data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}
	flush := func() {
		if pending != nil {
			emit(*pending)
			pending = nil
		}
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerC:
			timer, timerC = nil, nil
			flush()

		case b, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				logger.Debug("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "brightness_changed" {
				pending = &ev
				if timer == nil {
					timer = time.NewTimer(wsBrightnessCoalesceWindow)
					timerC = timer.C
				}
				continue
			}

			flush()
			stopTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastPenaltyStarted:
		return wsOutboundEvent{
			Type: broadcastType(b),
			Data: wsPenaltyStartedData{
				OriginalBrightness: ev.OriginalBrightness,
				Brightness:         ev.Penalty,
				RecentTotal:        ev.RecentTotal,
				Magnitude:          ev.Magnitude,
				Deadline:           ev.Deadline,
			},
			At: ev.At,
		}, true

	case BroadcastPenaltyExtended:
		return wsOutboundEvent{
			Type: broadcastType(b),
			Data: wsPenaltyExtendedData{
				Brightness:  ev.Penalty,
				Dimmed:      ev.Dimmed,
				RecentTotal: ev.RecentTotal,
				Magnitude:   ev.Magnitude,
				Deadline:    ev.Deadline,
			},
			At: ev.At,
		}, true

	case BroadcastPenaltyRestored:
		return wsOutboundEvent{
			Type: broadcastType(b),
			Data: wsPenaltyRestoredData{Brightness: ev.Brightness, Reason: ev.Reason},
			At:   ev.At,
		}, true

	case BroadcastBrightnessChanged:
		return wsOutboundEvent{
			Type: broadcastType(b),
			Data: wsBrightnessChangedData{Brightness: ev.Brightness},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}

// broadcastType is the wire name of a broadcast.
func broadcastType(b StateBroadcast) string {
	switch b.(type) {
	case BroadcastPenaltyStarted:
		return "penalty_started"
	case BroadcastPenaltyExtended:
		return "penalty_extended"
	case BroadcastPenaltyRestored:
		return "penalty_restored"
	case BroadcastBrightnessChanged:
		return "brightness_changed"
	default:
		return "unknown"
	}
}
