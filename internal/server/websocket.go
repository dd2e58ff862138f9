package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/metrics"
	"github.com/livetemplate/tinkerpen/internal/sandbox"
	"github.com/livetemplate/tinkerpen/internal/view"
	"github.com/livetemplate/tinkerpen/internal/workspace"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketHandler fans workspace events out to connected editor shells and
// applies their actions. Each shell has its own view state.
type WebSocketHandler struct {
	ws         *workspace.Workspace
	logger     *zap.Logger
	breakpoint int
	headless   bool

	mu          sync.RWMutex
	clients     map[string]*client
	nextSeq     uint64
	closed      bool
	unsubscribe func()
	wg          sync.WaitGroup
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	view *view.Machine
	seq  uint64 // connection order

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketHandler subscribes to ws for the handler's lifetime.
func NewWebSocketHandler(ws *workspace.Workspace, breakpoint int, headless bool, logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		ws:         ws,
		logger:     logger.Named("ws"),
		breakpoint: breakpoint,
		headless:   headless,
		clients:    make(map[string]*client),
	}
	h.unsubscribe = ws.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the connection and runs the client until it leaves.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		view: view.New(h.breakpoint),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.nextSeq++
	c.seq = h.nextSeq
	h.clients[c.id] = c
	h.wg.Add(1)
	h.mu.Unlock()
	metrics.ActiveClients.Inc()
	h.logger.Debug("client connected", zap.String("client", c.id), zap.Int("clients", h.count()))

	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.close()
		metrics.ActiveClients.Dec()
		h.logger.Debug("client disconnected", zap.String("client", c.id))
		h.wg.Done()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c)
	}()

	if err := h.sendInit(c); err != nil {
		h.logger.Warn("failed to send init", zap.Error(err))
		c.close()
	} else {
		h.readPump(c)
	}
	c.close()
	<-writerDone
}

// Close disconnects every client and stops listening to the workspace.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	// The workspace calls broadcast while holding its listener lock, so
	// unsubscribing must happen outside h.mu.
	h.unsubscribe()
	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

// relayOwner reports whether c is the most recently connected shell. Every
// shell runs its own preview frame; only one of them feeds the console.
func (h *WebSocketHandler) relayOwner(c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, other := range h.clients {
		if other.seq > c.seq {
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) sendInit(c *client) error {
	docs := h.ws.Documents()
	active, _ := h.ws.Active()

	data := InitData{
		ClientID:   c.id,
		Documents:  docs,
		ActiveID:   active.ID,
		Settings:   h.ws.Settings(),
		View:       c.view.State(),
		Breakpoint: h.breakpoint,
		Console:    consoleData(h.ws.Console()),
		Headless:   h.headless,
		Sandbox:    sandbox.IframeSandbox,
	}
	if inst := h.ws.Preview(); inst != nil {
		data.Preview = &PreviewData{Generation: inst.Generation(), URL: previewURL(inst.Generation())}
	}

	env, err := envelope(ActionInit, data)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

func (h *WebSocketHandler) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg MessageEnvelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		if err := h.handle(c, msg); err != nil {
			h.logger.Debug("action failed",
				zap.String("client", c.id), zap.String("action", msg.Action), zap.Error(err))
			env, _ := envelope(ActionError, map[string]string{"action": msg.Action, "error": err.Error()})
			_ = c.enqueue(env)
		}
	}
}

// writePump owns the connection: it is the only writer and closes the
// connection on exit, which also unblocks the reader.
func (h *WebSocketHandler) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handle applies one client action.
func (h *WebSocketHandler) handle(c *client, msg MessageEnvelope) error {
	switch msg.Action {
	case ActionEdit:
		var content string
		if err := json.Unmarshal(msg.Data, &content); err != nil {
			return errors.New("edit data must be a string")
		}
		return h.ws.Edit(c.id, msg.DocumentID, content)

	case ActionSelect:
		_, err := h.ws.Select(c.id, msg.DocumentID)
		return err

	case ActionResize:
		var data ResizeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return errors.New("resize data must be {width}")
		}
		return h.sendView(c, c.view.Resize(data.Width))

	case ActionTogglePreview:
		return h.sendView(c, c.view.TogglePreview())

	case ActionClosePreview:
		return h.sendView(c, c.view.SetPreviewVisible(false))

	case ActionToggleConsole:
		return h.sendView(c, c.view.ToggleConsole())

	case ActionToggleSettings:
		return h.sendView(c, c.view.ToggleSettings())

	case ActionToggleSetting:
		var name string
		if err := json.Unmarshal(msg.Data, &name); err != nil || name == "" {
			return errors.New("toggle-setting data must be an option name")
		}
		h.ws.ToggleSetting(c.id, name)
		return nil

	case ActionClearConsole:
		h.ws.ClearConsole()
		return nil

	case ActionConsole:
		// Relayed frame messages are untrusted; anything unexpected is dropped.
		if !h.relayOwner(c) {
			h.logger.Debug("ignoring relay from older shell", zap.String("client", c.id))
			return nil
		}
		h.ws.Relay(msg.Generation, msg.Data)
		return nil

	default:
		return errors.New("unknown action")
	}
}

func (h *WebSocketHandler) sendView(c *client, state view.State) error {
	env, err := envelope(ActionView, state)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

// broadcast runs on workspace goroutines and must not block.
func (h *WebSocketHandler) broadcast(ev workspace.Event) {
	env, err := eventEnvelope(ev)
	if err != nil {
		h.logger.Warn("dropping event", zap.Error(err))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("failed to encode event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		// The editing shell already shows its own keystrokes.
		if ev.Type == workspace.EventDocument && ev.Origin == id {
			continue
		}
		if !c.trySend(data) {
			h.logger.Warn("client too slow, disconnecting", zap.String("client", id))
			c.close()
		}
	}
}

var errClientClosed = errors.New("client closed")

func (c *client) enqueue(env MessageEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if !c.trySend(data) {
		return errClientClosed
	}
	return nil
}

func (c *client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
