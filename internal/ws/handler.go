package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/auth"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/history"
	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/metrics"
	"github.com/darkcode/darkcode-server/internal/replay"
	"github.com/darkcode/darkcode-server/internal/security"
	"github.com/darkcode/darkcode-server/internal/session"
	"github.com/darkcode/darkcode-server/internal/version"
)

// helloWait bounds how long a fresh connection may take to identify
// itself before being dropped.
const helloWait = 10 * time.Second

// historyPageSize caps how many past messages a new connection
// receives.
const historyPageSize = 50

// Deps collects everything the endpoint needs.
type Deps struct {
	Holder  *config.Holder
	Hub     *session.Hub
	Guests  *security.GuestManager
	Limiter *security.Limiter
	Runner  *agent.Runner
	History *history.Store
	Spool   *replay.Spool
	// ServerState reports the server lifecycle state for state frames.
	ServerState func() string
}

// Handler upgrades connections, authenticates them, and bridges frames
// to the agent runner.
type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	run  runControl
	seqs seqTracker

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHandler builds the endpoint handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:  log.WithComponent("ws"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP authenticates the request and hands the upgraded
// connection to the session loop. Auth happens before the upgrade so
// rejected clients get proper HTTP status codes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := h.deps.Holder.Get()
	clientIP := security.GetClientIP(r)

	if blocked, err := h.deps.Limiter.IsBlocked(ctx, clientIP); err == nil && blocked {
		metrics.IncRejected("blocked")
		http.Error(w, "blocked", http.StatusForbidden)
		return
	}
	if !h.deps.Limiter.Allow(clientIP, security.IdentifierIP) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	token := auth.ExtractToken(r, true)
	isGuest := auth.IsGuestCode(token)

	var guestCode security.GuestCode
	permission := config.PermissionFull
	if isGuest {
		gc, err := h.deps.Guests.Validate(ctx, token)
		if err != nil {
			h.recordAuthFailure(ctx, clientIP, "guest_code")
			http.Error(w, "invalid guest code", http.StatusUnauthorized)
			return
		}
		guestCode = gc
		permission = gc.PermissionLevel
	} else if !auth.AuthorizeToken(token, cfg.Token) {
		h.recordAuthFailure(ctx, clientIP, "token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldClientIP, clientIP).Msg("upgrade failed")
		return
	}

	go h.attach(conn, r, clientIP, isGuest, guestCode, permission)
}

// attach runs the post-upgrade handshake and then the session loop.
func (h *Handler) attach(conn *websocket.Conn, r *http.Request, clientIP string, isGuest bool, guestCode security.GuestCode, permission string) {
	cfg := h.deps.Holder.Get()

	hello, ok := h.readHello(conn)
	if !ok {
		_ = conn.Close()
		return
	}

	deviceID := auth.ExtractDeviceID(r)
	if deviceID == "" {
		deviceID = hello.DeviceID
	}

	switch auth.CheckDevice(cfg.DeviceLock, cfg.BoundDeviceID, deviceID, isGuest) {
	case auth.DeviceBind:
		err := h.deps.Holder.Update(func(c *config.Config) {
			c.BoundDeviceID = deviceID
		})
		if err != nil {
			h.logger.Error().Err(err).Msg("persisting device binding failed")
		} else {
			h.logger.Info().
				Str("event", "ws.device_bound").
				Str(log.FieldDeviceID, deviceID).
				Msg("first device bound to server")
		}
	case auth.DeviceRejected:
		metrics.IncRejected("device_lock")
		identifier := deviceID
		identifierType := security.IdentifierDevice
		if identifier == "" {
			identifier = clientIP
			identifierType = security.IdentifierIP
		}
		if _, err := h.deps.Limiter.RecordFailure(context.Background(), identifier, identifierType); err != nil {
			h.logger.Error().Err(err).Msg("recording device rejection failed")
		}
		h.sendDirect(conn, errorEnvelope(CodeDeviceLocked, "server is locked to another device"))
		_ = conn.Close()
		return
	}

	sess := session.New(deviceID, hello.DeviceName, clientIP, isGuest, permission)
	if isGuest {
		sess.GuestCode = guestCode.Code
	}

	if err := h.deps.Hub.Add(sess); err != nil {
		h.sendDirect(conn, errorEnvelope(CodeSessionLimit, err.Error()))
		_ = conn.Close()
		return
	}

	c := newClient(conn, sess, h.logger.With().Str(log.FieldSessionID, sess.ID).Logger())
	h.register(c)
	go c.writePump()

	h.sendReady(c, sess)
	h.sendRecentHistory(c, sess)

	c.readPump(func(e Envelope) { h.dispatch(c, e) })

	// Connection gone: detach and stop a run this client started.
	h.unregister(c)
	h.deps.Hub.Remove(sess.ID)
	h.run.interruptIfOwner(c)
}

// readHello consumes the identification frame every client must send
// first.
func (h *Handler) readHello(conn *websocket.Conn) (Envelope, bool) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))

	var e Envelope
	if err := conn.ReadJSON(&e); err != nil {
		h.logger.Debug().Err(err).Msg("no hello frame received")
		return Envelope{}, false
	}
	if e.Type != TypeHello {
		h.sendDirect(conn, errorEnvelope(CodeBadRequest, "first frame must be hello"))
		return Envelope{}, false
	}
	return e, true
}

// sendDirect writes a frame before the write pump exists.
func (h *Handler) sendDirect(conn *websocket.Conn, e Envelope) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(e)
}

func (h *Handler) sendReady(c *client, sess *session.Session) {
	cfg := h.deps.Holder.Get()

	ready := newEnvelope(TypeReady)
	ready.SessionID = sess.ID
	ready.ServerName = cfg.ServerName
	ready.ServerVersion = version.Version
	ready.Permission = sess.Permission
	c.enqueue(ready)

	if h.deps.ServerState != nil {
		c.enqueue(stateEnvelope(h.deps.ServerState()))
	}
}

// sendRecentHistory pushes the tail of the device's conversation so
// the app can restore its view after a reconnect.
func (h *Handler) sendRecentHistory(c *client, sess *session.Session) {
	conv, err := h.deps.History.Get(context.Background(), h.streamKey(sess))
	if err != nil {
		return
	}
	msgs := conv.Messages
	if len(msgs) > historyPageSize {
		msgs = msgs[len(msgs)-historyPageSize:]
	}
	e := newEnvelope(TypeHistory)
	e.Messages = msgs
	c.enqueue(e)
}

func (h *Handler) dispatch(c *client, e Envelope) {
	switch e.Type {
	case TypeHello:
		// Duplicate hello after the handshake; nothing to update.
	case TypePing:
		pong := newEnvelope(TypePong)
		pong.ID = e.ID
		c.enqueue(pong)
	case TypePrompt:
		h.handlePrompt(c, e)
	case TypeInterrupt:
		h.handleInterrupt(c)
	case TypeReplay:
		h.handleReplay(c, e)
	default:
		c.enqueue(errorEnvelope(CodeBadRequest, "unknown frame type "+e.Type))
	}
}

// streamKey scopes replay frames and conversation history. Keyed by
// device when one is known so both survive reconnects, which always
// mint fresh session IDs.
func (h *Handler) streamKey(sess *session.Session) string {
	if sess.DeviceID != "" {
		return sess.DeviceID
	}
	return sess.ID
}

func (h *Handler) recordAuthFailure(ctx context.Context, clientIP, reason string) {
	metrics.IncAuthFailure(reason)
	metrics.IncRejected("auth")
	if _, err := h.deps.Limiter.RecordFailure(ctx, clientIP, security.IdentifierIP); err != nil {
		h.logger.Error().Err(err).Msg("recording auth failure failed")
	}
}

func (h *Handler) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// BroadcastState tells every connected client about a server lifecycle
// change.
func (h *Handler) BroadcastState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(stateEnvelope(state))
	}
}

// Shutdown announces the stop to all clients and closes their
// connections.
func (h *Handler) Shutdown() {
	h.BroadcastState("stopping")

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
