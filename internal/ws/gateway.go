// Package ws carries the bidirectional transport: one reader goroutine and
// one writer pump per client connection, with envelope-dispatched inbound
// events and guaranteed presence/room cleanup on disconnect.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/call"
	"github.com/fathima-sithara/realtime-service/internal/delivery"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/room"
)

// Envelope is the client→server frame shape.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomRef struct {
	ConversationID string `json:"conversation_id"`
}

type sendMessageReq struct {
	ConversationID string   `json:"conversation_id"`
	Content        string   `json:"content"`
	Attachments    []string `json:"attachments,omitempty"`
	ReplyTo        string   `json:"reply_to,omitempty"`
}

type errorPayload struct {
	Op      string      `json:"op"`
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type Options struct {
	PingInterval  time.Duration
	WriteDeadline time.Duration
	ReadDeadline  time.Duration
	MaxMsgSize    int64
	SendBuffer    int
}

type Gateway struct {
	validator *auth.Validator
	store     repository.Store
	registry  *presence.Registry
	rooms     *room.Multiplexer
	deliverer *delivery.Coordinator
	calls     *call.Relay
	opts      Options
	log       *zap.SugaredLogger

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewGateway(validator *auth.Validator, store repository.Store, registry *presence.Registry, rooms *room.Multiplexer, deliverer *delivery.Coordinator, calls *call.Relay, opts Options, log *zap.SugaredLogger) *Gateway {
	g := &Gateway{
		validator: validator,
		store:     store,
		registry:  registry,
		rooms:     rooms,
		deliverer: deliverer,
		calls:     calls,
		opts:      opts,
		log:       log,
		conns:     make(map[string]*Conn),
	}
	// presence transitions go to every live socket, not a single room
	registry.Subscribe(g.fanoutPresence)
	return g
}

// Handler upgrades and serves one connection: /ws?token=<jwt>.
func (g *Gateway) Handler() func(*websocket.Conn) {
	return func(sock *websocket.Conn) {
		token := sock.Query("token")
		userID, err := g.validator.Validate(token)
		if err != nil {
			_ = sock.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"NOT_AUTHORIZED","message":"invalid token"}}`))
			_ = sock.Close()
			return
		}

		c := newConn(uuid.New().String(), userID, sock, g.opts.SendBuffer)
		g.register(c)
		g.registry.Connect(userID)
		// cleanup is unconditional: presence and every joined room are
		// released even on abnormal termination
		defer func() {
			c.close()
			g.rooms.LeaveAll(c.ID())
			g.registry.Disconnect(userID)
			g.unregister(c)
		}()

		go c.writePump(g.opts.PingInterval, g.opts.WriteDeadline)
		g.readLoop(c)
	}
}

func (g *Gateway) readLoop(c *Conn) {
	c.sock.SetReadLimit(g.opts.MaxMsgSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(g.opts.ReadDeadline))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(g.opts.ReadDeadline))
	})

	for {
		mt, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		g.dispatch(c, env)
	}
}

func (g *Gateway) dispatch(c *Conn, env Envelope) {
	ctx := context.Background()
	switch env.Type {
	case "joinRoom":
		var req roomRef
		if json.Unmarshal(env.Payload, &req) != nil || req.ConversationID == "" {
			return
		}
		conv, err := g.store.LoadConversation(ctx, req.ConversationID)
		if err != nil {
			g.sendError(c, env.Type, err)
			return
		}
		if conv.Dissolved || !conv.IsMember(c.UserID()) {
			g.sendError(c, env.Type, apperr.NotAMember("not a member of this conversation"))
			return
		}
		g.rooms.Join(req.ConversationID, c)

	case "leaveRoom":
		var req roomRef
		if json.Unmarshal(env.Payload, &req) != nil {
			return
		}
		g.rooms.Leave(req.ConversationID, c.ID())

	case "sendMessage":
		var req sendMessageReq
		if json.Unmarshal(env.Payload, &req) != nil {
			return
		}
		if _, err := g.deliverer.SendMessage(ctx, req.ConversationID, c.UserID(), req.Content, req.Attachments, req.ReplyTo); err != nil {
			g.sendError(c, env.Type, err)
		}

	case "markAsRead":
		var req roomRef
		if json.Unmarshal(env.Payload, &req) != nil {
			return
		}
		if _, err := g.deliverer.MarkAsRead(ctx, req.ConversationID, c.UserID()); err != nil {
			g.sendError(c, env.Type, err)
		}

	case "typing":
		// ephemeral, never persisted
		var req roomRef
		if json.Unmarshal(env.Payload, &req) != nil {
			return
		}
		g.rooms.Broadcast(req.ConversationID, models.EventTyping, models.TypingPayload{
			ConversationID: req.ConversationID,
			UserID:         c.UserID(),
		})

	case "startCall":
		var req roomRef
		if json.Unmarshal(env.Payload, &req) != nil {
			return
		}
		if err := g.calls.InitiateCall(ctx, req.ConversationID, c.UserID()); err != nil {
			g.sendError(c, env.Type, err)
		}

	default:
		g.log.Debugw("unknown ws event", "type", env.Type, "user", c.UserID())
	}
}

func (g *Gateway) sendError(c *Conn, op string, err error) {
	b, merr := json.Marshal(models.Event{Type: "error", Payload: errorPayload{
		Op:      op,
		Code:    apperr.CodeOf(err),
		Message: err.Error(),
	}})
	if merr != nil {
		return
	}
	_ = c.Send(b)
}

func (g *Gateway) register(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.ID()] = c
	metrics.ActiveConnections.Inc()
}

func (g *Gateway) unregister(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[c.ID()]; ok {
		delete(g.conns, c.ID())
		metrics.ActiveConnections.Dec()
	}
}

// fanoutPresence pushes online/offline transitions to every live socket.
func (g *Gateway) fanoutPresence(ev presence.Event) {
	evtType := models.EventUserOnline
	payload := models.PresencePayload{UserID: ev.UserID, Online: ev.Online}
	if !ev.Online {
		evtType = models.EventUserOffline
		at := ev.LastSeenAt
		payload.LastSeenAt = &at
	}
	b, err := json.Marshal(models.Event{Type: evtType, Payload: payload})
	if err != nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.conns {
		if err := c.Send(b); err != nil {
			g.log.Debugw("presence fanout skipped dead conn", "conn", c.ID())
		}
	}
}
