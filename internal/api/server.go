package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/call"
	"github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/conversation"
	"github.com/fathima-sithara/realtime-service/internal/delivery"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	validator *auth.Validator
	state     *conversation.StateMachine
	deliverer *delivery.Coordinator
	calls     *call.Relay
	gateway   *ws.Gateway
	log       *zap.SugaredLogger
}

func NewServer(cfg *config.Config, validator *auth.Validator, state *conversation.StateMachine, deliverer *delivery.Coordinator, calls *call.Relay, gateway *ws.Gateway, log *zap.SugaredLogger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: errorHandler,
	})
	s := &Server{
		app:       app,
		cfg:       cfg,
		validator: validator,
		state:     state,
		deliverer: deliverer,
		calls:     calls,
		gateway:   gateway,
		log:       log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	scrape := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		scrape(c.Context())
		return nil
	})

	// websocket upgrade path; identity comes from the token query param
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", fiberws.New(s.gateway.Handler()))

	api := s.app.Group("/api/v1", s.requireAuth)

	api.Post("/conversations/group", s.createGroup)
	api.Post("/conversations/private", s.createPrivate)
	api.Get("/conversations", s.listConversations)
	api.Get("/conversations/:id/messages", s.fetchHistory)
	api.Post("/conversations/:id/messages", s.sendMessage)
	api.Post("/conversations/:id/read", s.markAsRead)
	api.Post("/conversations/:id/members", s.addMembers)
	api.Delete("/conversations/:id/members/:userId", s.removeMember)
	api.Post("/conversations/:id/admins/:userId", s.promoteAdmin)
	api.Post("/conversations/:id/leave", s.leaveGroup)
	api.Delete("/conversations/:id", s.dissolveGroup)
	api.Patch("/conversations/:id", s.updateMetadata)
	api.Post("/conversations/:id/call", s.startCall)
	api.Post("/messages/:id/revoke", s.revokeMessage)
	api.Post("/messages/:id/hide", s.hideMessage)
}

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

// requireAuth resolves the verified user id from the Authorization header
// and stashes it in locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := c.Get("Authorization")
	const prefix = "Bearer "
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		token = token[len(prefix):]
	}
	userID, err := s.validator.Validate(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("userID", userID)
	return c.Next()
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// errorHandler maps taxonomy codes onto HTTP statuses and always includes
// the code in the body so clients branch on it, not on the message.
func errorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"code": "HTTP", "message": fe.Message})
	}
	code := apperr.CodeOf(err)
	status := fiber.StatusInternalServerError
	switch code {
	case apperr.CodeInvalidArgument:
		status = fiber.StatusBadRequest
	case apperr.CodeNotFound:
		status = fiber.StatusNotFound
	case apperr.CodeNotAMember, apperr.CodeNotAuthorized:
		status = fiber.StatusForbidden
	case apperr.CodeAlreadyMember, apperr.CodeAdminTransferRequired:
		status = fiber.StatusConflict
	case apperr.CodeNoOnlineParticipants:
		status = fiber.StatusPreconditionFailed
	case apperr.CodeBusy:
		status = fiber.StatusTooManyRequests
	}
	return c.Status(status).JSON(fiber.Map{"code": code, "message": err.Error()})
}

type createGroupReq struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *Server) createGroup(c *fiber.Ctx) error {
	var req createGroupReq
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArg("bad request body")
	}
	conv, err := s.state.CreateGroup(c.Context(), currentUser(c), req.Name, req.Members)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

type createPrivateReq struct {
	PeerID string `json:"peer_id"`
}

func (s *Server) createPrivate(c *fiber.Ctx) error {
	var req createPrivateReq
	if err := c.BodyParser(&req); err != nil || req.PeerID == "" {
		return apperr.InvalidArg("peer_id required")
	}
	conv, err := s.state.EnsurePrivate(c.Context(), currentUser(c), req.PeerID)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 50))
	convs, err := s.state.ListConversations(c.Context(), currentUser(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(convs)
}

func (s *Server) fetchHistory(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", int(s.cfg.Engine.HistoryPageLimit)))
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return apperr.InvalidArg("before must be RFC3339")
		}
		before = t
	}
	msgs, err := s.deliverer.FetchHistory(c.Context(), c.Params("id"), currentUser(c), limit, before)
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

type sendMessageReq struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
	ReplyTo     string   `json:"reply_to"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArg("bad request body")
	}
	msg, err := s.deliverer.SendMessage(c.Context(), c.Params("id"), currentUser(c), req.Content, req.Attachments, req.ReplyTo)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (s *Server) markAsRead(c *fiber.Ctx) error {
	ids, err := s.deliverer.MarkAsRead(c.Context(), c.Params("id"), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message_ids": ids})
}

type addMembersReq struct {
	UserIDs []string `json:"user_ids"`
}

func (s *Server) addMembers(c *fiber.Ctx) error {
	var req addMembersReq
	if err := c.BodyParser(&req); err != nil || len(req.UserIDs) == 0 {
		return apperr.InvalidArg("user_ids required")
	}
	added, err := s.state.AddMembers(c.Context(), c.Params("id"), currentUser(c), req.UserIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"added": added})
}

func (s *Server) removeMember(c *fiber.Ctx) error {
	if err := s.state.RemoveMember(c.Context(), c.Params("id"), currentUser(c), c.Params("userId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) promoteAdmin(c *fiber.Ctx) error {
	if err := s.state.PromoteToAdmin(c.Context(), c.Params("id"), currentUser(c), c.Params("userId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) leaveGroup(c *fiber.Ctx) error {
	if err := s.state.LeaveGroup(c.Context(), c.Params("id"), currentUser(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) dissolveGroup(c *fiber.Ctx) error {
	if err := s.state.DissolveGroup(c.Context(), c.Params("id"), currentUser(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type updateMetadataReq struct {
	Name      *string `json:"name"`
	AvatarRef *string `json:"avatar_ref"`
}

func (s *Server) updateMetadata(c *fiber.Ctx) error {
	var req updateMetadataReq
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArg("bad request body")
	}
	if req.Name == nil && req.AvatarRef == nil {
		return apperr.InvalidArg("nothing to update")
	}
	if req.Name != nil {
		if err := s.state.RenameGroup(c.Context(), c.Params("id"), currentUser(c), *req.Name); err != nil {
			return err
		}
	}
	if req.AvatarRef != nil {
		if err := s.state.UpdateGroupAvatar(c.Context(), c.Params("id"), currentUser(c), *req.AvatarRef); err != nil {
			return err
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) startCall(c *fiber.Ctx) error {
	if err := s.calls.InitiateCall(c.Context(), c.Params("id"), currentUser(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) revokeMessage(c *fiber.Ctx) error {
	if err := s.deliverer.RevokeMessage(c.Context(), c.Params("id"), currentUser(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) hideMessage(c *fiber.Ctx) error {
	if err := s.deliverer.DeleteForUser(c.Context(), c.Params("id"), currentUser(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
