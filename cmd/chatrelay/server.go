package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/database"
	"chatrelay/internal/errors"
	"chatrelay/internal/middleware"
	"chatrelay/internal/models"
	"chatrelay/internal/privacy"
	"chatrelay/internal/registry"
	"chatrelay/internal/service"
	"chatrelay/internal/tracing"
	"chatrelay/internal/transport"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	auth     *auth.Service
	registry *registry.Registry
	chat     *service.Router
	tracker  *service.Tracker
	db       *database.Database
	server   *http.Server
}

func NewServer(cfg *models.Config, authSvc *auth.Service, reg *registry.Registry, chat *service.Router, tracker *service.Tracker, db *database.Database, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		auth:     authSvc,
		registry: reg,
		chat:     chat,
		tracker:  tracker,
		db:       db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	s.router.HandleFunc("/register", s.handleRegister()).Methods(http.MethodPost)
	s.router.HandleFunc("/login", s.handleLogin()).Methods(http.MethodPost)

	s.router.HandleFunc("/messages/pending", s.handlePendingMessages()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"connections": s.registry.ActiveConnections(),
		})
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		user, err := s.auth.Register(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, user)
	}
}

func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		token, err := s.auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

// handlePendingMessages returns the caller's undelivered messages without
// changing their state. Delivery happens over the websocket.
func (s *Server) handlePendingMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}

		msgs, err := s.db.FetchPending(r.Context(), identity)
		if err != nil {
			writeError(w, errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to fetch pending messages"))
			return
		}
		if msgs == nil {
			msgs = []*models.Message{}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": msgs,
			"count":    len(msgs),
		})
	}
}

// handleWebSocket upgrades the connection, binds it as the caller's live
// channel, replays pending messages, and runs the read loop until the
// client goes away.
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Debug("WebSocket upgrade failed")
			return
		}

		writeTimeout := time.Duration(s.cfg.Chat.DispatchTimeoutMs) * time.Millisecond
		ch := transport.NewWSChannel(conn, writeTimeout)

		// The replay fence goes up before the channel is resolvable so a
		// submission racing the backlog replay cannot overtake it.
		s.chat.ExpectReplay(identity)
		s.registry.Bind(identity, ch)

		requestInfo := tracing.GetRequestInfo(r.Context())
		s.logger.WithFields(logrus.Fields{
			service.LogFieldIdentity:  privacy.MaskIdentity(identity),
			service.LogFieldRequestID: requestInfo.RequestID,
		}).Info("Client connected")

		// Replay runs concurrently with the read loop so a slow backlog
		// cannot stall inbound frames.
		go func() {
			if _, err := s.chat.DeliverPending(context.Background(), identity); err != nil {
				s.logger.WithError(err).WithField(service.LogFieldIdentity, privacy.MaskIdentity(identity)).
					Warn("Failed to replay pending messages")
			}
		}()

		s.readLoop(r.Context(), identity, ch)

		// Only tear down the binding if this connection still owns it;
		// a newer connection may have replaced it already.
		if s.registry.UnbindChannel(identity, ch) {
			s.logger.WithField(service.LogFieldIdentity, privacy.MaskIdentity(identity)).Info("Client disconnected")
		}
		_ = ch.Close()
	}
}

func (s *Server) readLoop(ctx context.Context, identity string, ch *transport.WSChannel) {
	for {
		frame, err := ch.ReadFrame(ctx)
		if err != nil {
			return
		}

		switch frame.Type {
		case models.FrameTypeSend:
			s.handleSendFrame(ctx, identity, ch, frame)
		case models.FrameTypeRead:
			s.handleReadFrame(ctx, identity, ch, frame)
		case models.FrameTypeDelivered:
			s.handleDeliveredFrame(ctx, ch, frame)
		default:
			s.sendFrame(ctx, ch, &models.ServerFrame{
				Type:  models.FrameTypeError,
				Code:  string(errors.ErrCodeValidationFailed),
				Error: fmt.Sprintf("unknown frame type %q", frame.Type),
			})
		}
	}
}

func (s *Server) handleSendFrame(ctx context.Context, identity string, ch *transport.WSChannel, frame *models.ClientFrame) {
	draft := models.MessageDraft{
		SenderID:   frame.SenderID,
		ReceiverID: frame.ReceiverID,
		Content:    frame.Content,
	}

	msg, err := s.chat.Submit(ctx, draft, identity)
	if err != nil {
		s.sendFrame(ctx, ch, errorFrame(err))
		return
	}

	s.sendFrame(ctx, ch, &models.ServerFrame{
		Type:    models.FrameTypeAck,
		Message: msg,
	})
}

func (s *Server) handleReadFrame(ctx context.Context, identity string, ch *transport.WSChannel, frame *models.ClientFrame) {
	msg, err := s.tracker.MarkRead(ctx, frame.MessageID, identity)
	if err != nil {
		s.sendFrame(ctx, ch, errorFrame(err))
		return
	}

	s.sendFrame(ctx, ch, &models.ServerFrame{
		Type:          models.FrameTypeState,
		MessageID:     msg.ID,
		DeliveryState: msg.State,
	})

	// Best effort read receipt to the sender if they are online.
	if senderCh, ok := s.registry.Resolve(msg.SenderID); ok {
		s.sendFrame(ctx, senderCh, &models.ServerFrame{
			Type:          models.FrameTypeState,
			MessageID:     msg.ID,
			DeliveryState: msg.State,
		})
	}
}

func (s *Server) handleDeliveredFrame(ctx context.Context, ch *transport.WSChannel, frame *models.ClientFrame) {
	state, err := s.tracker.MarkDelivered(ctx, frame.MessageID)
	if err != nil {
		s.sendFrame(ctx, ch, errorFrame(err))
		return
	}

	s.sendFrame(ctx, ch, &models.ServerFrame{
		Type:          models.FrameTypeState,
		MessageID:     frame.MessageID,
		DeliveryState: state,
	})
}

func (s *Server) sendFrame(ctx context.Context, ch registry.Channel, frame *models.ServerFrame) {
	if err := ch.Send(ctx, frame); err != nil {
		s.logger.WithError(err).Debug("Failed to write frame")
	}
}

// authenticate resolves the caller's identity from the bearer token. The
// websocket path also accepts a token query parameter because browser
// clients cannot set headers on upgrade requests.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := ""
	if header := r.Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	return s.auth.Verify(token)
}

func errorFrame(err error) *models.ServerFrame {
	return &models.ServerFrame{
		Type:  models.FrameTypeError,
		Code:  string(errors.GetCode(err)),
		Error: err.Error(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case errors.ErrCodeAuthentication:
		status = http.StatusUnauthorized
	case errors.ErrCodeAuthorization:
		status = http.StatusForbidden
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeStorageFailure, errors.ErrCodeDatabaseConnection:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
