package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Abdul-AMA/bridgeai-backend/internal/config"
	"github.com/Abdul-AMA/bridgeai-backend/internal/crs"
	"github.com/Abdul-AMA/bridgeai-backend/internal/events"
	"github.com/Abdul-AMA/bridgeai-backend/internal/generator"
	"github.com/Abdul-AMA/bridgeai-backend/internal/observability"
	"github.com/Abdul-AMA/bridgeai-backend/internal/store"
)

// Generator is the scheduler surface the API needs.
type Generator interface {
	QueueGeneration(sessionID, projectID, userID, pattern string, maxRetries int) bool
	Status(sessionID string) generator.Status
	Cancel(sessionID string) bool
}

type Server struct {
	cfg       config.Config
	store     store.Store
	scheduler Generator
	bus       *events.Bus
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, st store.Store, scheduler Generator, bus *events.Bus, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		scheduler: scheduler,
		bus:       bus,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/messages", s.handleCreateMessage)
	r.Get("/v1/sessions/{id}/messages", s.handleListMessages)
	r.Post("/v1/sessions/{id}/crs/generate", s.handleGenerate)
	r.Get("/v1/sessions/{id}/crs/status", s.handleGenerationStatus)
	r.Post("/v1/sessions/{id}/crs/cancel", s.handleCancelGeneration)
	r.Get("/v1/sessions/{id}/crs", s.handleGetDocument)
	r.Get("/v1/sessions/{id}/crs/events", s.handleEventsSSE)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"store_mode":  s.storeMode(),
		"filler_mode": s.cfg.FillerMode,
	})
}

type createSessionRequest struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Pattern   string `json:"crs_pattern"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.Pattern) == "" {
		req.Pattern = s.cfg.DefaultPattern
	}
	if !crs.KnownPattern(req.Pattern) {
		respondError(w, http.StatusBadRequest, "unknown_pattern", "crs_pattern must be one of babok|volere|ieee830")
		return
	}

	sess, err := s.store.CreateSession(r.Context(), store.Session{
		ProjectID: strings.TrimSpace(req.ProjectID),
		UserID:    strings.TrimSpace(req.UserID),
		Pattern:   strings.ToLower(strings.TrimSpace(req.Pattern)),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type createMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "empty_content", "content is required")
		return
	}
	sender := store.Sender(strings.ToLower(strings.TrimSpace(req.Sender)))
	if sender == "" {
		sender = store.SenderUser
	}
	if sender != store.SenderUser && sender != store.SenderAssistant {
		respondError(w, http.StatusBadRequest, "invalid_sender", "sender must be user or assistant")
		return
	}

	msg, err := s.store.SaveMessage(r.Context(), store.Message{
		SessionID: sess.ID,
		Sender:    sender,
		Content:   req.Content,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), sess.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"messages":   msgs,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	queued := s.scheduler.QueueGeneration(sess.ID, sess.ProjectID, sess.UserID, sess.Pattern, 0)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sess.ID,
		"queued":     queued,
		"status":     s.scheduler.Status(sess.ID),
	})
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     s.scheduler.Status(sess.ID),
	})
}

func (s *Server) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	cancelled := s.scheduler.Cancel(sess.ID)
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"cancelled":  cancelled,
		"status":     s.scheduler.Status(sess.ID),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if sess.CRSDocumentID == "" {
		respondError(w, http.StatusNotFound, "no_document", "session has no CRS document yet")
		return
	}
	doc, err := s.store.GetDocument(r.Context(), sess.CRSDocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "document_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleEventsSSE forwards bus events for one session as server-sent events.
// Events are written verbatim as JSON data frames; a comment line keeps
// idle connections alive through proxies.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	ch, unsubscribe := s.bus.Subscribe(sess.ID)
	defer unsubscribe()
	s.trackSubscribers()
	defer s.trackSubscribers()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type wsClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type wsAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleChatWS is the chat transport: inbound user messages are stored and
// queue a background generation; bus events stream outbound on the same
// connection.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, unsubscribe := s.bus.Subscribe(sess.ID)
	defer unsubscribe()
	s.trackSubscribers()
	defer s.trackSubscribers()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, open := <-ch:
				if !open {
					return
				}
				if err := s.writeWS(conn, evt); err != nil {
					cancel()
					return
				}
				s.countWS("outbound", string(evt.Type))
			case msg := <-outbound:
				if err := s.writeWS(conn, msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendWS(outbound, wsAck{Type: "error", SessionID: sess.ID, Error: "invalid message"})
			continue
		}
		s.countWS("inbound", msg.Type)

		switch msg.Type {
		case "chat_message":
			if strings.TrimSpace(msg.Content) == "" {
				s.sendWS(outbound, wsAck{Type: "error", SessionID: sess.ID, Error: "empty content"})
				continue
			}
			stored, err := s.store.SaveMessage(ctx, store.Message{
				SessionID: sess.ID,
				Sender:    store.SenderUser,
				Content:   msg.Content,
			})
			if err != nil {
				s.sendWS(outbound, wsAck{Type: "error", SessionID: sess.ID, Error: err.Error()})
				continue
			}
			queued := s.scheduler.QueueGeneration(sess.ID, sess.ProjectID, sess.UserID, sess.Pattern, 0)
			s.sendWS(outbound, wsAck{Type: "chat_ack", SessionID: sess.ID, MessageID: stored.ID, Queued: queued})

		case "cancel_generation":
			cancelled := s.scheduler.Cancel(sess.ID)
			s.sendWS(outbound, wsAck{Type: "cancel_ack", SessionID: sess.ID, Cancelled: cancelled})

		default:
			s.sendWS(outbound, wsAck{Type: "error", SessionID: sess.ID, Error: "unknown message type"})
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// sendWS is non-blocking; websocket writes stay single-threaded and a
// saturated outbound queue drops the ack rather than stalling the reader.
func (s *Server) sendWS(outbound chan<- any, v any) {
	select {
	case outbound <- v:
	default:
	}
}

func (s *Server) countWS(direction, msgType string) {
	if s.metrics == nil || msgType == "" {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (s *Server) trackSubscribers() {
	if s.metrics == nil {
		return
	}
	s.metrics.BusSubscribers.Set(float64(s.bus.SubscriberCount()))
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return store.Session{}, false
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return store.Session{}, false
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return store.Session{}, false
	}
	return sess, true
}

func (s *Server) storeMode() string {
	dbURL := strings.TrimSpace(s.cfg.DatabaseURL)
	switch {
	case dbURL == "":
		return "in-memory"
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
