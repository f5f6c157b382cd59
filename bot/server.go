package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/runbridge/chat"
	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/logging"
)

// interactionPayload is the subset of the interactive webhook body the
// server needs.
type interactionPayload struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		TS string `json:"ts"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// Logger receives request diagnostics.
	Logger logging.Logger
}

// Server exposes the webhook endpoints the chat platform calls.
type Server struct {
	handler *Handler
	logger  logging.Logger
	router  chi.Router
}

// NewServer wires the webhook routes around a Handler.
func NewServer(handler *Handler, optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{
		Logger: logging.NewNoOpLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		handler: handler,
		logger:  opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/slack/commands", s.handleCommand)
	r.Post("/slack/interactions", s.handleInteraction)

	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleCommand acknowledges the slash command immediately and starts the
// run in the background; the platform expects a response within seconds.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	channelID := r.PostFormValue("channel_id")
	userID := r.PostFormValue("user_id")
	text := r.PostFormValue("text")

	if channelID == "" || userID == "" {
		http.Error(w, "missing channel_id or user_id", http.StatusBadRequest)
		return
	}

	go s.handler.HandleResearchCommand(context.WithoutCancel(r.Context()), channelID, userID, text)

	w.WriteHeader(http.StatusOK)
}

// handleInteraction routes button clicks from the approval message.
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	raw := r.PostFormValue("payload")
	if raw == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	var payload interactionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	if payload.Type != "block_actions" || len(payload.Actions) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := payload.Actions[0]
	ctx := context.WithoutCancel(r.Context())

	switch action.ActionID {
	case chat.ActionApprove:
		go s.handler.HandleApprove(ctx, action.Value, payload.Channel.ID, payload.User.ID)
	case chat.ActionReject:
		go s.handler.HandleReject(ctx, action.Value, payload.Channel.ID, payload.User.ID)
	case chat.ActionFeedbackPositive:
		go s.handler.HandleFeedback(ctx, action.Value, payload.Channel.ID, payload.User.ID, payload.Message.TS, core.FeedbackPositive)
	case chat.ActionFeedbackNegative:
		go s.handler.HandleFeedback(ctx, action.Value, payload.Channel.ID, payload.User.ID, payload.Message.TS, core.FeedbackNegative)
	default:
		s.logger.Warn("unknown action ignored", "action_id", action.ActionID)
	}

	w.WriteHeader(http.StatusOK)
}
