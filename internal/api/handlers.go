package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"gwi.com/answer-engine/internal/auth"
	"gwi.com/answer-engine/internal/core"
	"gwi.com/answer-engine/internal/store"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

type APIHandler struct {
	chatService   *core.ChatService
	tokens        *auth.TokenService
	authenticator auth.Authenticator
	validate      *validator.Validate
	upgrader      websocket.Upgrader
}

func NewAPIHandler(cs *core.ChatService, tokens *auth.TokenService, authenticator auth.Authenticator) *APIHandler {
	return &APIHandler{
		chatService:   cs,
		tokens:        tokens,
		authenticator: authenticator,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			// Browser clients are served from other origins; auth is by token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decodeJSON(w, r, "api.Login", &req); err != nil {
		writeError(w, r, err)
		return
	}

	subject, err := h.authenticator.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.tokens.Issue(subject)
	if err != nil {
		writeError(w, r, core.E(core.KindUnknown, "api.Login", err))
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	userID := chi.URLParam(r, "user_id")

	profile, err := h.chatService.GetProfile(r.Context(), subject, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())

	var profile store.Profile
	if err := h.decodeJSON(w, r, "api.UpdateProfile", &profile); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.chatService.UpsertProfile(r.Context(), subject, profile); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Profile updated"})
}

type SaveChatRequest struct {
	UserID    string    `json:"user_id" validate:"required"`
	Query     string    `json:"query" validate:"required"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *APIHandler) SaveChatHandler(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())

	var req SaveChatRequest
	if err := h.decodeJSON(w, r, "api.SaveChat", &req); err != nil {
		writeError(w, r, err)
		return
	}

	_, err := h.chatService.SaveChat(r.Context(), subject, store.ChatRecord{
		UserID:    req.UserID,
		Query:     req.Query,
		Response:  req.Response,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Chat saved"})
}

type HistoryItem struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *APIHandler) GetChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	userID := chi.URLParam(r, "user_id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, core.E(core.KindInvalid, "api.GetChatHistory", errInvalidLimit))
			return
		}
		limit = n
	}

	records, err := h.chatService.ListHistory(r.Context(), subject, userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]HistoryItem, 0, len(records))
	for _, rec := range records {
		items = append(items, HistoryItem{Query: rec.Query, Response: rec.Response, Timestamp: rec.Timestamp})
	}
	writeJSON(w, http.StatusOK, items)
}

type ChatRequest struct {
	Query string `json:"query" validate:"required,max=4096"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())

	var req ChatRequest
	if err := h.decodeJSON(w, r, "api.Chat", &req); err != nil {
		writeError(w, r, err)
		return
	}

	turn, err := h.chatService.RunTurn(r.Context(), subject, req.Query, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: turn.Response})
}
