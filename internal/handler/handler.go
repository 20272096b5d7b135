// Package handler содержит HTTP-обработчики API консоли.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mmeshcher/outlet-console/internal/cache"
	"github.com/mmeshcher/outlet-console/internal/gate"
	"github.com/mmeshcher/outlet-console/internal/middleware"
	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/transition"
)

// Service определяет контракт консолей, используемый HTTP-обработчиками.
// Все методы, кроме Open, принимают идентификатор сессии из cookie.
type Service interface {
	Open(ctx context.Context, creds model.Credentials) (string, *model.Session, error)
	Close(id string) error
	Refresh(ctx context.Context, id string) (*model.Session, error)
	Session(id string) (*model.Session, error)
	Check(id string, tag model.Capability, presentation gate.Presentation) (*gate.DeniedResult, error)

	Load(ctx context.Context, id, outletID string, page, pageSize int) (cache.State, error)
	Refetch(ctx context.Context, id string) (cache.State, error)
	State(id string) (cache.State, error)
	Search(id, query string) ([]model.Order, error)
	Lookup(id, orderID string) (model.Order, error)
	RequestTransition(ctx context.Context, id, orderID string, target model.OrderStatus, itemIDs []string) (*transition.Result, error)
	AvailableTransitions(id, orderID string) ([]model.OrderStatus, error)
	History(ctx context.Context, id, orderID string) ([]model.TransitionRecord, error)
}

// Handler реализует HTTP-обработчики API консоли.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
	validate       *validator.Validate
}

// NewHandler создаёт обработчик. metrics может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, metrics http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metrics,
		validate:       validator.New(),
	}
}

type errorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	Capability   string `json:"capability,omitempty"`
	Presentation string `json:"presentation,omitempty"`
}

// statusFor сопоставляет виду ошибки код ответа.
func statusFor(err error) int {
	if errors.Is(err, cache.ErrInvalidParams) {
		return http.StatusBadRequest
	}

	switch model.Kind(err) {
	case "NotFound":
		return http.StatusNotFound
	case "InvalidTransition":
		return http.StatusUnprocessableEntity
	case "Forbidden":
		return http.StatusForbidden
	case "Unauthorized", "NoSession":
		return http.StatusUnauthorized
	case "AlreadyInProgress", "Superseded":
		return http.StatusConflict
	case "UnknownItem":
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func newErrorResponse(err error) errorResponse {
	resp := errorResponse{
		Error:   model.Kind(err),
		Message: err.Error(),
	}
	if errors.Is(err, cache.ErrInvalidParams) {
		resp.Error = "BadRequest"
	}

	var denied *gate.DeniedResult
	if errors.As(err, &denied) {
		resp.Capability = string(denied.Capability)
		resp.Presentation = denied.Presentation.String()
	}

	return resp
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request error", zap.Error(err))
	}
	h.writeJSON(w, status, newErrorResponse(err))
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return id, true
}
