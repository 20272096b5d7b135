package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/outlet-console/internal/gate"
	"github.com/mmeshcher/outlet-console/internal/model"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Identity      model.Identity `json:"identity"`
	Capabilities  []string       `json:"capabilities"`
	Version       uint64         `json:"version"`
	EstablishedAt string         `json:"established_at"`
}

type capabilityResponse struct {
	Capability   string `json:"capability"`
	Granted      bool   `json:"granted"`
	Presentation string `json:"presentation,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func newSessionResponse(s *model.Session) sessionResponse {
	caps := make([]string, 0, len(s.Capabilities))
	for c, granted := range s.Capabilities {
		if granted {
			caps = append(caps, string(c))
		}
	}
	slices.Sort(caps)

	return sessionResponse{
		Identity:      s.Identity,
		Capabilities:  caps,
		Version:       s.Version,
		EstablishedAt: s.EstablishedAt.Format(time.RFC3339),
	}
}

// Login выполняет вход сотрудника и выдаёт cookie сессии консоли.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	id, sess, err := h.service.Open(r.Context(), model.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, id); err != nil {
		h.logger.Error("set session cookie error", zap.Error(err))
		_ = h.service.Close(id)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// Logout завершает сессию. Повторный выход не считается ошибкой.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.service.Close(id); err != nil && !errors.Is(err, model.ErrNoSession) {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSession запрашивает актуальные права сотрудника.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Refresh(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// GetSession возвращает текущую сессию.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Session(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// CheckCapability сообщает, выдано ли право. Параметр presentation=hidden меняет
// рекомендуемый вид недоступного действия.
func (h *Handler) CheckCapability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	presentation := gate.PresentationDisabled
	if r.URL.Query().Get("presentation") == gate.PresentationHidden.String() {
		presentation = gate.PresentationHidden
	}

	tag := model.Capability(chi.URLParam(r, "tag"))
	denied, err := h.service.Check(id, tag, presentation)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := capabilityResponse{Capability: string(tag), Granted: denied == nil}
	if denied != nil {
		resp.Presentation = denied.Presentation.String()
		resp.Reason = denied.Reason
	}

	h.writeJSON(w, http.StatusOK, resp)
}
