package account

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

// Handler exposes HTTP endpoints for account operations (signup / login).
// Staff and superuser creation is not reachable over HTTP; operators use the
// createsuperuser command.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// SignupRequest request body for signup endpoint.
type SignupRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return
	}
	a, err := h.svc.CreateUser(r.Context(), NewAccount{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

// LoginRequest login payload.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return
	}
	a, err := h.svc.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		verr *entity.ValidationError
		derr *entity.DuplicateFieldError
		terr *entity.TierInvariantError
	)
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &derr):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: derr.Error(), Field: derr.Field})
	case errors.As(err, &terr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: terr.Error()})
	case errors.Is(err, ErrBadCredentials):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, ErrInactive):
		h.writeJSON(w, http.StatusForbidden, errorResponse{Error: "account disabled"})
	default:
		h.logger.Errorw("account request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
