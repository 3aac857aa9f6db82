package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cookies   security.CookieBinder
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cookies security.CookieBinder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		cookies:   cookies,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sign-in", h.handleSignIn)
	r.Post("/sign-up", h.handleSignUp)
	r.Post("/sign-out", h.handleSignOut)
	r.Get("/me", h.handleMe)
}

type credentialsForm struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type meResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Authorities []string `json:"authorities"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	form, err := h.decodeCredentials(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.SignIn(r.Context(), form.Username, form.Password)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.cookies.Bind(w, r, result.Token)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	form, err := h.decodeCredentials(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	user, err := h.service.SignUp(r.Context(), form.Username, form.Password)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userResponse{ID: user.ID, Username: user.Username})
}

// handleSignOut always emits the removal cookie, whether or not one was sent.
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w, r)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := security.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, h.logger, shared.ErrUnauthenticated)
		return
	}
	roles := principal.Roles
	if roles == nil {
		roles = []string{}
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		ID:          principal.UserID,
		Username:    principal.Username,
		Roles:       roles,
		Authorities: principal.Authorities.Codes(),
	})
}

func (h *Handler) decodeCredentials(r *http.Request) (credentialsForm, error) {
	var form credentialsForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		return credentialsForm{}, err
	}
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				fields = append(fields, fieldErr.Field()+" "+fieldErr.Tag())
			}
			return credentialsForm{}, fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(fields, ", "))
		}
		return credentialsForm{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return form, nil
}
