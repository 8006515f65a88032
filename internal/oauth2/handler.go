package oauth2

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkbroker/linkbroker/internal/httpserver"
)

// Handler exposes the OAuth2 Authority's RFC 6749 surface plus the
// RFC 7662-shaped introspection endpoint the Access Gate calls.
type Handler struct {
	svc *Service
}

// NewHandler creates an OAuth2 Authority Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns a chi.Router with all OAuth2 routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.handleLogin)
	r.Post("/authorize", h.handleAuthorize)
	r.Post("/token", h.handleToken)
	r.Post("/introspect", h.handleIntrospect)
	r.Post("/revoke", h.handleRevoke)
	return r
}

type loginRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	ClientID    string `json:"client_id" validate:"required"`
	RedirectURI string `json:"redirect_uri" validate:"required,uri"`
	Scope       string `json:"scope"`
	State       string `json:"state"`
}

type loginResponse struct {
	SessionToken string `json:"session_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password, req.ClientID, req.RedirectURI, req.Scope, req.State)
	if err != nil {
		writeGrantError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, loginResponse{SessionToken: token})
}

type authorizeRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

type authorizeResponse struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	code, redirectURI, state, err := h.svc.Authorize(r.Context(), req.SessionToken)
	if err != nil {
		writeGrantError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, authorizeResponse{Code: code, RedirectURI: redirectURI, State: state})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	grantType := r.PostForm.Get("grant_type")
	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")

	var resp TokenResponse
	var err error

	switch grantType {
	case "authorization_code":
		resp, err = h.svc.ExchangeAuthorizationCode(r.Context(), clientID, clientSecret, r.PostForm.Get("code"), r.PostForm.Get("redirect_uri"))
	case "client_credentials":
		resp, err = h.svc.ClientCredentials(r.Context(), clientID, clientSecret, r.PostForm.Get("scope"))
	case "refresh_token":
		resp, err = h.svc.Refresh(r.Context(), clientID, clientSecret, r.PostForm.Get("refresh_token"))
	default:
		httpserver.RespondError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code, client_credentials, or refresh_token")
		return
	}
	if err != nil {
		writeGrantError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

type introspectRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.svc.Introspect(r.Context(), req.Token)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to introspect token")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

type revokeRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.Revoke(r.Context(), req.Token); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to revoke token")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"revoked": true})
}

func writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidClient):
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_client", err.Error())
	case errors.Is(err, ErrInvalidGrant):
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, ErrInvalidScope):
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_scope", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, ErrUnsupported):
		httpserver.RespondError(w, http.StatusBadRequest, "unsupported_grant_type", err.Error())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "oauth2 request failed")
	}
}
