package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/backend"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/validator"
)

// LoginClient exchanges student credentials for a token at the backend.
type LoginClient interface {
	Login(ctx context.Context, nisn, password string) (string, error)
}

// TokenStore is the runner's stored student token.
type TokenStore interface {
	Claims() (*backend.StudentClaims, error)
	Save(token string) error
	Clear() error
}

// AuthHandler handles the runner's login state.
type AuthHandler struct {
	client LoginClient
	tokens TokenStore
	log    zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(client LoginClient, tokens TokenStore, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		client: client,
		tokens: tokens,
		log:    log.With().Str("component", "auth_handler").Logger(),
	}
}

// Status godoc
// GET /api/v1/auth/status
// Reports whether the runner holds a usable student token.
func (h *AuthHandler) Status(c *gin.Context) {
	claims, err := h.tokens.Claims()
	if err != nil {
		response.Success(c, http.StatusOK, gin.H{
			"authenticated": false,
			"reason":        tokenErrorCode(err),
		})
		return
	}

	out := gin.H{
		"authenticated": true,
		"student_id":    claims.UserID,
		"class_id":      claims.ClassID,
	}
	if claims.ExpiresAt != nil {
		out["expires_at"] = claims.ExpiresAt.Time
	}
	response.Success(c, http.StatusOK, out)
}

// StudentLogin godoc
// POST /api/v1/auth/login
// Forwards NISN + password to the backend and keeps the issued JWT on this
// machine. The token is never returned to the UI.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.client.Login(c.Request.Context(), req.NISN, req.Password)
	if err != nil {
		if apiErr, ok := backend.AsAPIError(err); ok {
			if apiErr.Unauthorized() || apiErr.Code == response.ErrInvalidCredentials {
				response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
				return
			}
			if apiErr.Code != "" {
				response.FailWithMessage(c, http.StatusBadGateway, apiErr.Code, apiErr.Message)
				return
			}
		}
		h.log.Warn().Err(err).Msg("Login failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrBackendUnavailable)
		return
	}

	if err := h.tokens.Save(token); err != nil {
		h.log.Error().Err(err).Msg("Failed to store token")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().Msg("Student logged in")
	h.Status(c)
}

// StudentLogout godoc
// POST /api/v1/auth/logout
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	if err := h.tokens.Clear(); err != nil {
		h.log.Error().Err(err).Msg("Failed to clear token")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

func tokenErrorCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, backend.ErrNotAuthenticated):
		return response.ErrTokenRequired
	case errors.Is(err, backend.ErrTokenExpired):
		return response.ErrTokenExpired
	default:
		return response.ErrTokenInvalid
	}
}
