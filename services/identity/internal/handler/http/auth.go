package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/httputil"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/validator"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/service"
)

// AuthHandler handles HTTP requests for the credential endpoints.
type AuthHandler struct {
	service *service.SessionAuthority
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.SessionAuthority, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for a password login.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Password   string `json:"password" validate:"required,max=256"`
}

// RefreshTokenRequest is the JSON request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest is the JSON request body for a password change.
// Presence is checked by the service so every missing field is reported.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"max=256"`
	NewPassword     string `json:"new_password" validate:"max=256"`
	ConfirmPassword string `json:"confirm_password" validate:"max=256"`
}

// ForgotPasswordRequest is the JSON request body for forgot password.
type ForgotPasswordRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"max=128"`
	NewPassword     string `json:"new_password" validate:"max=256"`
	ConfirmPassword string `json:"confirm_password" validate:"max=256"`
}

// VerificationRequest is the optional JSON body of a verification request.
type VerificationRequest struct {
	Channel string `json:"channel" validate:"omitempty,oneof=sms whatsapp email"`
}

// ConfirmVerificationRequest is the JSON request body for confirming a code.
type ConfirmVerificationRequest struct {
	Code string `json:"code" validate:"required,numeric,min=4,max=10"`
}

// --- Response types ---

// LoginResponse wraps the principal with its tokens.
type LoginResponse struct {
	Principal *domain.Principal `json:"principal"`
	Tokens    *domain.TokenPair `json:"tokens"`
}

// --- Handlers ---

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	p, tokens, err := h.service.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "login successful", LoginResponse{Principal: p, Tokens: tokens})
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "token refreshed", tokens)
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthenticated("authentication required", nil), h.logger)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "authenticated", p)
}

// ChangePassword handles POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthenticated("authentication required", nil), h.logger)
		return
	}

	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	err := h.service.ChangePassword(r.Context(), p, service.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "password changed successfully", nil)
}

// ForgotPassword handles POST /api/v1/auth/forgot-password. The response is
// the same whether or not the identifier belongs to an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Identifier); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusAccepted,
		"if an account matches, password reset instructions have been sent", nil)
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	err := h.service.ConfirmPasswordReset(r.Context(), service.ConfirmResetInput{
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "password has been reset", nil)
}

// RequestVerification handles POST /api/v1/auth/verify/{purpose}/request
func (h *AuthHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	p, purpose, ok := h.verificationTarget(w, r)
	if !ok {
		return
	}

	var req VerificationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteValidationError(w, r, err)
		return
	}

	challenge, err := h.service.RequestContactVerification(r.Context(), p, purpose, domain.Channel(req.Channel))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusAccepted, "verification code sent", challenge)
}

// ConfirmVerification handles POST /api/v1/auth/verify/{purpose}/confirm
func (h *AuthHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	p, purpose, ok := h.verificationTarget(w, r)
	if !ok {
		return
	}

	var req ConfirmVerificationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.ConfirmContactVerification(r.Context(), p, purpose, req.Code); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, string(purpose)+" verified", p)
}

func (h *AuthHandler) verificationTarget(w http.ResponseWriter, r *http.Request) (*domain.Principal, domain.Purpose, bool) {
	p, ok := principalFrom(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthenticated("authentication required", nil), h.logger)
		return nil, "", false
	}
	purpose, err := domain.ParseVerificationPurpose(chi.URLParam(r, "purpose"))
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return nil, "", false
	}
	return p, purpose, true
}
