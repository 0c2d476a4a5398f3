package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
)

// Flow labels for authAttempts.
const (
	flowLogin          = "login"
	flowRefresh        = "refresh"
	flowChangePassword = "change_password"
	flowResetRequest   = "reset_request"
	flowResetConfirm   = "reset_confirm"
	flowVerifyRequest  = "verify_request"
	flowVerifyConfirm  = "verify_confirm"
)

var authAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_auth_attempts_total",
		Help: "Credential flow attempts by flow and outcome.",
	},
	[]string{"flow", "outcome"},
)

var outcomes = []struct {
	target error
	label  string
}{
	{apperrors.ErrUnauthorized, "unauthenticated"},
	{apperrors.ErrForbidden, "forbidden"},
	{apperrors.ErrExpired, "expired"},
	{apperrors.ErrInvalidToken, "invalid"},
	{apperrors.ErrMismatch, "mismatch"},
	{apperrors.ErrAlreadyUsed, "already_used"},
	{apperrors.ErrValidationFailed, "validation_failed"},
	{apperrors.ErrTooManyRequest, "rate_limited"},
	{apperrors.ErrNotFound, "not_found"},
	{apperrors.ErrInvalidInput, "invalid_input"},
	{apperrors.ErrConflict, "conflict"},
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.target) {
			return o.label
		}
	}
	return "error"
}

func observe(flow string, err error) {
	authAttempts.WithLabelValues(flow, outcomeOf(err)).Inc()
}
