package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
)

// downstreamEnvelope mirrors httputil.Response as returned by Nuru services.
type downstreamEnvelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Code   string   `json:"code"`
		Errors []string `json:"errors"`
	} `json:"data"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// translates it into an error. Envelope bodies keep their code, message and
// details; anything else becomes a plain error carrying the raw body.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var env downstreamEnvelope
	if json.Unmarshal(body, &env) != nil || env.Success == nil {
		return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(body))
	}

	msg := fmt.Sprintf("%s: %s", serviceName, env.Message)
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return &apperrors.AppError{Code: env.Data.Code, Message: msg, Status: resp.StatusCode, Err: apperrors.ErrServiceUnavail}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, resp.StatusCode, env.Data.Code, env.Message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.TooManyRequests(msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		e := apperrors.ValidationFailed(msg, env.Data.Errors)
		e.Status = resp.StatusCode
		return e
	default:
		return &apperrors.AppError{
			Code:    env.Data.Code,
			Message: msg,
			Details: env.Data.Errors,
			Status:  resp.StatusCode,
			Err:     sentinelFor(resp.StatusCode),
		}
	}
}

func sentinelFor(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusConflict:
		return apperrors.ErrConflict
	case http.StatusGone:
		return apperrors.ErrExpired
	default:
		return nil
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
