// Package response is the only place taxonomy errors become HTTP statuses
// and user-facing messages. Codes outside the exposable set collapse to a
// generic message so internal detail never leaks to callers.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`

	// Quota context, present on admission denials only.
	Remaining *int64 `json:"remaining,omitempty"`
	ResetAt   string `json:"reset_at,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAppError translates a taxonomy error into the response envelope.
func RespondAppError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)

	apiErr := APIError{Code: string(code), Message: "internal error"}
	if apperr.Exposable(code) {
		apiErr.Message = err.Error()
	} else if code == apperr.CodeUpstreamUnavailable {
		apiErr.Message = "upstream service unavailable"
	}

	if ae, ok := apperr.As(err); ok && code == apperr.CodeAdmissionDenied {
		remaining := ae.Remaining
		apiErr.Remaining = &remaining
		if !ae.ResetAt.IsZero() {
			apiErr.ResetAt = ae.ResetAt.UTC().Format(time.RFC3339)
		}
	}

	c.JSON(status, ErrorEnvelope{Error: apiErr})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
