package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
)

func record(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorEnvelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondAppError(c, err)

	var env ErrorEnvelope
	if uErr := json.Unmarshal(w.Body.Bytes(), &env); uErr != nil {
		t.Fatalf("bad envelope: %v (%s)", uErr, w.Body.String())
	}
	return w, env
}

func TestRespondAppErrorAdmissionDenied(t *testing.T) {
	e := apperr.Newf(apperr.CodeAdmissionDenied, "op", "denied: insufficient_tokens")
	e.Remaining = 5
	e.ResetAt = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	w, env := record(t, e)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if env.Error.Code != string(apperr.CodeAdmissionDenied) {
		t.Fatalf("unexpected code: %s", env.Error.Code)
	}
	if env.Error.Remaining == nil || *env.Error.Remaining != 5 {
		t.Fatalf("remaining not surfaced: %+v", env.Error)
	}
	if env.Error.ResetAt != "2026-09-01T00:00:00Z" {
		t.Fatalf("reset_at not surfaced: %q", env.Error.ResetAt)
	}
}

func TestRespondAppErrorHidesInternalDetail(t *testing.T) {
	w, env := record(t, apperr.New(apperr.CodeInternal, "op", errors.New("pq: connection refused host=10.0.0.3")))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if env.Error.Message != "internal error" {
		t.Fatalf("internal detail leaked: %q", env.Error.Message)
	}
}

func TestRespondAppErrorExposesValidationDetail(t *testing.T) {
	w, env := record(t, apperr.Newf(apperr.CodeValidation, "op", "input exceeds 4000 characters"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.Error.Message == "internal error" {
		t.Fatal("validation detail was hidden")
	}
}

func TestRespondAppErrorContractViolationMapsToBadGateway(t *testing.T) {
	w, _ := record(t, apperr.Newf(apperr.CodeContractViolation, "op", "duplicate node id"))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestRespondAppErrorPlainErrorIsInternal(t *testing.T) {
	w, env := record(t, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if env.Error.Message != "internal error" {
		t.Fatalf("untagged error leaked: %q", env.Error.Message)
	}
}
