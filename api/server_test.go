package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/epic1st/pulseroom/backend/internal/apperr"
)

func TestWriteErrorMapsKindToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.ValidationFailure, "bad"), http.StatusBadRequest},
		{apperr.New(apperr.AuthMissing, "no token"), http.StatusUnauthorized},
		{apperr.New(apperr.Forbidden, "nope"), http.StatusForbidden},
		{apperr.New(apperr.NotFound, "missing"), http.StatusNotFound},
		{apperr.New(apperr.Conflict, "dup"), http.StatusConflict},
		{apperr.RateLimit(30), http.StatusTooManyRequests},
		{apperr.New(apperr.Internal, "oops"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("%v: expected status %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestWriteErrorSetsRetryAfterForRateLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.RateLimit(42))
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After=42, got %q", got)
	}
}

func TestBearerTokenExtractsFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	if got := bearerToken(req); got != "abc.def.ghi" {
		t.Fatalf("expected extracted token, got %q", got)
	}
}

func TestBearerTokenEmptyWithoutHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := bearerToken(req); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestAtoiDefault(t *testing.T) {
	if got := atoiDefault("", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	if got := atoiDefault("not-a-number", 7); got != 7 {
		t.Fatalf("expected default on parse failure, got %d", got)
	}
	if got := atoiDefault("3", 7); got != 3 {
		t.Fatalf("expected parsed value 3, got %d", got)
	}
}
