package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/levelup-learning/levelup-video/internal/security"
)

type stubAccountStatus struct {
	blocked bool
	err     error
}

func (s stubAccountStatus) IsBlocked(context.Context, string) (bool, error) {
	return s.blocked, s.err
}

func requestWithUser(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/v1/token", nil)
	claims := &security.Claims{}
	claims.Subject = userID
	return req.WithContext(context.WithValue(req.Context(), ClaimsContextKey, claims))
}

func TestRequireActiveAccount(t *testing.T) {
	tests := []struct {
		name     string
		status   stubAccountStatus
		wantCode int
		wantBody string
	}{
		{name: "active", status: stubAccountStatus{}, wantCode: http.StatusNoContent},
		{name: "blocked", status: stubAccountStatus{blocked: true}, wantCode: http.StatusForbidden, wantBody: "ACCOUNT_BLOCKED"},
		{name: "lookup failure", status: stubAccountStatus{err: errors.New("db down")}, wantCode: http.StatusServiceUnavailable, wantBody: "INTERNAL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireActiveAccount(tc.status)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, requestWithUser("u1"))
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			if tc.wantBody != "" && !strings.Contains(rr.Body.String(), tc.wantBody) {
				t.Fatalf("expected %s in body, got %s", tc.wantBody, rr.Body.String())
			}
		})
	}
}
