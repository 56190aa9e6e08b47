package middlewarectx_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/lib/jwt"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

const secret = "middleware_test_secret"

type CheckerMock struct {
	mock.Mock
}

func (m *CheckerMock) IsFeatureEnabled(ctx context.Context, userID string, f tier.Feature) bool {
	return m.Called(ctx, userID, f).Bool(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestJWTMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker(secret, time.Hour)
	const userID = "5f0c8a3e-6b1d-4c2a-9e7f-1a2b3c4d5e6f"

	valid, err := maker.GenerateToken(userID, "authenticated")
	assert.NoError(t, err)
	notUUID, err := maker.GenerateToken("alice", "authenticated")
	assert.NoError(t, err)
	foreign, err := jwt.NewJWTMaker("other", time.Hour).GenerateToken(userID, "authenticated")
	assert.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedUser   string
		expectedBody   string
	}{
		{
			name:           "valid token",
			header:         "Bearer " + valid,
			expectedStatus: http.StatusOK,
			expectedUser:   userID,
		},
		{
			name:           "missing header",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"missing or invalid authorization header"}`,
		},
		{
			name:           "basic auth",
			header:         "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"missing or invalid authorization header"}`,
		},
		{
			name:           "foreign signature",
			header:         "Bearer " + foreign,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"invalid or expired token"}`,
		},
		{
			name:           "subject is not a uuid",
			header:         "Bearer " + notUUID,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"invalid token subject"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = middlewarectx.UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			middlewarectx.JWTMiddleware(maker, newNoopLogger())(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedUser, gotUser)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middlewarectx.RateLimitMiddleware(newNoopLogger(), 0.001, 2)(next)

	codes := make([]int, 0, 3)
	for range 3 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRequireFeature(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		enabled        bool
		expectedStatus int
	}{
		{name: "enabled", userID: "u1", enabled: true, expectedStatus: http.StatusOK},
		{name: "disabled", userID: "u1", enabled: false, expectedStatus: http.StatusForbidden},
		{name: "no user", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := new(CheckerMock)
			if tt.userID != "" {
				checker.On("IsFeatureEnabled", mock.Anything, tt.userID, tier.FeatureExport).Return(tt.enabled).Once()
			}
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.userID != "" {
				req = req.WithContext(middlewarectx.WithUserID(req.Context(), tt.userID))
			}
			rr := httptest.NewRecorder()

			middlewarectx.RequireFeature(newNoopLogger(), checker, tier.FeatureExport)(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			checker.AssertExpectations(t)
		})
	}
}
