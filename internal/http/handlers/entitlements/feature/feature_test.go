package feature

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) IsFeatureEnabled(ctx context.Context, userID string, f tier.Feature) bool {
	return m.Called(ctx, userID, f).Bool(0)
}

func TestFeatureHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		url            string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "enabled",
			url:    "/entitlements/features/export",
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("IsFeatureEnabled", mock.Anything, "u1", tier.FeatureExport).Return(true).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"feature":"export","enabled":true}}`,
		},
		{
			name:   "disabled",
			url:    "/entitlements/features/ai_notes",
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("IsFeatureEnabled", mock.Anything, "u1", tier.FeatureAINotes).Return(false).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"feature":"ai_notes","enabled":false}}`,
		},
		{
			name:           "unknown feature",
			url:            "/entitlements/features/teleport",
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"unknown feature"}`,
		},
		{
			name:           "no user",
			url:            "/entitlements/features/export",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"unauthorized"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			router := chi.NewRouter()
			router.Get("/entitlements/features/{feature}", New(logger, svc).ServeHTTP)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.userID != "" {
				req = req.WithContext(middlewarectx.WithUserID(req.Context(), tt.userID))
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
