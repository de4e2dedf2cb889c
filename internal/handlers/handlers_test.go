package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockWebhookProcessor is a mock implementation of WebhookProcessor
type MockWebhookProcessor struct {
	mock.Mock
}

var _ WebhookProcessor = (*MockWebhookProcessor)(nil)

func (m *MockWebhookProcessor) ProcessWebhook(ctx context.Context, topic string, payload []byte, headers map[string]string) (services.WebhookResult, error) {
	args := m.Called(ctx, topic, payload, headers)
	return args.Get(0).(services.WebhookResult), args.Error(1)
}

// Helper to setup test router
func setupTestRouter(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/products/update", h.HandleProductUpdate)
	r.POST("/webhooks/orders/create", h.HandleOrderCreate)
	r.POST("/webhooks/shopify", h.HandleShopifyWebhook)
	return r
}

func TestWebhookHandler_Routes(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		topicHeader string
		wantTopic   string
	}{
		{"product update", "/webhooks/products/update", "", models.TopicProductsUpdate},
		{"product delete on product route", "/webhooks/products/update", models.TopicProductsDelete, models.TopicProductsDelete},
		{"order create", "/webhooks/orders/create", models.TopicOrdersCreate, models.TopicOrdersCreate},
		{"generic route defers to header", "/webhooks/shopify", models.TopicProductsCreate, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockWebhookProcessor)
			svc.On("ProcessWebhook", mock.Anything, tt.wantTopic, []byte(`{"id":1}`), mock.MatchedBy(func(h map[string]string) bool {
				return h["x-shopify-webhook-id"] == "abc"
			})).Return(services.WebhookAccepted, nil)

			router := setupTestRouter(NewWebhookHandler(svc))
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"id":1}`))
			req.Header.Set("X-Shopify-Webhook-Id", "abc")
			if tt.topicHeader != "" {
				req.Header.Set("X-Shopify-Topic", tt.topicHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, true, body["received"])
			assert.Equal(t, "accepted", body["result"])
			svc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_ProcessingError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"unusable payload", fmt.Errorf("%w: missing id", services.ErrInvalidWebhook), http.StatusBadRequest},
		{"store failure", errors.New("failed to store webhook: db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockWebhookProcessor)
			svc.On("ProcessWebhook", mock.Anything, models.TopicProductsUpdate, mock.Anything, mock.Anything).
				Return(services.WebhookResult(""), tt.err)

			router := setupTestRouter(NewWebhookHandler(svc))
			req := httptest.NewRequest(http.MethodPost, "/webhooks/products/update", strings.NewReader(`{}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("ready", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{
			"database": func(ctx context.Context) error { return nil },
		}, func() int { return 3 })
		r := gin.New()
		r.GET("/health", h.Health)
		r.GET("/ready", h.Ready)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(3), body["queueDepth"])
	})

	t.Run("dependency down", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{
			"database": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
		}, nil)
		r := gin.New()
		r.GET("/ready", h.Ready)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		checks := body["checks"].(map[string]interface{})
		assert.Equal(t, "ok", checks["database"])
		assert.Equal(t, "connection refused", checks["redis"])
	})
}
