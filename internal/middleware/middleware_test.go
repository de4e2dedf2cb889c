package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bundle-sync-service/internal/clients/shopify"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders())
	r.POST("/webhooks", VerifyShopifyHMAC(secret), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})
	return r
}

func TestVerifyShopifyHMAC(t *testing.T) {
	const secret = "shhh"
	payload := `{"id":123}`

	tests := []struct {
		name      string
		signature string
		secret    string
		status    int
	}{
		{"valid signature", shopify.SignWebhook([]byte(payload), secret), secret, http.StatusOK},
		{"wrong signature", shopify.SignWebhook([]byte(payload), "other"), secret, http.StatusUnauthorized},
		{"missing signature", "", secret, http.StatusUnauthorized},
		{"no secret configured", shopify.SignWebhook([]byte(payload), ""), "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(tt.secret)
			req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(payload))
			if tt.signature != "" {
				req.Header.Set(shopify.HeaderHMAC, tt.signature)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, payload, w.Body.String())
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := setupTestRouter("x")
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
