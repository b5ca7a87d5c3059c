package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("reader-key"), bcrypt.MinCost)
	require.NoError(t, err)
	validator := NewStaticKeyValidator([]StaticKey{{ID: "reader", Hash: string(hash), Permissions: []string{"batches:read"}}})

	router := gin.New()
	api := router.Group("/", APIKeyMiddleware(validator))
	api.GET("/read", RequireAPIKeyPermission("batches", "read"), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.POST("/flush", RequireAPIKeyPermission("batches", "flush"), func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestAPIKeyMiddleware(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		value  string
		want   int
	}{
		{"missing key", http.MethodGet, "/read", "", "", http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/read", "X-API-Key", "nope", http.StatusUnauthorized},
		{"valid key", http.MethodGet, "/read", "X-API-Key", "reader-key", http.StatusOK},
		{"authorization scheme", http.MethodGet, "/read", "Authorization", "ApiKey reader-key", http.StatusOK},
		{"missing permission", http.MethodPost, "/flush", "X-API-Key", "reader-key", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission([]string{"batches:flush"}, "batches:flush"))
	assert.True(t, HasPermission([]string{"batches:*"}, "batches:flush"))
	assert.True(t, HasPermission([]string{"*"}, "batches:flush"))
	assert.False(t, HasPermission([]string{"batches:read"}, "batches:flush"))
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey("secret")
	require.NoError(t, err)

	info, err := NewStaticKeyValidator([]StaticKey{{ID: "ops", Hash: hash}}).Validate(t.Context(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops", info.ID)
}
