package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKeyMiddleware creates middleware that authenticates requests using API keys
func APIKeyMiddleware(apiKeyValidator APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for API key in header
		apiKeyHeader := c.GetHeader("X-API-Key")
		if apiKeyHeader == "" {
			// Also check Authorization header with ApiKey scheme
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "ApiKey ") {
				apiKeyHeader = strings.TrimPrefix(authHeader, "ApiKey ")
			}
		}

		if apiKeyHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			c.Abort()
			return
		}

		if apiKeyValidator == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "API key validation not configured"})
			c.Abort()
			return
		}

		// Validate the API key
		key, err := apiKeyValidator.Validate(c.Request.Context(), apiKeyHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("apiKeyId", key.ID)
		c.Set("apiKeyPermissions", key.Permissions)
		c.Next()
	}
}

// RequireAPIKeyPermission creates middleware that checks for specific API key permission
func RequireAPIKeyPermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		permissions, exists := c.Get("apiKeyPermissions")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{"error": "no permissions found"})
			c.Abort()
			return
		}

		permList, ok := permissions.([]string)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid permissions format"})
			c.Abort()
			return
		}

		requiredPerm := resource + ":" + action
		if !HasPermission(permList, requiredPerm) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": requiredPerm,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// HasPermission accepts exact matches, "resource:*" and "*".
func HasPermission(granted []string, required string) bool {
	resource, _, _ := strings.Cut(required, ":")
	for _, p := range granted {
		if p == required || p == resource+":*" || p == "*" {
			return true
		}
	}
	return false
}

// StaticKey is a configured API key stored as a bcrypt hash.
type StaticKey struct {
	ID          string
	Hash        string
	Permissions []string
}

// StaticKeyValidator checks presented keys against bcrypt hashes.
type StaticKeyValidator struct {
	keys []StaticKey
}

func NewStaticKeyValidator(keys []StaticKey) *StaticKeyValidator {
	return &StaticKeyValidator{keys: keys}
}

func (v *StaticKeyValidator) Validate(_ context.Context, rawKey string) (*APIKeyInfo, error) {
	for _, k := range v.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(rawKey)) == nil {
			return &APIKeyInfo{ID: k.ID, Permissions: k.Permissions}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

// HashKey returns the bcrypt hash to put in the config for rawKey.
func HashKey(rawKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
