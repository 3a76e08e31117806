package middleware

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

var (
	// ErrInvalidAPIKey indicates the supplied key does not match
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrAPIKeyNotFound indicates the request carried no key
	ErrAPIKeyNotFound = errors.New("API key not found")
)

const (
	// APIKeyHeader is the preferred way to pass the key
	APIKeyHeader = "X-API-Key"
	// APIKeyQueryParam lets <img src> and websocket-less dashboards pass the key
	APIKeyQueryParam = "api_key"
	// APIKeyLength is the random byte count of a key (hex encoded to twice that)
	APIKeyLength = 32
	// APIKeyFileName is the key file inside the data directory
	APIKeyFileName = "api_key.txt"
	// AuthSourceContextKey holds where the accepted key was found
	AuthSourceContextKey = "auth_source"

	bearerPrefix = "Bearer "
)

// APIKeyManager keeps the single operator key guarding /api.
// The key lives in a 0600 file so the CLI and the server share it.
type APIKeyManager struct {
	mu   sync.RWMutex
	path string
	key  []byte
}

// NewAPIKeyManager loads the key from dataDir, creating one on first start
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	m := &APIKeyManager{path: filepath.Join(dataDir, APIKeyFileName)}

	key, err := readKeyFile(m.path)
	switch {
	case err == nil:
		m.key = key
		return m, nil
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[Auth] No API key at %s, generating one", m.path)
	case errors.Is(err, errEmptyKeyFile):
		log.Printf("[Auth] API key file %s is empty, generating a new key", m.path)
	default:
		return nil, fmt.Errorf("read API key: %w", err)
	}

	if _, err := m.rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

var errEmptyKeyFile = errors.New("empty key file")

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key := bytes.TrimSpace(data)
	if len(key) == 0 {
		return nil, errEmptyKeyFile
	}
	return key, nil
}

// rotate writes a fresh key through a temp file so a crash never leaves a
// half-written key behind
func (m *APIKeyManager) rotate() (string, error) {
	raw := make([]byte, APIKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	key := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return "", err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(key), 0600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return "", err
	}

	m.mu.Lock()
	m.key = []byte(key)
	m.mu.Unlock()
	return key, nil
}

// GetCurrentKey returns the key clients must present
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.key)
}

// KeyFilePath returns where the key is stored
func (m *APIKeyManager) KeyFilePath() string {
	return m.path
}

// ValidateKey compares key with the current one in constant time
func (m *APIKeyManager) ValidateKey(key string) bool {
	return m.check(key) == nil
}

func (m *APIKeyManager) check(key string) error {
	if key == "" {
		return ErrAPIKeyNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.key) == 0 || subtle.ConstantTimeCompare(m.key, []byte(key)) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// ResetKey replaces the key; the previous one stops working immediately
func (m *APIKeyManager) ResetKey() (string, error) {
	return m.rotate()
}

// requestKey finds the key in the header, a bearer token or the query string
func requestKey(c *gin.Context) (key, source string) {
	if key = c.GetHeader(APIKeyHeader); key != "" {
		return key, "header"
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix)), "bearer"
	}
	if key = c.Query(APIKeyQueryParam); key != "" {
		return key, "query"
	}
	return "", ""
}

// APIKeyMiddleware rejects requests without the current key
func APIKeyMiddleware(keys *APIKeyManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, source := requestKey(c)
		if err := keys.check(key); err != nil {
			message := "API key is required"
			if errors.Is(err, ErrInvalidAPIKey) {
				message = "Invalid API key"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": message,
				},
			})
			return
		}

		c.Set(AuthSourceContextKey, source)
		c.Next()
	}
}
