package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newProtectedRouter(m *APIKeyManager) *gin.Engine {
	router := gin.New()
	router.Use(APIKeyMiddleware(m))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestProperty_APIKeyAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	apiKeyManager, err := NewAPIKeyManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create API key manager: %v", err)
	}
	validKey := apiKeyManager.GetCurrentKey()
	router := newProtectedRouter(apiKeyManager)

	properties.Property("only_the_current_key_is_accepted", prop.ForAll(
		func(candidate string) bool {
			req, _ := http.NewRequest("GET", "/test", nil)
			if candidate != "" {
				req.Header.Set(APIKeyHeader, candidate)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if candidate == validKey {
				return w.Code == http.StatusOK
			}
			return w.Code == http.StatusUnauthorized
		},
		gen.OneGenOf(gen.AlphaString(), gen.Const(validKey)),
	))

	properties.TestingRun(t)
}

func TestAPIKeyQueryParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewAPIKeyManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	router := newProtectedRouter(m)

	req, _ := http.NewRequest("GET", "/test?api_key="+m.GetCurrentKey(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAPIKeyPersistenceAndReset(t *testing.T) {
	dir := t.TempDir()
	first, err := NewAPIKeyManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	key := first.GetCurrentKey()
	if len(key) != APIKeyLength*2 {
		t.Errorf("key length = %d", len(key))
	}

	info, err := os.Stat(filepath.Join(dir, APIKeyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v", info.Mode().Perm())
	}

	second, err := NewAPIKeyManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second.GetCurrentKey() != key {
		t.Error("key should survive a restart")
	}

	newKey, err := second.ResetKey()
	if err != nil {
		t.Fatal(err)
	}
	if newKey == key || second.ValidateKey(key) || !second.ValidateKey(newKey) {
		t.Error("reset must invalidate the old key")
	}
}

type recordedRequest struct {
	method, path string
	status       int
}

type fakeRecorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (f *fakeRecorder) LogAPIRequest(method, path string, statusCode int, _ int64, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, recordedRequest{method, path, statusCode})
	return nil
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &fakeRecorder{}
	router := gin.New()
	router.Use(RequestLogger(rec))
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	req, _ := http.NewRequest("GET", "/items/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if len(rec.reqs) != 1 || rec.reqs[0].path != "/items/:id" || rec.reqs[0].status != http.StatusTeapot {
		t.Errorf("recorded = %+v", rec.reqs)
	}
}

func TestAPIKeySources(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewAPIKeyManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	router := gin.New()
	router.Use(APIKeyMiddleware(m))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(AuthSourceContextKey))
	})

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		source string
	}{
		{"header", func(r *http.Request) { r.Header.Set(APIKeyHeader, m.GetCurrentKey()) }, http.StatusOK, "header"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+m.GetCurrentKey()) }, http.StatusOK, "bearer"},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"basic auth ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+m.GetCurrentKey()) }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/test", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusOK && w.Body.String() != tt.source {
				t.Errorf("source = %q, want %q", w.Body.String(), tt.source)
			}
		})
	}
}

func TestAPIKeyEmptyFileIsRegenerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, APIKeyFileName)
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	m, err := NewAPIKeyManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.GetCurrentKey()) != APIKeyLength*2 {
		t.Fatalf("key = %q", m.GetCurrentKey())
	}
	data, _ := os.ReadFile(path)
	if string(data) != m.GetCurrentKey() {
		t.Error("regenerated key not written to disk")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
