package global

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"PTracker/global/config"
	"PTracker/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func memConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("IDENTITY_USER_ID", "me")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "none.yaml"), false)
	require.NoError(t, err)
	return cfg
}

func get(h http.Handler, path, token string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestBootstrapMemory(t *testing.T) {
	app, err := Bootstrap(context.Background(), memConfig(t))
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.KV)
	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Engine)
	uid, ok := app.Identity.CurrentUserID()
	assert.True(t, ok)
	assert.Equal(t, "me", uid)

	// static identity: routes are open
	assert.Equal(t, http.StatusOK, get(app.Router, "/api/state", ""))
}

func TestBootstrapJWT(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	opts := security.DefaultOptions([]byte(secret))
	token, _, err := security.Generate(opts, "me")
	require.NoError(t, err)

	t.Setenv("IDENTITY_MODE", "jwt")
	t.Setenv("IDENTITY_SECRET", secret)
	t.Setenv("IDENTITY_TOKEN", token)
	app, err := Bootstrap(context.Background(), memConfig(t))
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, http.StatusUnauthorized, get(app.Router, "/api/state", ""))
	assert.Equal(t, http.StatusOK, get(app.Router, "/api/state", token))
}

func TestBootstrapRejectsBadToken(t *testing.T) {
	t.Setenv("IDENTITY_MODE", "jwt")
	t.Setenv("IDENTITY_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("IDENTITY_TOKEN", "not-a-jwt")
	_, err := Bootstrap(context.Background(), memConfig(t))
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	app, err := Bootstrap(context.Background(), memConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
