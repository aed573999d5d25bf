package login_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/gvmkit-push/internal/config"
	"github.com/golemfactory/gvmkit-push/internal/login"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
	"github.com/golemfactory/gvmkit-push/internal/registry"
)

func TestCheck_NoCredentialsIsNoop(t *testing.T) {
	client := registry.New("http://unused.invalid")
	err := login.Check(context.Background(), client, config.Default())
	require.NoError(t, err)
}

func TestCheck_ValidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Registry.User = "alice"
	cfg.Registry.Token = "good-token"

	client := registry.New(srv.URL)
	require.NoError(t, login.Check(context.Background(), client, cfg))
}

func TestCheck_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Registry.User = "alice"
	cfg.Registry.Token = "bad-token"

	client := registry.New(srv.URL)
	err := login.Check(context.Background(), client, cfg)
	require.Error(t, err)
	var authErr *pusherr.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestRequireForRepository(t *testing.T) {
	anon := config.Default()
	assert.NoError(t, login.RequireForRepository(anon, ""))
	assert.Error(t, login.RequireForRepository(anon, "alice/image:latest"))

	withCreds := config.Default()
	withCreds.Registry.User = "alice"
	withCreds.Registry.Token = "token"
	assert.NoError(t, login.RequireForRepository(withCreds, "alice/image:latest"))
}
