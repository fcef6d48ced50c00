package credentials_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-job-scheduler/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings(t *testing.T) {
	t.Parallel()
	s := credentials.MapSettings(map[string]string{
		credentials.KeySubscriptionID: "  sub-1 ",
		credentials.KeyTenantID:       "[your tenant id]",
		credentials.KeyClientID:       "",
	})

	v, err := s.Get(credentials.KeySubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", v)

	var mErr *credentials.MissingConfigError
	_, err = s.Get(credentials.KeyTenantID)
	require.ErrorAs(t, err, &mErr)
	assert.True(t, mErr.Placeholder)

	_, err = s.Get(credentials.KeyClientID)
	require.ErrorAs(t, err, &mErr)
	assert.False(t, mErr.Placeholder)

	v, err = credentials.GetOrDefault(s, credentials.KeyLocation, "westus")
	require.NoError(t, err)
	assert.Equal(t, "westus", v)

	_, err = credentials.GetOrDefault(s, credentials.KeyTenantID, "fallback")
	assert.Error(t, err, "placeholders are never defaulted")
}

func TestEnvSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SCHEDULER_TEST_ONLY_KEY=from-file\n"), 0o600))
	t.Setenv("SCHEDULER_TEST_ONLY_KEY", "")
	require.NoError(t, os.Unsetenv("SCHEDULER_TEST_ONLY_KEY"))

	s, err := credentials.EnvSettings(zerolog.Nop(), path)
	require.NoError(t, err)
	v, err := s.Get("SCHEDULER_TEST_ONLY_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	_, err = credentials.EnvSettings(zerolog.Nop(), filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestEnvironmentFromSettings(t *testing.T) {
	t.Parallel()

	t.Run("defaults to the local emulator", func(t *testing.T) {
		t.Parallel()
		env, err := credentials.EnvironmentFromSettings(credentials.MapSettings(nil))
		require.NoError(t, err)
		assert.Equal(t, credentials.LocalEmulator, env)
	})

	t.Run("local with a custom endpoint", func(t *testing.T) {
		t.Parallel()
		env, err := credentials.EnvironmentFromSettings(credentials.MapSettings(map[string]string{
			credentials.KeyEnvironment: "local",
			credentials.KeyEndpoint:    "http://127.0.0.1:9999",
		}))
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:9999", env.ResourceEndpoint)
	})

	t.Run("remote environment needs a token url", func(t *testing.T) {
		t.Parallel()
		_, err := credentials.EnvironmentFromSettings(credentials.MapSettings(map[string]string{
			credentials.KeyEndpoint: "https://scheduler.example.test",
		}))
		var mErr *credentials.MissingConfigError
		require.ErrorAs(t, err, &mErr)
		assert.Equal(t, credentials.KeyTokenURL, mErr.Key)
	})

	t.Run("remote environment", func(t *testing.T) {
		t.Parallel()
		env, err := credentials.EnvironmentFromSettings(credentials.MapSettings(map[string]string{
			credentials.KeyEndpoint: "https://scheduler.example.test",
			credentials.KeyTokenURL: "https://login.example.test/{tenant}/oauth2/token",
		}))
		require.NoError(t, err)
		assert.Equal(t, "custom", env.Name)
		assert.Equal(t, "https://scheduler.example.test", env.TokenAudience)
		assert.Equal(t, "https://login.example.test/t-1/oauth2/token", env.TokenURLFor("t-1"))
	})
}

func TestClientCredentialsFromSettings(t *testing.T) {
	t.Parallel()
	_, err := credentials.ClientCredentialsFromSettings(credentials.MapSettings(map[string]string{
		credentials.KeyTenantID: "tenant",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), credentials.KeyClientID)
	assert.Contains(t, err.Error(), credentials.KeyClientSecret)
}

func TestTokenProviders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("static token", func(t *testing.T) {
		t.Parallel()
		tok, err := credentials.StaticToken("abc").GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)

		_, err = credentials.StaticToken("").GetToken(ctx)
		var authErr *credentials.AuthError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("client credentials grant is cached", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "/tenant-1/token", r.URL.Path)
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "client", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
			assert.Equal(t, "https://scheduler.example.test", r.PostForm.Get("resource"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "issued",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		t.Cleanup(server.Close)

		env := credentials.Environment{
			Name:             "test",
			ResourceEndpoint: "https://scheduler.example.test",
			TokenURL:         server.URL + "/{tenant}/token",
			TokenAudience:    "https://scheduler.example.test",
		}
		provider, err := credentials.NewClientCredentialsTokenProvider(env, credentials.ClientCredentials{
			TenantID: "tenant-1", ClientID: "client", ClientSecret: "secret",
		})
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = provider.GetToken(cancelled)
		var authErr *credentials.AuthError
		require.ErrorAs(t, err, &authErr, "the caller's context bounds the token request")
		assert.ErrorIs(t, err, context.Canceled)

		for i := 0; i < 2; i++ {
			tok, err := provider.GetToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, "issued", tok)
		}
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("rejected grant is an auth error", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
		}))
		t.Cleanup(server.Close)

		provider, err := credentials.NewClientCredentialsTokenProvider(credentials.Environment{
			Name: "test", ResourceEndpoint: "https://scheduler.example.test", TokenURL: server.URL,
		}, credentials.ClientCredentials{TenantID: "t", ClientID: "c", ClientSecret: "s"})
		require.NoError(t, err)

		_, err = provider.GetToken(ctx)
		var authErr *credentials.AuthError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("missing client secret", func(t *testing.T) {
		t.Parallel()
		_, err := credentials.NewClientCredentialsTokenProvider(credentials.Environment{TokenURL: "https://x.test"},
			credentials.ClientCredentials{ClientID: "c"})
		var authErr *credentials.AuthError
		assert.ErrorAs(t, err, &authErr)
	})
}
