package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/config"
	"github.com/upb/command-bridge/routes"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	// Setup
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	// Run tests
	code := m.Run()

	// Teardown
	os.Exit(code)
}

func TestInitLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "info")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "invalid")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flagSet, opts, err := parseFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, []string{".env"}, opts.envFiles)
		assert.False(t, flagSet.Changed("port"))
		assert.False(t, flagSet.Changed("multi-tenant"))
	})

	t.Run("overrides", func(t *testing.T) {
		flagSet, opts, err := parseFlags([]string{"--env-file", "a.env,b.env", "-p", "9090", "--multi-tenant"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.env", "b.env"}, opts.envFiles)
		assert.Equal(t, 9090, opts.port)
		assert.True(t, opts.multiTenant)
		assert.True(t, flagSet.Changed("multi-tenant"))
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, _, err := parseFlags([]string{"--nope"})
		assert.Error(t, err)
	})

	t.Run("positional argument", func(t *testing.T) {
		_, _, err := parseFlags([]string{"serve"})
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("AUTH_MULTI_TENANT", "false")

	t.Run("port flag wins over environment", func(t *testing.T) {
		flagSet, opts, err := parseFlags([]string{"--env-file", "testdata/missing.env", "--port", "9090"})
		require.NoError(t, err)

		cfg, err := loadConfig(context.Background(), flagSet, opts)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.False(t, cfg.Auth.MultiTenant)
	})

	t.Run("multi-tenant flag is validated", func(t *testing.T) {
		t.Setenv("AUTH_VALIDATION_URL", "")
		flagSet, opts, err := parseFlags([]string{"--env-file", "testdata/missing.env", "--multi-tenant"})
		require.NoError(t, err)

		_, err = loadConfig(context.Background(), flagSet, opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_VALIDATION_URL is required")
	})
}

func newTestServer(t *testing.T, cfg *config.Config) (*app.Dependencies, *httptest.Server) {
	t.Helper()
	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	t.Cleanup(func() {
		ts.Close()
		_ = deps.Close(context.Background())
	})
	return deps, ts
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	t.Run("health check returns ok", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("readiness without database", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("status endpoint returns version info", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body, "version")
		assert.Contains(t, body, "environment")
		assert.Contains(t, body, "backends")
	})

	t.Run("metrics disabled", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricsEnabled = true
	_, ts := newTestServer(t, cfg)

	// One request so the HTTP counters have a sample.
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIEndpoints_MultiTenantRequiresCredential(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.MultiTenant = true
	cfg.Auth.ValidationURL = "http://127.0.0.1:1/validate"
	cfg.Auth.LoginURL = "https://login.example/device"
	_, ts := newTestServer(t, cfg)

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"execute command", "POST", "/api/v1/commands/echo", http.StatusUnauthorized},
		{"list targets", "GET", "/api/v1/targets", http.StatusUnauthorized},
		{"select target", "PUT", "/api/v1/targets/active", http.StatusUnauthorized},
		{"clear target", "DELETE", "/api/v1/targets/active", http.StatusUnauthorized},
		{"list events", "GET", "/api/v1/events", http.StatusUnauthorized},
		{"mcp", "POST", "/mcp", http.StatusUnauthorized},
		{"login url is public", "GET", "/api/v1/auth/login-url", http.StatusOK},
		{"not found", "GET", "/api/v1/nonexistent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}
}

func TestAPIEndpoints_IdentityServiceDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.MultiTenant = true
	cfg.Auth.ValidationURL = "http://127.0.0.1:1/validate"
	_, ts := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/targets", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer some-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestCORSMiddleware(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	t.Run("OPTIONS preflight request", func(t *testing.T) {
		req, err := http.NewRequest("OPTIONS", ts.URL+"/api/v1/commands/echo", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Caller-ID")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestShutdown(t *testing.T) {
	cfg := testConfig(t)
	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	srv := &http.Server{Handler: routes.SetupRoutes(deps)}
	require.NoError(t, shutdown(srv, deps, cfg, zaptest.NewLogger(t)))
	assert.True(t, deps.Draining())
}

func TestIntegrationWithRealDependencies(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if testing.Short() || dsn == "" {
		t.Skip("skipping integration test: TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t)
	cfg.Database = &config.DatabaseConfig{
		ConnectionString: dsn,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  5 * time.Minute,
		AuditBufferSize:  100,
		AuditWorkers:     1,
	}
	_, ts := newTestServer(t, cfg)

	t.Run("readiness check with real infrastructure", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

		t.Logf("readiness response: %+v", body)

		assert.Equal(t, "ready", body["status"])
		checks := body["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
	})
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*"},
		},
		Auth: config.AuthConfig{
			ValidationTimeout: time.Second,
			RetryBackoff:      10 * time.Millisecond,
			CacheTTL:          time.Minute,
			CacheMaxSize:      100,
			ServiceHeader:     "X-Service-Authorization",
			ServiceIssuer:     "command-bridge",
		},
		Bridge: config.BridgeConfig{
			CommandTimeout:  5 * time.Second,
			WriteTimeout:    time.Second,
			MaxMessageBytes: 1 << 20,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "error",
			LogFormat:      "json",
			MetricsEnabled: false,
		},
	}
}
