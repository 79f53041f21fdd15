package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/config"
	"github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/services/commands"
	"github.com/upb/command-bridge/services/credentials"
	"github.com/upb/command-bridge/services/gateway"
	"github.com/upb/command-bridge/services/sessions"
	"github.com/upb/command-bridge/services/targets"
	"go.uber.org/zap"
)

// identityServer accepts good-token (tenant-a) and other-token (tenant-b),
// answers 503 for down-token and 401 for everything else.
func identityServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			APIKey string `json:"api_key"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.APIKey {
		case "good-token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"valid": true, "user_id": "tenant-a"})
		case "other-token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"valid": true, "user_id": "tenant-b"})
		case "down-token":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestDeps wires the bridge core without a database.
func newTestDeps(t *testing.T, multiTenant bool) *app.Dependencies {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{AllowedOrigins: []string{"*"}},
		Auth: config.AuthConfig{
			MultiTenant: multiTenant,
			LoginURL:    "https://login.example/device",
		},
		Bridge: config.BridgeConfig{
			CommandTimeout:  2 * time.Second,
			MaxMessageBytes: 1 << 20,
		},
	}
	if multiTenant {
		cfg.Auth.ValidationURL = identityServer(t).URL
	}

	validator := credentials.NewValidator(credentials.Config{
		URL:         cfg.Auth.ValidationURL,
		Timeout:     time.Second,
		CacheTTL:    time.Minute,
		MultiTenant: multiTenant,
	}, nil, logger)
	registry := sessions.NewRegistry(multiTenant, nil, logger)
	store := targets.NewStore()
	gate := gateway.NewGate(gateway.Options{
		MultiTenant:    multiTenant,
		CommandTimeout: cfg.Bridge.CommandTimeout,
	}, validator, registry, store, nil, logger)

	deps := &app.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Validator:  validator,
		Registry:   registry,
		Targets:    store,
		Gate:       gate,
		Dispatcher: commands.NewDispatcher(registry, store, gate, logger),
		Resolver:   middleware.NewRequestContextResolver(multiTenant, validator, registry, store, cfg.Auth.LoginURL, logger),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gate.Shutdown(ctx)
	})
	return deps
}

// newTestRouter mounts the handlers the way the production router does.
func newTestRouter(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Get("/ws/backend", BackendSocketHandler(deps))
	r.Get("/api/v1/auth/login-url", LoginURLHandler(deps))
	r.Group(func(r chi.Router) {
		r.Use(deps.Resolver.Middleware)
		r.Post("/api/v1/commands/{name}", CommandHandler(deps))
		r.Get("/api/v1/targets", ListTargetsHandler(deps))
		r.Put("/api/v1/targets/active", SelectTargetHandler(deps))
		r.Delete("/api/v1/targets/active", ClearTargetHandler(deps))
		r.Get("/api/v1/events", EventsHandler(deps))
		r.Handle("/mcp", MCPHandler(deps))
	})
	return r
}

// startBackend connects an echoing backend and registers resourceKey.
// It returns the connection id assigned by the bridge.
func startBackend(t *testing.T, srvURL, token, resourceKey string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srvURL, "http")+"/ws/backend", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })

	backend := gateway.NewWebSocketTransport(c, "")
	require.NoError(t, backend.Write(ctx, gateway.Message{Type: gateway.TypeRegister, ID: "r1", ResourceKey: resourceKey}))
	ack, err := backend.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, gateway.TypeRegistered, ack.Type)

	go func() {
		for {
			msg, err := backend.Read(ctx)
			if err != nil {
				return
			}
			if msg.Type != gateway.TypeCommand {
				continue
			}
			reply := gateway.Message{Type: gateway.TypeResult, ID: msg.ID}
			if msg.Command == "fail" {
				reply.Error = "backend exploded"
			} else {
				reply.Result, _ = json.Marshal(map[string]interface{}{
					"command":  msg.Command,
					"resource": resourceKey,
					"payload":  msg.Payload,
				})
			}
			if err := backend.Write(ctx, reply); err != nil {
				return
			}
		}
	}()

	return ack.ConnectionID
}

func doJSON(t *testing.T, srvURL, method, path, token, callerID, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srvURL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if callerID != "" {
		req.Header.Set(middleware.CallerIDHeader, callerID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}
