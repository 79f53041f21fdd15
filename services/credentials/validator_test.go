package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type identityStub struct {
	calls   atomic.Int32
	handler http.HandlerFunc
}

func newIdentityServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *identityStub) {
	t.Helper()
	stub := &identityStub{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		stub.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, stub
}

func validResponse(userID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"valid":    true,
			"user_id":  userID,
			"metadata": map[string]interface{}{"plan": "pro"},
		})
	}
}

func newTestValidator(url string, multiTenant bool) *Validator {
	return NewValidator(Config{
		URL:          url,
		Timeout:      time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		CacheTTL:     time.Minute,
		CacheMaxSize: 100,
		MultiTenant:  multiTenant,
	}, nil, zap.NewNop())
}

func TestValidator_CacheHitWithinTTL(t *testing.T) {
	srv, stub := newIdentityServer(t, validResponse("tenant-a"))
	v := newTestValidator(srv.URL, true)

	first := v.Validate(context.Background(), "tok-1234567890")
	second := v.Validate(context.Background(), "tok-1234567890")

	assert.True(t, first.Valid)
	assert.Equal(t, "tenant-a", first.TenantID)
	assert.Equal(t, "pro", first.Metadata["plan"])
	assert.Equal(t, OutcomeOK, first.Outcome)
	assert.Equal(t, first.TenantID, second.TenantID)
	assert.True(t, second.Valid)
	assert.Equal(t, int32(1), stub.calls.Load())

	stats := v.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestValidator_ServerErrorNotCached(t *testing.T) {
	srv, stub := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	v := newTestValidator(srv.URL, true)

	first := v.Validate(context.Background(), "tok-abc")
	second := v.Validate(context.Background(), "tok-abc")

	assert.False(t, first.Valid)
	assert.False(t, first.Cacheable)
	assert.True(t, first.Unavailable())
	assert.True(t, second.Unavailable())
	// 5xx is an answer, not a transport failure: no retry, but no caching either.
	assert.Equal(t, int32(2), stub.calls.Load())
	assert.Equal(t, 0, v.Stats().Size)
}

func TestValidator_NegativeResultsAreCached(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "valid false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"valid": false}`))
			},
		},
		{
			name: "401",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stub := newIdentityServer(t, tt.handler)
			v := newTestValidator(srv.URL, true)

			first := v.Validate(context.Background(), "bad-token")
			second := v.Validate(context.Background(), "bad-token")

			assert.False(t, first.Valid)
			assert.True(t, first.Cacheable)
			assert.Equal(t, OutcomeRejected, first.Outcome)
			assert.Equal(t, OutcomeRejected, second.Outcome)
			assert.Equal(t, int32(1), stub.calls.Load())
		})
	}
}

func TestValidator_ValidWithoutUserIDInMultiTenantMode(t *testing.T) {
	srv, stub := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid": true}`))
	})
	v := newTestValidator(srv.URL, true)

	result := v.Validate(context.Background(), "tok")
	assert.False(t, result.Valid)
	assert.False(t, result.Cacheable)
	assert.Equal(t, OutcomeRejected, result.Outcome)

	v.Validate(context.Background(), "tok")
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestValidator_ValidWithoutUserIDInSingleTenantMode(t *testing.T) {
	srv, _ := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid": true}`))
	})
	v := newTestValidator(srv.URL, false)

	result := v.Validate(context.Background(), "tok")
	assert.True(t, result.Valid)
	assert.Empty(t, result.TenantID)
}

func TestValidator_MalformedBodyIsUnavailable(t *testing.T) {
	srv, _ := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	v := newTestValidator(srv.URL, true)

	result := v.Validate(context.Background(), "tok")
	assert.True(t, result.Unavailable())
	assert.False(t, result.Cacheable)
}

func TestValidator_TimeoutRetriesOnce(t *testing.T) {
	srv, stub := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	v := NewValidator(Config{
		URL:          srv.URL,
		Timeout:      20 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		CacheTTL:     time.Minute,
		MultiTenant:  true,
	}, nil, zap.NewNop())

	result := v.Validate(context.Background(), "slow-token")

	assert.True(t, result.Unavailable())
	assert.False(t, result.Cacheable)
	assert.Equal(t, int32(2), stub.calls.Load())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestValidator_ConnectionErrorRetriesThenRecovers(t *testing.T) {
	var attempts atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       ioNopCloser(`{"valid": true, "user_id": "tenant-b"}`),
			Header:     make(http.Header),
		}, nil
	})}

	v := NewValidator(Config{
		URL:          "http://identity.invalid/validate",
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		MultiTenant:  true,
	}, client, zap.NewNop())

	result := v.Validate(context.Background(), "tok")
	assert.True(t, result.Valid)
	assert.Equal(t, "tenant-b", result.TenantID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestValidator_ExpiredEntryRevalidates(t *testing.T) {
	srv, stub := newIdentityServer(t, validResponse("tenant-a"))
	v := newTestValidator(srv.URL, true)

	now := time.Now()
	v.cache.now = func() time.Time { return now }
	v.Validate(context.Background(), "tok")

	now = now.Add(time.Minute)
	v.Validate(context.Background(), "tok")

	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestValidator_InvalidateAndClear(t *testing.T) {
	srv, stub := newIdentityServer(t, validResponse("tenant-a"))
	v := newTestValidator(srv.URL, true)

	v.Validate(context.Background(), "tok")
	v.Invalidate("tok")
	v.Validate(context.Background(), "tok")
	assert.Equal(t, int32(2), stub.calls.Load())

	v.Clear()
	assert.Equal(t, 0, v.Stats().Size)
	v.Validate(context.Background(), "tok")
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestValidator_SendsRequestBodyAndServiceHeader(t *testing.T) {
	var gotKey, gotHeader string
	srv, _ := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotKey = body["api_key"]
		gotHeader = r.Header.Get("X-Service-Authorization")
		validResponse("tenant-a")(w, r)
	})

	v := NewValidator(Config{
		URL:         srv.URL,
		MultiTenant: true,
		ServiceAuth: StaticServiceAuth{Header: "X-Service-Authorization", Token: "svc"},
	}, nil, zap.NewNop())

	v.Validate(context.Background(), "caller-token")
	assert.Equal(t, "caller-token", gotKey)
	assert.Equal(t, "svc", gotHeader)
}

func TestValidator_EmptyTokenRejectedWithoutIO(t *testing.T) {
	srv, stub := newIdentityServer(t, validResponse("tenant-a"))
	v := newTestValidator(srv.URL, true)

	result := v.Validate(context.Background(), "")
	assert.False(t, result.Valid)
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestSignedServiceAuth(t *testing.T) {
	auth := NewSignedServiceAuth("X-Service-Authorization", "s3cret", "command-bridge", "identity")
	req := httptest.NewRequest(http.MethodPost, "/validate", nil)
	require.NoError(t, auth.Apply(req))

	raw := strings.TrimPrefix(req.Header.Get("X-Service-Authorization"), "Bearer ")
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience("identity"), jwt.WithIssuer("command-bridge"))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.NotEmpty(t, claims.ID)
}

func TestNewServiceAuthenticator(t *testing.T) {
	assert.Nil(t, NewServiceAuthenticator("", "tok", "", "", ""))
	assert.Nil(t, NewServiceAuthenticator("X-Svc", "", "", "", ""))
	assert.IsType(t, StaticServiceAuth{}, NewServiceAuthenticator("X-Svc", "tok", "", "", ""))
	assert.IsType(t, &SignedServiceAuth{}, NewServiceAuthenticator("X-Svc", "tok", "secret", "iss", ""))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "abcd...wxyz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestValidator_InvalidateDuringRemoteCallIsNotUndone(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	srv, _ := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		validResponse("tenant-a")(w, r)
	})
	v := newTestValidator(srv.URL, true)

	done := make(chan ValidationResult, 1)
	go func() { done <- v.Validate(context.Background(), "tok-inflight") }()

	<-arrived
	v.Invalidate("tok-inflight")
	close(release)

	result := <-done
	assert.True(t, result.Valid)
	assert.Equal(t, 0, v.Stats().Size)
}
