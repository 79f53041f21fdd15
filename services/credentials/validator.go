package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/upb/command-bridge/internal/observability"
	"go.uber.org/zap"
)

// Outcome distinguishes a rejected token from an unreachable identity service.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
)

// ValidationResult is the answer for one token.
type ValidationResult struct {
	Valid     bool
	TenantID  string
	Metadata  map[string]interface{}
	Cacheable bool
	Outcome   Outcome
}

// Unavailable reports whether the identity service could not give an answer.
func (r ValidationResult) Unavailable() bool {
	return r.Outcome == OutcomeUnavailable
}

// Config configures a Validator.
type Config struct {
	URL          string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	CacheTTL     time.Duration
	CacheMaxSize int
	MultiTenant  bool
	ServiceAuth  ServiceAuthenticator
}

// Validator checks opaque bearer tokens against the external identity service.
// Lookups are cache first; every uncertain outcome fails closed.
type Validator struct {
	cfg        Config
	httpClient *http.Client
	cache      *Cache
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
}

type validationRequest struct {
	APIKey string `json:"api_key"`
}

type validationResponse struct {
	Valid    bool                   `json:"valid"`
	UserID   string                 `json:"user_id,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewValidator creates a Validator. httpClient may be nil.
func NewValidator(cfg Config, httpClient *http.Client, logger *zap.Logger) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Validator{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      NewCache(cfg.CacheMaxSize, cfg.CacheTTL),
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Validate returns the validation result for token. A cache hit performs no I/O.
func (v *Validator) Validate(ctx context.Context, token string) ValidationResult {
	if token == "" {
		return ValidationResult{Outcome: OutcomeRejected}
	}

	if cached, ok := v.cache.Get(token); ok {
		observability.CredentialValidationsTotal.WithLabelValues(string(cached.Outcome), "cache").Inc()
		return cached
	}

	gen := v.cache.Generation()
	result := v.validateRemote(ctx, token)
	v.cache.SetIfCurrent(token, result, gen)

	observability.CredentialValidationsTotal.WithLabelValues(string(result.Outcome), "remote").Inc()
	v.logger.Debug("credential validated",
		zap.String("token", MaskToken(token)),
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("cacheable", result.Cacheable),
		zap.String("tenant_id", result.TenantID))

	return result
}

// validateRemote calls the identity service, retrying transport failures
// (timeouts and connection errors) up to MaxRetries times after a fixed backoff.
func (v *Validator) validateRemote(ctx context.Context, token string) ValidationResult {
	var lastErr error
	for attempt := 0; attempt <= v.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := v.sleep(ctx, v.cfg.RetryBackoff); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := v.post(ctx, token)
		if err != nil {
			lastErr = err
			if !isTransient(err) || ctx.Err() != nil {
				break
			}
			v.logger.Warn("identity service call failed, retrying",
				zap.String("token", MaskToken(token)),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return v.classify(resp, token)
	}

	v.logger.Warn("identity service unavailable",
		zap.String("token", MaskToken(token)),
		zap.Error(lastErr))
	return unavailable()
}

func (v *Validator) post(ctx context.Context, token string) (*http.Response, error) {
	body, err := json.Marshal(validationRequest{APIKey: token})
	if err != nil {
		return nil, fmt.Errorf("encode validation request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, v.cfg.URL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if v.cfg.ServiceAuth != nil {
		if err := v.cfg.ServiceAuth.Apply(req); err != nil {
			cancel()
			return nil, fmt.Errorf("apply service auth: %w", err)
		}
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// Body is read in classify; cancel once it is closed.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (v *Validator) classify(resp *http.Response, token string) ValidationResult {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return rejected()
	case resp.StatusCode != http.StatusOK:
		v.logger.Warn("identity service returned unexpected status",
			zap.String("token", MaskToken(token)),
			zap.Int("status", resp.StatusCode))
		return unavailable()
	}

	var body validationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		v.logger.Warn("identity service returned malformed body",
			zap.String("token", MaskToken(token)),
			zap.Error(err))
		return unavailable()
	}

	if !body.Valid {
		return rejected()
	}
	if v.cfg.MultiTenant && body.UserID == "" {
		// A positive answer without an identity cannot be scoped to a tenant.
		v.logger.Warn("identity service accepted token without user_id",
			zap.String("token", MaskToken(token)))
		return ValidationResult{Outcome: OutcomeRejected}
	}

	return ValidationResult{
		Valid:     true,
		TenantID:  body.UserID,
		Metadata:  body.Metadata,
		Cacheable: true,
		Outcome:   OutcomeOK,
	}
}

// Invalidate drops the cached result for token.
func (v *Validator) Invalidate(token string) {
	v.cache.Invalidate(token)
}

// Clear empties the cache.
func (v *Validator) Clear() {
	v.cache.Clear()
}

// Stats returns cache statistics.
func (v *Validator) Stats() CacheStats {
	return v.cache.Stats()
}

// StartCleanupWorker periodically removes expired cache entries until stopCh closes.
func (v *Validator) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	v.cache.StartCleanupWorker(interval, stopCh)
}

// MaskToken renders a token for logs: first and last four characters only.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func rejected() ValidationResult {
	return ValidationResult{Cacheable: true, Outcome: OutcomeRejected}
}

func unavailable() ValidationResult {
	return ValidationResult{Outcome: OutcomeUnavailable}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
