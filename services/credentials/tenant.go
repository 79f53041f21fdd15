package credentials

import (
	"context"

	"github.com/upb/command-bridge/services"
)

// Checker validates a bearer token. *Validator is the production implementation.
type Checker interface {
	Validate(ctx context.Context, token string) ValidationResult
}

var _ Checker = (*Validator)(nil)

// ResolveTenant turns a token into a tenant id. Single-tenant mode resolves
// to "" without I/O; in multi-tenant mode every uncertain outcome is an error.
func ResolveTenant(ctx context.Context, c Checker, multiTenant bool, token string) (string, error) {
	if !multiTenant {
		return "", nil
	}
	if token == "" {
		return "", services.ErrAuthenticationMissing
	}

	result := c.Validate(ctx, token)
	switch {
	case result.Unavailable():
		return "", services.ErrAuthenticationServiceUnavailable
	case !result.Valid || result.TenantID == "":
		return "", services.ErrAuthenticationInvalid
	}
	return result.TenantID, nil
}
