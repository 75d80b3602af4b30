package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

var (
	// ErrNoStore is returned for db: references when no database is configured.
	ErrNoStore = errors.New("credentials: no token store configured")
	// ErrUnset is returned when a reference resolves to an empty value.
	ErrUnset = errors.New("credentials: value is empty")
)

// Resolver turns provider credential references into secrets. References are
// "env:NAME" for the process environment and "db:PROVIDER" for the
// integration_tokens table.
type Resolver struct {
	sql       infra.SQLExecutor
	lookupEnv func(string) (string, bool)
}

// NewResolver constructs a Resolver; sql may be nil when no database is used.
func NewResolver(sql infra.SQLExecutor) *Resolver {
	return &Resolver{sql: sql, lookupEnv: os.LookupEnv}
}

// Migrate creates the token table when missing.
func (r *Resolver) Migrate(ctx context.Context) error {
	if r.sql == nil {
		return ErrNoStore
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QCreateIntegrationTokens); err != nil {
		return fmt.Errorf("create integration_tokens: %w", err)
	}
	return nil
}

// Resolve returns the secret behind ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, _ := r.lookupEnv(name)
		if v = strings.TrimSpace(v); v == "" {
			return "", fmt.Errorf("%w: env %s", ErrUnset, name)
		}
		return v, nil
	case strings.HasPrefix(ref, "db:"):
		provider := strings.TrimPrefix(ref, "db:")
		token, err := r.Token(ctx, provider)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", fmt.Errorf("%w: token for %s", ErrUnset, provider)
		}
		return token, nil
	default:
		return "", fmt.Errorf("credentials: unsupported reference %q", ref)
	}
}

// Token reads the stored token for provider; a missing row yields "".
func (r *Resolver) Token(ctx context.Context, provider string) (string, error) {
	if r.sql == nil {
		return "", ErrNoStore
	}
	row := r.sql.QueryRow(ctx, sqlinline.QSelectProviderToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces the token for provider.
func (r *Resolver) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	if r.sql == nil {
		return ErrNoStore
	}
	provider = strings.TrimSpace(provider)
	token = strings.TrimSpace(token)
	if provider == "" || token == "" {
		return errors.New("credentials: provider and token are required")
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertProviderToken, provider, token, raw)
	return err
}
