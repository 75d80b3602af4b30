package chain

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vidgen/internal/infra"
	"vidgen/internal/providers/video"
)

// CredentialResolver turns a credentials reference into an API key.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// BuilderOptions are shared by every provider the builder constructs.
type BuilderOptions struct {
	HTTPClient *http.Client
	Logger     *infra.Logger
	Now        func() time.Time
}

// NewBuilder returns the production Builder: resolve credentials, then build
// through the provider factory.
func NewBuilder(creds CredentialResolver, opts BuilderOptions) Builder {
	return func(ctx context.Context, d Descriptor) (video.Provider, error) {
		var key string
		if d.Credentials != "" {
			if creds == nil {
				return nil, fmt.Errorf("credentials %q: no resolver configured", d.Credentials)
			}
			resolved, err := creds.Resolve(ctx, d.Credentials)
			if err != nil {
				return nil, fmt.Errorf("credentials %q: %w", d.Credentials, err)
			}
			key = resolved
		}
		s := d.Settings(key)
		s.HTTPClient = opts.HTTPClient
		s.Logger = opts.Logger
		s.Now = opts.Now
		return video.New(s, d.Options)
	}
}
