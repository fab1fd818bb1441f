package secrets

import "context"

// Provider defines a generic secrets manager interface.
// The switch uses it to fetch key material (e.g. the JWS signing key).
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}
