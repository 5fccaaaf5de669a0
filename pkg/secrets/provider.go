// Package secrets reads creator profiles from a secrets manager and keeps a
// short-lived copy of what it read.
package secrets

import "context"

// Provider is a read-only view of a secrets store. Each secret is a flat JSON
// object of string fields.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
	// ListSecrets returns the secret names that start with prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
