package config

import "context"

// SecretProvider resolves secret references to plaintext values. SSMProvider
// is used in deployed environments and EnvVarProvider locally.
type SecretProvider interface {
	// GetParametersBatch returns a map of key to value for every key it could
	// resolve. Keys it cannot resolve are omitted or reported as an error,
	// depending on the implementation.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
