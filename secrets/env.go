package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvStore resolves string secrets from process environment variables
// named KEEL_SECRET_<ID> (id uppercased, dashes mapped to underscores).
// Only string secrets can live in the environment; other types resolve
// to ErrTypeMismatch.
type EnvStore struct{}

// envPrefix namespaces the variables EnvStore reads.
const envPrefix = "KEEL_SECRET_"

// Resolve implements Store.
func (EnvStore) Resolve(_ context.Context, ref Ref) (*Secret, error) {
	if ref.Type != TypeString {
		return nil, &ResolutionError{Ref: ref, Err: ErrTypeMismatch}
	}

	name := envPrefix + strings.ToUpper(strings.ReplaceAll(ref.ID, "-", "_"))
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, &ResolutionError{Ref: ref, Err: ErrNotFound}
	}
	return &Secret{Ref: ref, Value: value}, nil
}
