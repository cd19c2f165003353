// Package secrets defines the credential resolution capability the
// scheduler depends on. Implementations materialize an identifier plus
// type into secret values; the engine never reads credential storage
// directly.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for credential resolution.
var (
	// ErrNotFound indicates the identifier resolves to nothing.
	// Resolution failures are fatal; a secret is never silently
	// substituted with an empty value.
	ErrNotFound = errors.New("secret not found")

	// ErrTypeMismatch indicates the stored secret's type differs from
	// the requested type.
	ErrTypeMismatch = errors.New("secret type mismatch")
)

// Type identifies the shape of a secret.
type Type string

const (
	// TypeUsernamePassword is a username/password pair.
	TypeUsernamePassword Type = "username-password"
	// TypeString is a single opaque string.
	TypeString Type = "string"
	// TypeFile is a file materialized on disk.
	TypeFile Type = "file"
	// TypeSSHKey is a private key file plus optional passphrase.
	TypeSSHKey Type = "ssh-key"
)

// Ref identifies a secret to resolve.
type Ref struct {
	ID   string
	Type Type
}

// Secret is a resolved credential. Only the fields matching its Type
// are populated.
type Secret struct {
	Ref      Ref
	Username string
	Password string
	Value    string
	// Path is the on-disk location for file and ssh-key secrets.
	Path       string
	Passphrase string
}

// Store resolves credential references.
type Store interface {
	// Resolve retrieves a single secret by reference. A missing secret
	// is ErrNotFound; a secret stored under a different type is
	// ErrTypeMismatch. Never returns an empty secret with a nil error.
	Resolve(ctx context.Context, ref Ref) (*Secret, error)
}

// ResolutionError wraps a resolution failure with the reference that
// caused it.
type ResolutionError struct {
	Ref Ref
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve credential %q (%s): %v", e.Ref.ID, e.Ref.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error { return e.Err }
