// Package remote exchanges encoded objects and index snapshots through
// an OCI registry. Objects are packed into image layers; the image
// config carries the pointers needed to find the snapshot again.
package remote

// DefaultConcurrency bounds parallel layer transfers.
const DefaultConcurrency = 4

// Authenticator provides authentication for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry. Empty
	// credentials fall back to the system keychain.
	Authenticate(registry string) (username, password string, err error)
}

// DefaultAuthenticator defers to the system keychain (like Docker).
type DefaultAuthenticator struct{}

func NewDefaultAuthenticator() *DefaultAuthenticator {
	return &DefaultAuthenticator{}
}

func (a *DefaultAuthenticator) Authenticate(registry string) (string, string, error) {
	return "", "", nil
}
