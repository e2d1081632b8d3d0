package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the referenced secret does not exist.
	ErrNotFound = errors.New("secret: not found")

	// ErrUnknownProvider indicates a reference names an unregistered provider.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrEmpty indicates a provider returned an empty value in strict mode.
	ErrEmpty = errors.New("secret: empty value")
)

const refPrefix = "secretref:"

// Resolver resolves secret references using registered providers.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver with the given providers. With no
// providers, the env and file providers are registered. In strict mode an
// empty resolved secret is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	if len(providers) == 0 {
		providers = []Provider{EnvProvider{}, FileProvider{}}
	}
	r := &Resolver{providers: make(map[string]Provider, len(providers)), strict: strict}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Resolve expands environment variables in value and resolves it if it is
// a secret reference. The empty string resolves to itself.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}

	name, ref, ok := ParseRef(expanded)
	if !ok {
		return expanded, nil
	}
	provider, found := r.providers[name]
	if !found {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	resolved, err := provider.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && resolved == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmpty, name, ref)
	}
	return resolved, nil
}

// ParseRef splits a reference of the form secretref:<provider>:<ref>.
func ParseRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}
