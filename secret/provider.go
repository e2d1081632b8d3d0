package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: a missing secret is an error; implementations must not include
//     the secret value in errors or logs.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct{}

// Name returns "env".
func (EnvProvider) Name() string { return "env" }

// Resolve returns the value of the variable named ref.
func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, ref)
	}
	return v, nil
}

// FileProvider reads secrets from files, such as mounted container secrets.
type FileProvider struct {
	// Dir, when set, is prepended to relative refs.
	Dir string
}

// Name returns "file".
func (FileProvider) Name() string { return "file" }

// Resolve returns the contents of the file at ref without trailing newlines.
func (p FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := ref
	if p.Dir != "" && !strings.HasPrefix(ref, "/") {
		path = p.Dir + "/" + ref
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("secret: read %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
