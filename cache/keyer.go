package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Keyer generates deterministic cache keys from an operation namespace and
// its parameters.
//
// Contract:
//   - Determinism: same inputs must produce same key, regardless of map iteration
//     order or the order fields were supplied in.
//   - Namespacing: every key starts with "<namespace>:".
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key from a namespace and parameters.
	Key(namespace string, params any) (string, error)
}

// DefaultKeyer renders parameters as canonical JSON.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: <namespace>:<canonical JSON(params)>
// When that would exceed MaxKeyLength the parameters are replaced by
// "#" followed by the hex SHA-256 of the canonical JSON.
func (k *DefaultKeyer) Key(namespace string, params any) (string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return "", err
	}

	canonical, err := normalize(params)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize params: %w", err)
	}

	key := namespace + NamespaceSeparator + string(canonical)
	if len(key) <= MaxKeyLength {
		return key, nil
	}

	hash := sha256.Sum256(canonical)
	return namespace + NamespaceSeparator + "#" + hex.EncodeToString(hash[:]), nil
}

// normalize round-trips structs and typed maps through JSON so that every
// input reaches canonicalize as plain maps, slices and scalars.
func normalize(v any) ([]byte, error) {
	switch v.(type) {
	case nil, map[string]any, []any:
		return canonicalize(v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return canonicalize(generic)
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
