package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubProvider struct {
	values map[string]string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := s.values[ref]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		ref      string
		ok       bool
	}{
		{"secretref:env:ABS_TOKEN", "env", "ABS_TOKEN", true},
		{"secretref:file:/run/secrets/token", "file", "/run/secrets/token", true},
		{"secretref:env:", "", "", false},
		{"secretref::x", "", "", false},
		{"plain-token", "", "", false},
	}
	for _, tt := range tests {
		provider, ref, ok := ParseRef(tt.in)
		if provider != tt.provider || ref != tt.ref || ok != tt.ok {
			t.Errorf("ParseRef(%q) = %q, %q, %v, want %q, %q, %v", tt.in, provider, ref, ok, tt.provider, tt.ref, tt.ok)
		}
	}
}

func TestResolver_PlainValue(t *testing.T) {
	r := NewResolver(true)
	got, err := r.Resolve(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "abc123" {
		t.Errorf("Resolve() = %q, want %q", got, "abc123")
	}

	got, err = r.Resolve(context.Background(), "")
	if err != nil || got != "" {
		t.Errorf("Resolve(\"\") = %q, %v, want empty", got, err)
	}
}

func TestResolver_Env(t *testing.T) {
	t.Setenv("CATALOGOPS_TEST_TOKEN", "from-env")
	r := NewResolver(true)

	got, err := r.Resolve(context.Background(), "secretref:env:CATALOGOPS_TEST_TOKEN")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("Resolve() = %q, want %q", got, "from-env")
	}

	_, err = r.Resolve(context.Background(), "secretref:env:CATALOGOPS_TEST_UNSET")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(unset) error = %v, want ErrNotFound", err)
	}
}

func TestResolver_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(true)

	got, err := r.Resolve(context.Background(), "secretref:file:"+path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "from-file" {
		t.Errorf("Resolve() = %q, want %q", got, "from-file")
	}

	rel := NewResolver(true, FileProvider{Dir: dir})
	got, err = rel.Resolve(context.Background(), "secretref:file:token")
	if err != nil || got != "from-file" {
		t.Errorf("Resolve(relative) = %q, %v, want %q", got, err, "from-file")
	}

	_, err = r.Resolve(context.Background(), "secretref:file:"+filepath.Join(dir, "missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestResolver_ExpandsBeforeParsing(t *testing.T) {
	t.Setenv("CATALOGOPS_TEST_REF", "secretref:stub:alpha")
	r := NewResolver(true, &stubProvider{values: map[string]string{"alpha": "one"}})

	got, err := r.Resolve(context.Background(), "${CATALOGOPS_TEST_REF}")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "one" {
		t.Errorf("Resolve() = %q, want %q", got, "one")
	}
}

func TestResolver_Errors(t *testing.T) {
	r := NewResolver(true, &stubProvider{values: map[string]string{"empty": ""}})

	if _, err := r.Resolve(context.Background(), "secretref:vault:x"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v, want ErrUnknownProvider", err)
	}
	if _, err := r.Resolve(context.Background(), "secretref:stub:empty"); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty value error = %v, want ErrEmpty", err)
	}

	lenient := NewResolver(false, &stubProvider{values: map[string]string{"empty": ""}})
	if got, err := lenient.Resolve(context.Background(), "secretref:stub:empty"); err != nil || got != "" {
		t.Errorf("lenient Resolve() = %q, %v, want empty", got, err)
	}
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("CATALOGOPS_TEST_HOST", "media.local")

	got, err := ExpandEnvStrict("https://${CATALOGOPS_TEST_HOST}/$$path")
	if err != nil {
		t.Fatalf("ExpandEnvStrict() error = %v", err)
	}
	if got != "https://media.local/$path" {
		t.Errorf("ExpandEnvStrict() = %q", got)
	}

	_, err = ExpandEnvStrict("${CATALOGOPS_TEST_B} ${CATALOGOPS_TEST_A} ${CATALOGOPS_TEST_A}")
	if err == nil {
		t.Fatal("expected error for missing variables")
	}
	if !strings.Contains(err.Error(), "CATALOGOPS_TEST_A, CATALOGOPS_TEST_B") {
		t.Errorf("error = %v, want sorted unique names", err)
	}
}
