package secrets

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	digest, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(digest, "$2") {
		t.Fatalf("digest is not self-describing bcrypt: %s", digest)
	}
	if err := Verify("correct horse battery staple", digest); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify("incorrect horse", digest); err != ErrMismatch {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestVerifyMutatedDigest(t *testing.T) {
	digest, err := Hash("secret-value")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	// Flip one character in the hash body; any mutation must fail verification.
	raw := []byte(digest)
	i := len(raw) - 1
	if raw[i] == 'a' {
		raw[i] = 'b'
	} else {
		raw[i] = 'a'
	}
	if err := Verify("secret-value", string(raw)); err != ErrMismatch {
		t.Fatalf("expected ErrMismatch for mutated digest, got %v", err)
	}
}

func TestVerifyEmptyDigest(t *testing.T) {
	if err := Verify("anything", ""); err != ErrMismatch {
		t.Fatalf("empty digest must never verify, got %v", err)
	}
}

func TestHashEmptySecret(t *testing.T) {
	if _, err := Hash(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestGenerate(t *testing.T) {
	a, err := Generate(32)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(32)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a == b {
		t.Fatal("two generated secrets must not collide")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("secret is not URL-safe: %s", a)
	}
	if _, err := Generate(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestEqual(t *testing.T) {
	if !Equal("abc", "abc") {
		t.Fatal("identical strings must compare equal")
	}
	if Equal("abc", "abd") || Equal("abc", "abcd") {
		t.Fatal("different strings must not compare equal")
	}
}
