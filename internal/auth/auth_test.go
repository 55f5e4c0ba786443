package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256$") {
		t.Errorf("unexpected hash format %q", hash)
	}

	if !VerifyPassword(hash, "hunter2") {
		t.Error("correct password rejected")
	}
	if VerifyPassword(hash, "hunter3") {
		t.Error("wrong password accepted")
	}
	if VerifyPassword(hash, "") {
		t.Error("empty password accepted")
	}
}

func TestHashIsSalted(t *testing.T) {
	a, err := HashPassword("same")
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashPassword("same")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical, salt missing")
	}
	if !VerifyPassword(a, "same") || !VerifyPassword(b, "same") {
		t.Error("salted hashes failed to verify")
	}
}

func TestVerifyMalformed(t *testing.T) {
	malformed := []string{
		"",
		"plaintext",
		"md5$abcd$1234",
		"sha256$onlysalt",
	}
	for _, enc := range malformed {
		if VerifyPassword(enc, "anything") {
			t.Errorf("malformed hash %q verified", enc)
		}
	}
}
