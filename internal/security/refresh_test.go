package security

import "testing"

func TestNewRefreshToken(t *testing.T) {
	plain, hash, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if plain == "" || len(hash) != 64 {
		t.Fatalf("plain = %q, hash length = %d, want non-empty and 64", plain, len(hash))
	}
	if HashRefreshToken(plain) != hash {
		t.Error("hash does not match HashRefreshToken(plain)")
	}
	plain2, _, _ := NewRefreshToken()
	if plain == plain2 {
		t.Error("two refresh tokens should differ")
	}
}

func TestNewTokenID(t *testing.T) {
	a, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID: %v", err)
	}
	b, _ := NewTokenID()
	if len(a) != 32 || a == b {
		t.Errorf("token ids %q and %q should be distinct 32-char hex", a, b)
	}
}

func TestRefreshTokenHashEqual(t *testing.T) {
	stored := HashRefreshToken("refresh-1")
	if !RefreshTokenHashEqual("refresh-1", stored) {
		t.Error("matching token should compare equal")
	}
	if RefreshTokenHashEqual("refresh-2", stored) {
		t.Error("different token should not compare equal")
	}
}
