package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if hash == "s3cret!" {
		t.Fatal("expected hash to differ from plaintext")
	}
	if !CheckPassword("s3cret!", hash) {
		t.Error("expected password to match")
	}
	if CheckPassword("wrong", hash) {
		t.Error("expected wrong password to fail")
	}
	if CheckPassword("s3cret!", "not-a-bcrypt-hash") {
		t.Error("expected malformed hash to fail")
	}
}
