package crypto

import "testing"

func TestHashVerify(t *testing.T) {
	hash, salt, err := HashPassword([]byte("s3cret"))
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if len(hash) == 0 || len(salt) == 0 {
		t.Fatalf("empty hash/salt")
	}
	if !VerifyPassword([]byte("s3cret"), salt, hash) {
		t.Fatalf("correct password rejected")
	}
	if VerifyPassword([]byte("wrong"), salt, hash) {
		t.Fatalf("wrong password accepted")
	}
}

func TestHashPassword_SaltUnique(t *testing.T) {
	_, s1, err := HashPassword([]byte("p"))
	if err != nil {
		t.Fatal(err)
	}
	_, s2, err := HashPassword([]byte("p"))
	if err != nil {
		t.Fatal(err)
	}
	if string(s1) == string(s2) {
		t.Fatalf("salts should differ")
	}
}

func TestRandBytes(t *testing.T) {
	b, err := RandBytes(16)
	if err != nil || len(b) != 16 {
		t.Fatalf("RandBytes: %v len=%d", err, len(b))
	}
}
