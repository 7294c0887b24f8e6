package auth

import "testing"

func TestHashAndCompare(t *testing.T) {
	hasher := NewBcryptHasher(4)
	hash, err := hasher.Hash("app-secret-1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := hasher.Compare(hash, "app-secret-1"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := hasher.Compare(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestHashRejectsEmptySecret(t *testing.T) {
	if _, err := NewBcryptHasher(4).Hash(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", 0)
	token, err := svc.GenerateToken("device-1", "voltlink-ios")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.DeviceID != "device-1" || claims.AppID != "voltlink-ios" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", 0).GenerateToken("device-1", "voltlink-ios")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenService("secret-b", 0).ValidateToken(token); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestTokenRequiresDeviceID(t *testing.T) {
	if _, err := NewTokenService("s", 0).GenerateToken("", "app"); err == nil {
		t.Fatal("expected error for empty device id")
	}
}
