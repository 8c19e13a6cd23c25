package auth

import (
	"testing"
	"time"
)

var secret = []byte("test-shared-secret")

func TestValidateHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := Issue(Identity{
		Email:       "alice@example.com",
		Room:        "r1",
		IsHost:      true,
		DisplayName: "Alice",
		Expiry:      now.Add(time.Hour),
	}, secret, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := Validate(tok, secret, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id.Email != "alice@example.com" || id.Room != "r1" || !id.IsHost || id.DisplayName != "Alice" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, _ := Issue(Identity{Email: "a@b.com", Room: "r1", DisplayName: "A", Expiry: now.Add(time.Minute)}, secret, now)

	_, err := Validate(tok, secret, now.Add(time.Hour))
	var invalid *InvalidTokenError
	if err == nil {
		t.Fatal("expected expiry error")
	}
	if !assertAs(t, err, &invalid) || invalid.Reason != ReasonExpired {
		t.Fatalf("expected ReasonExpired, got %v", err)
	}
}

func TestValidateBadSignature(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, _ := Issue(Identity{Email: "a@b.com", Room: "r1", DisplayName: "A", Expiry: now.Add(time.Hour)}, secret, now)

	_, err := Validate(tok, []byte("wrong-secret"), now)
	var invalid *InvalidTokenError
	if err == nil {
		t.Fatal("expected signature error")
	}
	if !assertAs(t, err, &invalid) || invalid.Reason != ReasonBadSignature {
		t.Fatalf("expected ReasonBadSignature, got %v", err)
	}
}

func TestValidateMissingClaims(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, _ := Issue(Identity{Room: "r1", DisplayName: "A", Expiry: now.Add(time.Hour)}, secret, now)

	_, err := Validate(tok, secret, now)
	var invalid *InvalidTokenError
	if err == nil {
		t.Fatal("expected missing-claim error")
	}
	if !assertAs(t, err, &invalid) || invalid.Reason != ReasonMissingClaim {
		t.Fatalf("expected ReasonMissingClaim, got %v", err)
	}
}

func TestValidateIsPureFunction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, _ := Issue(Identity{Email: "a@b.com", Room: "r1", DisplayName: "A", Expiry: now.Add(time.Hour)}, secret, now)

	id1, err1 := Validate(tok, secret, now)
	id2, err2 := Validate(tok, secret, now)
	if err1 != nil || err2 != nil || id1 != id2 {
		t.Fatalf("validate should be deterministic: %+v/%v vs %+v/%v", id1, err1, id2, err2)
	}
}

func assertAs(t *testing.T, err error, target **InvalidTokenError) bool {
	t.Helper()
	ite, ok := err.(*InvalidTokenError)
	if !ok {
		return false
	}
	*target = ite
	return true
}
