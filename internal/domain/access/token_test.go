package access

import (
	"errors"
	"testing"
	"time"
)

func TestTokenSigner_RoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("test-signing-key"), time.Hour)

	token, err := signer.Mint("reports/P1/R1.pdf", "P1", "R1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Key != "reports/P1/R1.pdf" || claims.PatientID != "P1" || claims.ResultID != "R1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenSigner_RejectsExpired(t *testing.T) {
	signer := NewTokenSigner([]byte("test-signing-key"), -time.Minute)

	token, err := signer.Mint("reports/P1/R1.pdf", "P1", "R1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := signer.Verify(token); !errors.Is(err, ErrLinkExpired) {
		t.Errorf("expected ErrLinkExpired, got %v", err)
	}
}

func TestTokenSigner_RejectsForeignKey(t *testing.T) {
	minter := NewTokenSigner([]byte("key-one"), time.Hour)
	verifier := NewTokenSigner([]byte("key-two"), time.Hour)

	token, err := minter.Mint("reports/P1/R1.pdf", "P1", "R1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("expected ErrLinkInvalid, got %v", err)
	}
}

func TestTokenSigner_RejectsGarbage(t *testing.T) {
	signer := NewTokenSigner([]byte("test-signing-key"), time.Hour)
	if _, err := signer.Verify("not.a.token"); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("expected ErrLinkInvalid, got %v", err)
	}
}
