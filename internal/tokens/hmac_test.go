package tokens

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/Stage/internal/domain"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	mock := clock.NewMock()
	issuer := NewHMACIssuer("secret", DefaultTTL, mock)

	tok, minted, err := issuer.Mint("room-1", domain.RoleViewer, "Alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Room != "room-1" || claims.Role != domain.RoleViewer || claims.Name != "Alice" {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.Identity != minted.Identity || claims.Identity == "" {
		t.Errorf("identity mismatch: %q vs %q", claims.Identity, minted.Identity)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer := NewHMACIssuer("secret", DefaultTTL, clock.NewMock())
	tok, _, err := issuer.Mint("room-1", domain.RolePresenter, "Pat")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	body, sig, _ := strings.Cut(tok, ".")
	tampered := body + "x." + sig
	if _, err := issuer.Verify(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}

	other := NewHMACIssuer("different", DefaultTTL, clock.NewMock())
	if _, err := other.Verify(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid with wrong secret, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	mock := clock.NewMock()
	issuer := NewHMACIssuer("secret", time.Minute, mock)
	tok, _, err := issuer.Mint("room-1", domain.RoleViewer, "Alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	mock.Add(2 * time.Minute)
	if _, err := issuer.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestMintValidatesInput(t *testing.T) {
	issuer := NewHMACIssuer("secret", DefaultTTL, clock.NewMock())
	if _, _, err := issuer.Mint("", domain.RoleViewer, "Alice"); err == nil {
		t.Error("expected error for empty room")
	}
	if _, _, err := issuer.Mint("room-1", "admin", "Alice"); err == nil {
		t.Error("expected error for unknown role")
	}
}
