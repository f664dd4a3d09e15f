package pairing

import (
	"testing"
	"time"
)

func TestGenerateCodeThenExchangeYieldsValidToken(t *testing.T) {
	m := New()

	code, err := m.GenerateCode("Sarah's laptop")
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	if len(code.Code) != CodeLength {
		t.Fatalf("expected a %d-character code, got %q", CodeLength, code.Code)
	}

	token, err := m.ExchangeCode(code.Code, "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token == "" {
		t.Fatalf("expected a non-empty token")
	}

	if !m.ValidateToken(token) {
		t.Fatalf("expected the exchanged token to validate")
	}
}

func TestExchangeCodeIsOneShot(t *testing.T) {
	m := New()

	code, _ := m.GenerateCode("")
	if _, err := m.ExchangeCode(code.Code, ""); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, err := m.ExchangeCode(code.Code, ""); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound on re-exchange, got %v", err)
	}
}

func TestExchangeCodeRejectsExpiredCode(t *testing.T) {
	m := NewWithTTLs(time.Millisecond, DefaultTokenTTL)

	code, _ := m.GenerateCode("")
	time.Sleep(5 * time.Millisecond)

	if _, err := m.ExchangeCode(code.Code, ""); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound for expired code, got %v", err)
	}
}

func TestValidateTokenRejectsUnknownToken(t *testing.T) {
	m := New()
	if m.ValidateToken("not-a-real-token") {
		t.Fatalf("expected an unknown token to be rejected")
	}
}

func TestRevokeTokenInvalidatesIt(t *testing.T) {
	m := New()
	code, _ := m.GenerateCode("")
	token, _ := m.ExchangeCode(code.Code, "")

	if !m.RevokeToken(token) {
		t.Fatalf("expected RevokeToken to find the token")
	}
	if m.ValidateToken(token) {
		t.Fatalf("expected token to no longer validate after revocation")
	}
	if m.RevokeToken(token) {
		t.Fatalf("expected a second revoke of the same token to report false")
	}
}

func TestRevokeCodeBeforeExchange(t *testing.T) {
	m := New()
	code, _ := m.GenerateCode("")

	if !m.RevokeCode(code.Code) {
		t.Fatalf("expected RevokeCode to find the code")
	}
	if _, err := m.ExchangeCode(code.Code, ""); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound after revocation, got %v", err)
	}
}

func TestStatsReflectsCodesAndClients(t *testing.T) {
	m := New()
	if _, err := m.GenerateCode("a"); err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	code2, _ := m.GenerateCode("b")
	if _, err := m.ExchangeCode(code2.Code, ""); err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	stats := m.Stats()
	if stats.ActiveCodes != 1 {
		t.Fatalf("expected 1 active code, got %d", stats.ActiveCodes)
	}
	if stats.PairedClients != 1 {
		t.Fatalf("expected 1 paired client, got %d", stats.PairedClients)
	}
}

func TestListCodesAndListClients(t *testing.T) {
	m := New()
	code, _ := m.GenerateCode("labelled")

	codes := m.ListCodes()
	if len(codes) != 1 || codes[0].Code != code.Code {
		t.Fatalf("expected ListCodes to return the generated code, got %+v", codes)
	}

	token, _ := m.ExchangeCode(code.Code, "override")
	_ = token

	clients := m.ListClients()
	if len(clients) != 1 || clients[0].Label != "override" {
		t.Fatalf("expected ListClients to return the override label, got %+v", clients)
	}
	if len(m.ListCodes()) != 0 {
		t.Fatalf("expected no active codes after exchange")
	}
}
