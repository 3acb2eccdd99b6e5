package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"stablevault/crypto"
)

func TestKeygenAndAddress(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "op.keystore")
	var out bytes.Buffer
	if err := runKeygen([]string{"-keystore", path}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	generated := strings.TrimSpace(out.String())
	if !strings.HasPrefix(generated, string(crypto.AccountPrefix)+"1") {
		t.Fatalf("unexpected address %q", generated)
	}
	if err := runKeygen([]string{"-keystore", path}, &out); err == nil {
		t.Fatalf("expected existing keystore to be protected")
	}

	out.Reset()
	if err := runAddress([]string{"-keystore", path}, &out); err != nil {
		t.Fatalf("address: %v", err)
	}
	if strings.TrimSpace(out.String()) != generated {
		t.Fatalf("address mismatch: %q vs %q", out.String(), generated)
	}
}

func TestTokenForSubject(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cdpd.toml")
	contents := "[auth]\nhmac_secret = \"abc\"\n\n[[assets]]\nsymbol = \"WETH\"\n"
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	raw := make([]byte, crypto.AddressLength)
	subject := crypto.NewAddress(crypto.AccountPrefix, raw).String()
	var out bytes.Buffer
	if err := runToken([]string{"-config", cfgPath, "-subject", subject, "-scopes", "cdp:write,oracle:write"}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Fatalf("expected a compact JWT, got %q", out.String())
	}
	if err := runToken([]string{"-config", cfgPath}, &out); err == nil {
		t.Fatalf("expected missing subject to fail")
	}
}

func TestTokenUsesConfiguredScopeClaim(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cdpd.toml")
	contents := "[auth]\nhmac_secret = \"abc\"\nscope_claim = \"permissions\"\n\n[[assets]]\nsymbol = \"WETH\"\n"
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	subject := crypto.NewAddress(crypto.AccountPrefix, make([]byte, crypto.AddressLength)).String()
	var out bytes.Buffer
	if err := runToken([]string{"-config", cfgPath, "-subject", subject, "-scopes", "cdp:write"}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (any, error) {
		return []byte("abc"), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims["permissions"] != "cdp:write" {
		t.Fatalf("expected scopes under the configured claim, got %v", claims)
	}
	if _, ok := claims["scope"]; ok {
		t.Fatalf("default scope claim should not be set")
	}
}

func TestAssetAddressCommand(t *testing.T) {
	var out bytes.Buffer
	if err := runAssetAddress([]string{"-symbol", "weth"}, &out); err != nil {
		t.Fatalf("asset-address: %v", err)
	}
	if strings.TrimSpace(out.String()) != crypto.AssetAddress("WETH").String() {
		t.Fatalf("unexpected asset address %q", out.String())
	}
	if got := splitScopes("a, b c"); len(got) != 3 {
		t.Fatalf("unexpected scopes %v", got)
	}
}
