package crypto

import (
	"encoding/json"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	raw[19] = 0x42
	addr := NewAddress(AccountPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
	if decoded.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %s", decoded.Prefix())
	}
}

func TestAddressUsableAsMapKey(t *testing.T) {
	raw := make([]byte, AddressLength)
	raw[0] = 1
	a := NewAddress(AssetPrefix, raw)
	b := NewAddress(AssetPrefix, append([]byte(nil), raw...))
	index := map[Address]int{a: 7}
	if index[b] != 7 {
		t.Fatalf("expected equal addresses to share a map slot")
	}
	if a == NewAddress(AccountPrefix, raw) {
		t.Fatalf("prefix must participate in equality")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	if ModuleAddress("cdp") != ModuleAddress(" cdp ") {
		t.Fatalf("module address should ignore surrounding whitespace")
	}
	if ModuleAddress("cdp") == ModuleAddress("bank") {
		t.Fatalf("distinct modules must not collide")
	}
}

func TestAddressJSON(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	payload, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Address
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != addr {
		t.Fatalf("json round trip mismatch")
	}
	if _, err := DecodeAddress(""); err == nil {
		t.Fatalf("expected empty address to fail")
	}
}
