package jwt

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openindexlabs/ledgerdex"
)

const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestCreateValidateRoundTrip(t *testing.T) {
	addr, err := ledgerdex.PrivKeyToAddr(testPrivKey, ledgerdex.AddressPrefix)
	if err != nil {
		t.Fatal(err)
	}

	token, err := Create(Claims{
		Issuer:         addr,
		Subject:        "ledgerdex",
		ExpirationTime: strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}, testPrivKey)
	if err != nil {
		t.Fatal(err)
	}

	_, claims, publicKey, err := Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Issuer != addr {
		t.Errorf("issuer: %s", claims.Issuer)
	}
	if publicKey == "" {
		t.Error("expected recovered public key")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	addr, _ := ledgerdex.PrivKeyToAddr(testPrivKey, ledgerdex.AddressPrefix)
	token, err := Create(Claims{
		Issuer:         addr,
		ExpirationTime: strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10),
	}, testPrivKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := Validate(token); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestValidateRejectsTampered(t *testing.T) {
	addr, _ := ledgerdex.PrivKeyToAddr(testPrivKey, ledgerdex.AddressPrefix)
	token, err := Create(Claims{Issuer: addr}, testPrivKey)
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	parts[1] = "eyJpc3MiOiJsZHgxZm9yZ2VkIn0"
	if _, _, _, err := Validate(strings.Join(parts, ".")); err == nil {
		t.Error("tampered payload must be rejected")
	}

	if _, _, _, err := Validate("not.a"); err == nil {
		t.Error("malformed token must be rejected")
	}
}
