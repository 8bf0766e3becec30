package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openindexlabs/ledgerdex"
)

// Create creates a signed requester token. The issuer is the signer's
// bech32 address.
func Create(claims Claims, privatekey string) (string, error) {
	header := Header{
		Type:      "JWT",
		Algorithm: "LEDGERDEX",
	}
	headerStr, err := json.Marshal(header)
	if err != nil {
		return "", err
	}

	payloadStr, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerStr)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadStr)
	target := headerB64 + "." + payloadB64

	signatureBytes, err := ledgerdex.SignBytes([]byte(target), privatekey)
	if err != nil {
		return "", err
	}
	signatureB64 := base64.RawURLEncoding.EncodeToString(signatureBytes)

	return target + "." + signatureB64, nil
}

// Validate checks the token signature and expiry and returns the recovered
// signer public key alongside the parsed header and claims.
func Validate(token string) (*Header, *Claims, string, error) {
	split := strings.Split(token, ".")
	if len(split) != 3 {
		return nil, nil, "", fmt.Errorf("invalid jwt format")
	}

	var header Header
	headerBytes, err := base64.RawURLEncoding.DecodeString(split[0])
	if err != nil {
		return nil, nil, "", err
	}
	err = json.Unmarshal(headerBytes, &header)
	if err != nil {
		return nil, nil, "", err
	}

	if header.Type != "JWT" || header.Algorithm != "LEDGERDEX" {
		return nil, nil, "", fmt.Errorf("unsupported JWT type")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(split[1])
	if err != nil {
		return nil, nil, "", err
	}

	var claims Claims
	err = json.Unmarshal(payloadBytes, &claims)
	if err != nil {
		return nil, nil, "", err
	}

	if claims.ExpirationTime != "" {
		exp, err := strconv.ParseInt(claims.ExpirationTime, 10, 64)
		if err != nil {
			return nil, nil, "", err
		}
		if exp < time.Now().Unix() {
			return nil, nil, "", fmt.Errorf("jwt is already expired")
		}
	}

	signatureBytes, err := base64.RawURLEncoding.DecodeString(split[2])
	if err != nil {
		return nil, nil, "", err
	}

	signed := []byte(split[0] + "." + split[1])
	err = ledgerdex.VerifySignature(signed, signatureBytes, claims.Issuer)
	if err != nil {
		return nil, nil, "", err
	}

	publicKey, err := ledgerdex.RecoverPublicKey(signed, signatureBytes)
	if err != nil {
		return nil, nil, "", err
	}

	return &header, &claims, publicKey, nil
}
