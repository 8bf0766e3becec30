package ledgerdex

import (
	"encoding/hex"
	"fmt"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the bech32 human readable part of signer addresses.
const AddressPrefix = "ldx"

// GetHash returns the keccak256 digest used for payload signing.
func GetHash(b []byte) []byte {
	return crypto.Keccak256(b)
}

// SignBytes signs a payload with a hex-encoded secp256k1 private key.
func SignBytes(b []byte, privHex string) ([]byte, error) {
	key, err := crypto.HexToECDSA(privHex)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(GetHash(b), key)
}

// PubKeyToAddr converts a hex-encoded uncompressed public key into a bech32
// address with the given prefix.
func PubKeyToAddr(pubHex string, prefix string) (string, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return "", fmt.Errorf("invalid public key encoding: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	return bech32.ConvertAndEncode(prefix, addr.Bytes())
}

// PrivKeyToAddr derives the bech32 address of a hex private key.
func PrivKeyToAddr(privHex string, prefix string) (string, error) {
	key, err := crypto.HexToECDSA(privHex)
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return bech32.ConvertAndEncode(prefix, addr.Bytes())
}

// VerifySignature checks that sig is a valid recoverable signature over
// message and that the recovered key maps to the expected bech32 address.
func VerifySignature(message []byte, sig []byte, address string) error {
	if len(sig) != 65 {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}
	pub, err := crypto.SigToPub(GetHash(message), sig)
	if err != nil {
		return fmt.Errorf("signature recovery failed: %w", err)
	}
	recovered, err := bech32.ConvertAndEncode(AddressPrefix, crypto.PubkeyToAddress(*pub).Bytes())
	if err != nil {
		return err
	}
	if recovered != address {
		return fmt.Errorf("signer mismatch: recovered %s, expected %s", recovered, address)
	}
	return nil
}

// RecoverPublicKey returns the hex-encoded uncompressed public key that
// produced sig over message.
func RecoverPublicKey(message []byte, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("invalid signature length: %d", len(sig))
	}
	pub, err := crypto.SigToPub(GetHash(message), sig)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSAPub(pub)), nil
}
