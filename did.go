package ledgerdex

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const didPrefix = "did:ldx:"

// DIDFromTxID derives the DID of a ledger-anchored entity from the
// transaction that created it.
func DIDFromTxID(txid string) string {
	return didPrefix + txid
}

// DIDFromPublicKey derives a stable identity DID from a public key. Used for
// creators and organizations, whose identity outlives any single transaction.
func DIDFromPublicKey(publicKey string) string {
	sum := sha3.Sum256([]byte(publicKey))
	return didPrefix + "key:" + hex.EncodeToString(sum[:])
}

// IsDID reports whether s looks like one of our DIDs.
func IsDID(s string) bool {
	return strings.HasPrefix(s, didPrefix) && len(s) > len(didPrefix)
}

// TxIDFromDID extracts the transaction id from a transaction-derived DID.
// Returns "" for key-derived DIDs.
func TxIDFromDID(did string) string {
	rest := strings.TrimPrefix(did, didPrefix)
	if rest == did || strings.HasPrefix(rest, "key:") {
		return ""
	}
	return rest
}
