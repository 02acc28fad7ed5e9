// Package authsig implements the request-envelope authentication of
// spec.md §6: every mutating API request is signed over a canonical
// string and verified against the caller's claimed address before it ever
// reaches the executor. Grounded on pkg/crypto/signer.go's
// Sign/VerifySignature (ECDSA/secp256k1, the same stack
// used for chain-transaction signing) and
// pkg/app/core/transaction/verifier.go's parse-then-verify request
// structure, adapted from EIP-712 typed-data hashing to a flat canonical
// string. Deliberately never imported by pkg/executor: authentication is
// an API-boundary concern, not something the core matching/ledger logic
// needs to know exists.
package authsig

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/lumendark/darkpool/pkg/crypto"
	"github.com/lumendark/darkpool/pkg/types"
)

// ErrTimestampSkew is returned when a request's timestamp falls outside
// the configured skew window of the server's clock.
var ErrTimestampSkew = errors.New("authsig: timestamp outside skew window")

// ErrSignatureMismatch is returned when the recovered signer does not
// match the address the request claims.
var ErrSignatureMismatch = errors.New("authsig: signature does not match claimed address")

// Envelope is the parsed authentication headers of one request.
type Envelope struct {
	Address   types.Address
	Timestamp int64 // unix seconds
	Signature []byte
}

// CanonicalString builds "{METHOD}|{PATH}|{SHA256(body)}|{TIMESTAMP}",
// spec.md §6's exact signing payload. SHA256(body) is hex-encoded so the
// canonical string is itself a plain ASCII string suitable for hashing
// again before ECDSA signing.
func CanonicalString(method, path string, body []byte, timestamp int64) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s|%s|%s|%d", method, path, hex.EncodeToString(sum[:]), timestamp)
}

// Verify checks that env.Signature was produced by env.Address over the
// canonical string for (method, path, body, env.Timestamp), and that
// env.Timestamp falls within skew of now.
func Verify(env Envelope, method, path string, body []byte, now time.Time, skew time.Duration) error {
	delta := now.Sub(time.Unix(env.Timestamp, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return ErrTimestampSkew
	}

	canonical := CanonicalString(method, path, body, env.Timestamp)
	hash := ethcrypto.Keccak256Hash([]byte(canonical)).Bytes()
	if !crypto.VerifySignature(env.Address, hash, env.Signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign produces the signature a client attaches to a request. Exposed for
// use by tests and any first-party client/tooling; the coordinator itself
// never signs outgoing API requests.
func Sign(signer *crypto.Signer, method, path string, body []byte, timestamp int64) ([]byte, error) {
	canonical := CanonicalString(method, path, body, timestamp)
	return signer.SignMessage([]byte(canonical))
}
