// Package ethereum provides the hashing primitive the EC core uses to
// derive deterministic election identifiers, adapted from the
// teacher's crypto/ethereum.HashRaw helper (there used to fingerprint
// census metadata).
package ethereum

import gethcrypto "github.com/ethereum/go-ethereum/crypto"

// HashRaw returns the Keccak-256 digest of data.
func HashRaw(data []byte) []byte {
	return gethcrypto.Keccak256(data)
}
