// Package vaulttest exposes the voter-side half of the blind-RSA
// protocol for tests that need to drive both ends of an issuance: a
// voter blinds a credential fingerprint, the EC signs it blind (via
// vault.Signer), and the voter finalizes into a token it can present
// as a ballot. Kept out of package vault itself so this test-only
// surface never ships in the production ec binary.
package vaulttest

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/cloudflare/circl/blindsign/blindrsa"

	"github.com/criptocracia/ec-core/vault"
)

// ClientState holds the blinding factor between Blind and Finalize.
type ClientState struct {
	inner blindrsa.VerifierState
}

// BlindMessage blinds h under pub, returning the value to send to the
// EC for signing and the state needed to finalize the reply.
func BlindMessage(pub *rsa.PublicKey, h []byte) (blinded []byte, state ClientState, err error) {
	verifier, err := blindrsa.NewVerifier(vault.Mode, pub)
	if err != nil {
		return nil, ClientState{}, err
	}
	blinded, vstate, err := verifier.Blind(rand.Reader, h)
	if err != nil {
		return nil, ClientState{}, err
	}
	return blinded, ClientState{inner: vstate}, nil
}

// FinalizeToken unblinds a blind signature into a token verifiable
// directly against pub and h.
func (s ClientState) FinalizeToken(blindSig []byte) ([]byte, error) {
	return s.inner.Finalize(blindSig)
}
