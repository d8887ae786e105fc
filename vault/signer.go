package vault

import (
	"crypto/rsa"

	"github.com/cloudflare/circl/blindsign/blindrsa"
)

// Mode is the blind-RSA finalization scheme in use across the EC;
// fixed so the EC and every client agree without negotiation.
const Mode = blindrsa.SHA384PSSRandomized

// Signer is the narrow interface the Protocol Engine's issuance
// handler depends on: one method to blind-sign, one to fetch the
// public half. Lifetime is the process lifetime; the private key
// never crosses this boundary.
type Signer interface {
	BlindSign(blinded []byte) ([]byte, error)
	PublicKey() *rsa.PublicKey
}

type rsaSigner struct {
	priv   *rsa.PrivateKey
	signer blindrsa.Signer
}

// Signer returns v's blind-signing capability.
func (v *Vault) Signer() Signer {
	return &rsaSigner{priv: v.rsaPriv, signer: blindrsa.NewSigner(v.rsaPriv)}
}

func (s *rsaSigner) BlindSign(blinded []byte) ([]byte, error) {
	return s.signer.BlindSign(blinded)
}

func (s *rsaSigner) PublicKey() *rsa.PublicKey {
	return &s.priv.PublicKey
}

// VerifyToken checks a finalized blind-RSA signature token over
// message h against pub. The ballot's randomizer field is checked to be
// non-empty by the caller but plays no role here: once Finalize has produced token,
// verification is an ordinary RSA-PSS check over h with no remaining
// dependency on the blinding factor.
func VerifyToken(pub *rsa.PublicKey, h, token []byte) error {
	verifier, err := blindrsa.NewVerifier(Mode, pub)
	if err != nil {
		return err
	}
	return verifier.Verify(h, token)
}
