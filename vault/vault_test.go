package vault

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/cloudflare/circl/blindsign/blindrsa"
	qt "github.com/frankban/quicktest"
)

func TestGenerateForTestingProducesUsableVault(t *testing.T) {
	c := qt.New(t)
	v, err := GenerateForTesting()
	c.Assert(err, qt.IsNil)
	c.Assert(v.RSAPrivateKey().N.BitLen() >= minRSABits, qt.IsTrue)
	c.Assert(v.BusPrivateKeyHex(), qt.Not(qt.Equals), "")
	c.Assert(v.BusPublicKeyHex(), qt.Not(qt.Equals), "")

	pem, err := v.PublicKeyPEM()
	c.Assert(err, qt.IsNil)
	c.Assert(pem, qt.Not(qt.Equals), "")
}

func TestSmallRSAKeyRejected(t *testing.T) {
	c := qt.New(t)
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	c.Assert(err, qt.IsNil)
	c.Assert(priv.N.BitLen() < minRSABits, qt.IsTrue)

	blob := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	t.Setenv("EC_PRIVATE_KEY", string(blob))
	_, err = Load(t.TempDir())
	c.Assert(err, qt.ErrorMatches, ".*RSA key too small.*")
}

// blindMessage mirrors the voter-side half of the blind-RSA protocol
// that vault/vaulttest exposes to other packages; duplicated narrowly
// here rather than imported to avoid a vault <-> vaulttest import
// cycle from this package's own internal tests.
func blindMessage(pub *rsa.PublicKey, h []byte) ([]byte, blindrsa.VerifierState, error) {
	verifier, err := blindrsa.NewVerifier(Mode, pub)
	if err != nil {
		return nil, blindrsa.VerifierState{}, err
	}
	return verifier.Blind(rand.Reader, h)
}

// TestBlindSignRoundTrip exercises a full blind-RSA issuance and
// verification cycle: a voter blinds a message, the EC signs it blind,
// the voter finalizes into a token, and the token verifies against the
// EC's public key without either side learning the other's secret.
func TestBlindSignRoundTrip(t *testing.T) {
	c := qt.New(t)
	v, err := GenerateForTesting()
	c.Assert(err, qt.IsNil)

	signer := v.Signer()
	hash := sha256.Sum256([]byte("voter-credential-fingerprint"))
	h := hash[:]

	blinded, state, err := blindMessage(signer.PublicKey(), h)
	c.Assert(err, qt.IsNil)

	blindSig, err := signer.BlindSign(blinded)
	c.Assert(err, qt.IsNil)

	token, err := state.Finalize(blindSig)
	c.Assert(err, qt.IsNil)

	c.Assert(VerifyToken(signer.PublicKey(), h, token), qt.IsNil)
}

func TestBlindSignRoundTripRejectsWrongMessage(t *testing.T) {
	c := qt.New(t)
	v, err := GenerateForTesting()
	c.Assert(err, qt.IsNil)

	signer := v.Signer()
	hash := sha256.Sum256([]byte("voter-credential-fingerprint"))
	h := hash[:]
	other := sha256.Sum256([]byte("a different message entirely"))

	blinded, state, err := blindMessage(signer.PublicKey(), h)
	c.Assert(err, qt.IsNil)

	blindSig, err := signer.BlindSign(blinded)
	c.Assert(err, qt.IsNil)

	token, err := state.Finalize(blindSig)
	c.Assert(err, qt.IsNil)

	c.Assert(VerifyToken(signer.PublicKey(), other[:], token), qt.IsNotNil)
}
