// Package vault loads the EC's long-lived key material at startup: the
// RSA key pair used for blind signing, and the Nostr secp256k1 identity
// used to speak to the bus. Both are read-only after load.
//
// Grounded on the teacher's crypto/ethereum key-import shape
// (NewSignKeys/AddHexKey/HexString: generate-or-import a hex key,
// expose it read-only) generalized to RSA plus a nostr identity.
package vault

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/criptocracia/ec-core/log"
)

const minRSABits = 2048

// Vault holds the EC's private key material. Safe for concurrent
// read-only use once loaded.
type Vault struct {
	rsaPriv   *rsa.PrivateKey
	busPriv   string // hex, 32 bytes
	busPubkey string // hex, 32 bytes
}

// Load reads the RSA key pair from EC_PRIVATE_KEY/EC_PUBLIC_KEY (or the
// dataDir fallback files) and the bus identity from NOSTR_PRIVATE_KEY.
// It is fatal (per spec) for either to be missing or malformed.
func Load(dataDir string) (*Vault, error) {
	priv, err := loadRSAPrivateKey(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load RSA key pair: %w", err)
	}
	if priv.N.BitLen() < minRSABits {
		return nil, fmt.Errorf("RSA key too small: %d bits, need >= %d", priv.N.BitLen(), minRSABits)
	}
	if err := checkConfiguredPublicKey(dataDir, &priv.PublicKey); err != nil {
		return nil, fmt.Errorf("check configured RSA public key: %w", err)
	}

	busHex := os.Getenv("NOSTR_PRIVATE_KEY")
	if busHex == "" {
		return nil, fmt.Errorf("NOSTR_PRIVATE_KEY is required")
	}
	// Accept either raw hex or nsec-encoded keys, mirroring the
	// nip19.Decode usage in the qube-manager bus daemon.
	skHex := busHex
	if len(busHex) > 4 && busHex[:4] == "nsec" {
		_, data, err := nip19.Decode(busHex)
		if err != nil {
			return nil, fmt.Errorf("invalid nsec bus key: %w", err)
		}
		skHex, _ = data.(string)
	}
	pub, err := nostrPublicKey(skHex)
	if err != nil {
		return nil, fmt.Errorf("derive bus identity: %w", err)
	}

	log.Infow("vault loaded", "rsaBits", priv.N.BitLen(), "busPubkey", pub)
	return &Vault{rsaPriv: priv, busPriv: skHex, busPubkey: pub}, nil
}

func loadRSAPrivateKey(dataDir string) (*rsa.PrivateKey, error) {
	if blob := os.Getenv("EC_PRIVATE_KEY"); blob != "" {
		return parseRSAPrivatePEM([]byte(blob))
	}
	path := filepath.Join(dataDir, "ec_private.pem")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseRSAPrivatePEM(data)
}

// checkConfiguredPublicKey loads the RSA public key from
// EC_PUBLIC_KEY (or dataDir's ec_public.pem fallback) when present and
// cross-checks it against the public half of the loaded private key.
// Neither source is required: the public key is always derivable from
// the private key, so this only guards against a stale or mismatched
// file being deployed alongside a rotated private key.
func checkConfiguredPublicKey(dataDir string, derived *rsa.PublicKey) error {
	data, err := readConfiguredPublicKey(dataDir)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("configured public key is not RSA")
	}
	if !rsaPub.Equal(derived) {
		return fmt.Errorf("configured public key does not match the loaded private key")
	}
	return nil
}

func readConfiguredPublicKey(dataDir string) ([]byte, error) {
	if blob := os.Getenv("EC_PUBLIC_KEY"); blob != "" {
		return []byte(blob), nil
	}
	path := filepath.Join(dataDir, "ec_public.pem")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func parseRSAPrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// PublicKeyPEM returns the RSA public key serialized as PEM, suitable
// for embedding in Announcement events so clients can verify tokens
// without an out-of-band lookup.
func (v *Vault) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&v.rsaPriv.PublicKey)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// RSAPrivateKey returns the loaded RSA private key. The Signer
// returned by Signer reads the key directly, not through this
// accessor. It never leaves this process.
func (v *Vault) RSAPrivateKey() *rsa.PrivateKey { return v.rsaPriv }

// BusPrivateKeyHex returns the hex-encoded secp256k1 private key used
// to sign and authenticate on the Nostr bus.
func (v *Vault) BusPrivateKeyHex() string { return v.busPriv }

// BusPublicKeyHex returns the hex-encoded public key identifying this
// EC instance on the bus.
func (v *Vault) BusPublicKeyHex() string { return v.busPubkey }

// GenerateForTesting creates a throwaway vault with a fresh RSA key
// pair and bus identity, for unit tests that don't want to touch the
// filesystem or environment.
func GenerateForTesting() (*Vault, error) {
	priv, err := rsa.GenerateKey(rand.Reader, minRSABits)
	if err != nil {
		return nil, err
	}
	skHex := randomHex32()
	pub, err := nostrPublicKey(skHex)
	if err != nil {
		return nil, err
	}
	return &Vault{rsaPriv: priv, busPriv: skHex, busPubkey: pub}, nil
}
