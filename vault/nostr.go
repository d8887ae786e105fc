package vault

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/nbd-wtf/go-nostr"
)

func nostrPublicKey(skHex string) (string, error) {
	return nostr.GetPublicKey(skHex)
}

func randomHex32() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
