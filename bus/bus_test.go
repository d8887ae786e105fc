package bus

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	qt "github.com/frankban/quicktest"
)

// TestGiftWrapUnwrapRoundTrip exercises NIP-59 end to end without any
// relay: a sender gift-wraps a rumor for a recipient, and the recipient
// unwraps it back to the original content.
func TestGiftWrapUnwrapRoundTrip(t *testing.T) {
	c := qt.New(t)

	senderPriv := nostr.GeneratePrivateKey()
	senderPub, err := nostr.GetPublicKey(senderPriv)
	c.Assert(err, qt.IsNil)

	recipientPriv := nostr.GeneratePrivateKey()
	recipientPub, err := nostr.GetPublicKey(recipientPriv)
	c.Assert(err, qt.IsNil)

	sender := &Client{privkey: senderPriv, pubkey: senderPub}
	recipient := &Client{privkey: recipientPriv, pubkey: recipientPub}

	rumor := nostr.Event{Kind: 14, Content: `{"hello":"world"}`}
	wrap, err := sender.GiftWrap(rumor, recipientPub)
	c.Assert(err, qt.IsNil)
	c.Assert(wrap.Kind, qt.Equals, 1059)

	ok, err := wrap.CheckSignature()
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	got, err := recipient.Unwrap(wrap)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Content, qt.Equals, rumor.Content)
	c.Assert(got.PubKey, qt.Equals, senderPub)
}

func TestUnwrapFailsForWrongRecipient(t *testing.T) {
	c := qt.New(t)

	senderPriv := nostr.GeneratePrivateKey()
	senderPub, _ := nostr.GetPublicKey(senderPriv)
	recipientPriv := nostr.GeneratePrivateKey()
	recipientPub, _ := nostr.GetPublicKey(recipientPriv)
	eavesdropperPriv := nostr.GeneratePrivateKey()
	eavesdropperPub, _ := nostr.GetPublicKey(eavesdropperPriv)

	sender := &Client{privkey: senderPriv, pubkey: senderPub}
	eavesdropper := &Client{privkey: eavesdropperPriv, pubkey: eavesdropperPub}

	rumor := nostr.Event{Kind: 14, Content: "secret"}
	wrap, err := sender.GiftWrap(rumor, recipientPub)
	c.Assert(err, qt.IsNil)

	_, err = eavesdropper.Unwrap(wrap)
	c.Assert(err, qt.IsNotNil)
}
