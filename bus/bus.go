// Package bus wraps the Nostr relay pool the Protocol Engine and
// Publisher both speak over: plain addressable-event publication for
// announcements and tallies, and NIP-59 gift-wrapped delivery for the
// issuance/ballot protocol that must not leak sender identity to
// relay operators.
//
// Grounded on the qube-manager and nophr sync-engine daemons' use of
// nbd-wtf/go-nostr's SimplePool/RelayConnect and Event.Sign, extended
// with that same module's nip44 encryption subpackage to build the
// rumor/seal/gift-wrap envelopes NIP-59 describes.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/criptocracia/ec-core/log"
)

// PublishTimeout bounds a single publish attempt to one relay.
const PublishTimeout = 10 * time.Second

// Client is a thin handle on a set of relays and this process's own
// Nostr identity, shared by the Protocol Engine (ingress/replies) and
// the Publisher (announcements/tallies).
type Client struct {
	privkey string
	pubkey  string
	relays  []string
	pool    *nostr.SimplePool
}

// New connects a SimplePool to relays using privkeyHex as this
// process's signing identity.
func New(ctx context.Context, privkeyHex string, relays []string) (*Client, error) {
	pubkey, err := nostr.GetPublicKey(privkeyHex)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	pool := nostr.NewSimplePool(ctx)
	return &Client{privkey: privkeyHex, pubkey: pubkey, relays: relays, pool: pool}, nil
}

// PublicKey returns this client's hex-encoded identity.
func (c *Client) PublicKey() string { return c.pubkey }

// Subscribe opens a long-lived subscription across every configured
// relay and returns the merged event stream; it closes when ctx is
// cancelled.
func (c *Client) Subscribe(ctx context.Context, filter nostr.Filter) <-chan nostr.RelayEvent {
	return c.pool.SubMany(ctx, c.relays, nostr.Filters{filter})
}

// Publish signs evt with this client's identity and best-effort
// publishes it to every configured relay. It returns nil if at least
// one relay accepted the event, otherwise the last error encountered
// (callers typically wrap this in a retry policy).
func (c *Client) Publish(ctx context.Context, evt nostr.Event) error {
	if err := evt.Sign(c.privkey); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	var lastErr error
	ok := 0
	for _, url := range c.relays {
		pctx, cancel := context.WithTimeout(ctx, PublishTimeout)
		relay, err := nostr.RelayConnect(pctx, url)
		if err != nil {
			lastErr = err
			log.Warnw("relay connect failed", "relay", url, "error", err.Error())
			cancel()
			continue
		}
		err = relay.Publish(pctx, evt)
		cancel()
		if err != nil {
			lastErr = err
			log.Warnw("relay publish failed", "relay", url, "error", err.Error())
			continue
		}
		ok++
	}
	if ok == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no relays configured")
		}
		return lastErr
	}
	return nil
}

// GiftWrap seals rumor (an unsigned, kind-arbitrary event describing
// the actual message) for recipientPubkey per NIP-59: the rumor is
// encrypted into a signed kind-13 seal under the sender's real
// identity, which is itself encrypted into a kind-1059 gift wrap
// signed by a disposable one-time key so relay operators cannot
// correlate sender or recipient.
func (c *Client) GiftWrap(rumor nostr.Event, recipientPubkey string) (nostr.Event, error) {
	rumor.PubKey = c.pubkey
	if rumor.CreatedAt == 0 {
		rumor.CreatedAt = nostr.Now()
	}
	rumor.ID = rumor.GetID()

	sealContent, err := encryptTo(rumor, c.privkey, recipientPubkey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("seal rumor: %w", err)
	}
	seal := nostr.Event{
		PubKey:    c.pubkey,
		CreatedAt: nostr.Now(),
		Kind:      13,
		Content:   sealContent,
	}
	if err := seal.Sign(c.privkey); err != nil {
		return nostr.Event{}, fmt.Errorf("sign seal: %w", err)
	}

	ephemeralPriv := nostr.GeneratePrivateKey()
	wrapContent, err := encryptTo(seal, ephemeralPriv, recipientPubkey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("wrap seal: %w", err)
	}
	wrap := nostr.Event{
		CreatedAt: randomizedTimestamp(),
		Kind:      1059,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
		Content:   wrapContent,
	}
	if err := wrap.Sign(ephemeralPriv); err != nil {
		return nostr.Event{}, fmt.Errorf("sign gift wrap: %w", err)
	}
	return wrap, nil
}

// Unwrap reverses GiftWrap: it decrypts the seal with this client's
// own identity, verifies the seal's signature, and returns the inner
// rumor. Any failure (wrong recipient, tampered seal, bad signature)
// is reported so the caller can silently drop the envelope.
func (c *Client) Unwrap(wrap nostr.Event) (nostr.Event, error) {
	sealJSON, err := decryptFrom(wrap.Content, c.privkey, wrap.PubKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decrypt seal: %w", err)
	}
	var seal nostr.Event
	if err := seal.UnmarshalJSON([]byte(sealJSON)); err != nil {
		return nostr.Event{}, fmt.Errorf("unmarshal seal: %w", err)
	}
	ok, err := seal.CheckSignature()
	if err != nil || !ok {
		return nostr.Event{}, fmt.Errorf("seal signature invalid")
	}

	rumorJSON, err := decryptFrom(seal.Content, c.privkey, seal.PubKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decrypt rumor: %w", err)
	}
	var rumor nostr.Event
	if err := rumor.UnmarshalJSON([]byte(rumorJSON)); err != nil {
		return nostr.Event{}, fmt.Errorf("unmarshal rumor: %w", err)
	}
	if rumor.PubKey != seal.PubKey {
		return nostr.Event{}, fmt.Errorf("rumor/seal identity mismatch")
	}
	return rumor, nil
}

func encryptTo(evt nostr.Event, senderPriv, recipientPub string) (string, error) {
	key, err := nip44.GenerateConversationKey(recipientPub, senderPriv)
	if err != nil {
		return "", err
	}
	raw, err := evt.MarshalJSON()
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(string(raw), key)
}

func decryptFrom(ciphertext, receiverPriv, senderPub string) (string, error) {
	key, err := nip44.GenerateConversationKey(senderPub, receiverPriv)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(ciphertext, key)
}

// randomizedTimestamp returns a timestamp randomized up to two days
// into the past, as NIP-59 recommends for the outer gift wrap so its
// created_at cannot be used to correlate delivery time with the
// rumor's real timestamp.
func randomizedTimestamp() nostr.Timestamp {
	now := nostr.Now()
	return now - nostr.Timestamp(twoDaysJitter())
}
