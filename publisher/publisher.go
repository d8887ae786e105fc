// Package publisher emits addressable bus events announcing election
// state and live tallies. Grounded on the teacher's use of
// cenkalti/backoff for bounded retry of best-effort network calls,
// generalized from chain broadcast retries to bus publish retries.
package publisher

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nbd-wtf/go-nostr"

	"github.com/criptocracia/ec-core/bus"
	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/types"
)

const (
	// KindAnnouncement is the addressable announcement event kind.
	KindAnnouncement = 35000
	// KindTally is the addressable tally event kind.
	KindTally = 35001

	announcementTTL = 15 * 24 * time.Hour
	tallyTTL        = 5 * 24 * time.Hour

	maxPublishAttempts = 5
)

// Publisher emits Announcement and Tally events for elections held in
// the Registry. Publishing is best-effort: a permanent failure is
// logged but never rolls back the state change that triggered it.
type Publisher struct {
	bus      *bus.Client
	registry *registry.Registry
}

// New returns a Publisher backed by busClient and reg.
func New(busClient *bus.Client, reg *registry.Registry) *Publisher {
	return &Publisher{bus: busClient, registry: reg}
}

// PublishAnnouncement emits (or re-emits) the Announcement event for
// electionID: the aggregate minus voters, fingerprints and tally, plus
// the RSA public key, addressable by election id so republication
// replaces the prior event. Called on creation, any status change and
// candidate addition.
func (p *Publisher) PublishAnnouncement(ctx context.Context, electionID string) error {
	snap, err := p.registry.Snapshot(electionID)
	if err != nil {
		return err
	}
	content, err := snap.AnnouncementJSON()
	if err != nil {
		return err
	}

	now := nostr.Now()
	evt := nostr.Event{
		CreatedAt: now,
		Kind:      KindAnnouncement,
		Tags: nostr.Tags{
			{"d", electionID},
			{"expiration", formatExpiration(now, announcementTTL)},
		},
		Content: string(content),
	}
	return p.publishWithRetry(ctx, evt)
}

// PublishTally emits the Tally event for electionID: an ordered array
// of [candidate_id, count] pairs. Implements protocol.TallyPublisher;
// failures are logged, not returned, since ballot acceptance must
// never roll back on a publish failure.
func (p *Publisher) PublishTally(ctx context.Context, electionID string) {
	snap, err := p.registry.Snapshot(electionID)
	if err != nil {
		log.Warnw("tally publish: election not found", "electionId", electionID)
		return
	}
	content, err := tallyContent(snap)
	if err != nil {
		log.Errorf("tally publish: encode failed for %s: %v", electionID, err)
		return
	}

	now := nostr.Now()
	evt := nostr.Event{
		CreatedAt: now,
		Kind:      KindTally,
		Tags: nostr.Tags{
			{"d", electionID},
			{"expiration", formatExpiration(now, tallyTTL)},
		},
		Content: string(content),
	}
	if err := p.publishWithRetry(ctx, evt); err != nil {
		log.Errorf("tally publish failed permanently for %s: %v", electionID, err)
	}
}

func tallyContent(e *types.Election) ([]byte, error) {
	sorted := types.SortedTally(e.Candidates, e.Tally)
	pairs := make([][2]int, 0, len(sorted))
	for _, entry := range sorted {
		pairs = append(pairs, [2]int{int(entry.CandidateID), entry.Count})
	}
	return json.Marshal(pairs)
}

// formatExpiration renders a NIP-40 expiration tag value: raw Unix
// seconds as a decimal string, not a formatted date.
func formatExpiration(now nostr.Timestamp, ttl time.Duration) string {
	return strconv.FormatInt(int64(now)+int64(ttl.Seconds()), 10)
}

// publishWithRetry publishes evt with a bounded exponential backoff
// (5 attempts, 1s -> 16s), consistent with the publish budget in the
// component design.
func (p *Publisher) publishWithRetry(ctx context.Context, evt nostr.Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 16 * time.Second
	policy.Multiplier = 2
	bounded := backoff.WithMaxRetries(policy, maxPublishAttempts-1)
	withCtx := backoff.WithContext(bounded, ctx)

	return backoff.Retry(func() error {
		return p.bus.Publish(ctx, evt)
	}, withCtx)
}
