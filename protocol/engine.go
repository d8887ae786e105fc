package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/semaphore"

	"github.com/criptocracia/ec-core/bus"
	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/vault"
)

// DefaultWorkers bounds concurrent blind-sign/verify operations, the
// only blocking work on the ingress path.
const DefaultWorkers = 8

// TallyPublisher is implemented by the Publisher; the Protocol Engine
// depends only on this narrow slice of it to avoid a package cycle.
type TallyPublisher interface {
	PublishTally(ctx context.Context, electionID string)
}

// Engine is the bus-facing crypto core: C5 in the component table. It
// subscribes to gift-wrapped envelopes addressed to the EC identity
// and dispatches each to the issuance or ballot handler.
type Engine struct {
	busClient *bus.Client
	registry  *registry.Registry
	store     *store.Store
	signer    vault.Signer
	tally     TallyPublisher
	sem       *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires the Protocol Engine's dependencies. workers bounds
// the cryptographic worker pool; 0 selects DefaultWorkers.
func NewEngine(busClient *bus.Client, reg *registry.Registry, st *store.Store, signer vault.Signer, tally TallyPublisher, workers int64) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		busClient: busClient,
		registry:  reg,
		store:     st,
		signer:    signer,
		tally:     tally,
		sem:       semaphore.NewWeighted(workers),
	}
}

// Start subscribes to the bus and begins processing envelopes. It
// returns once the subscription is established; processing continues
// on a background goroutine until Stop or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("protocol engine already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	filter := nostr.Filter{
		Kinds: []int{1059},
		Tags:  nostr.TagMap{"p": []string{e.busClient.PublicKey()}},
	}
	events := e.busClient.Subscribe(runCtx, filter)

	go e.run(runCtx, events)
	log.Infow("protocol engine started", "pubkey", e.busClient.PublicKey())
	return nil
}

// Stop cancels the subscription and waits for the dispatch loop to
// drain in-flight handlers.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func (e *Engine) run(ctx context.Context, events <-chan nostr.RelayEvent) {
	defer close(e.done)
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case relayEvt, ok := <-events:
			if !ok {
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(wrap nostr.Event) {
				defer wg.Done()
				e.dispatch(ctx, wrap)
			}(relayEvt.Event)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, wrap nostr.Event) {
	rumor, err := e.busClient.Unwrap(wrap)
	if err != nil {
		log.Warnw("envelope unwrap failed, dropped", "error", err.Error())
		return
	}
	env, err := ParseEnvelope([]byte(rumor.Content))
	if err != nil {
		log.Warnw("envelope decode failed, dropped", "error", err.Error())
		return
	}
	switch env.Kind {
	case KindIssuance:
		e.handleIssuance(ctx, rumor.PubKey, env)
	case KindBallot:
		e.handleBallot(ctx, env)
	}
}

func (e *Engine) sendReply(ctx context.Context, recipientPubkey string, reply Reply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	rumor := nostr.Event{Kind: 14, Content: string(payload)}
	wrap, err := e.busClient.GiftWrap(rumor, recipientPubkey)
	if err != nil {
		return fmt.Errorf("gift wrap reply: %w", err)
	}
	return e.busClient.Publish(ctx, wrap)
}
