package protocol

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/types"
)

var (
	errElectionClosed = errors.New("ElectionClosed")
	errNotAuthorized  = errors.New("NotAuthorized")
)

// handleIssuance implements 4.5.1: blind-sign the voter's blinded
// pre-image if the sender is authorized for the named election (or,
// lacking one, for the first authorized election found). Issuance
// never consumes eligibility; double-voting is prevented later, at
// ballot acceptance, by fingerprint.
func (e *Engine) handleIssuance(ctx context.Context, senderPubkey string, env *Envelope) {
	blinded, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		log.Warnw("issuance malformed payload", "correlationId", env.ID, "error", err.Error())
		return
	}

	electionID := env.ElectionID
	if electionID == "" {
		log.Warnw("issuance request missing election_id, falling back to legacy lookup", "correlationId", env.ID)
		electionID, err = e.findAuthorizedElection(senderPubkey)
		if err != nil {
			log.Warnw("issuance no authorized election found", "correlationId", env.ID, "sender", senderPubkey)
			e.replyIssuanceError(ctx, senderPubkey, env.ID, err)
			return
		}
	}

	sig, err := e.signForElection(electionID, senderPubkey, blinded)
	if err != nil {
		log.Warnw("issuance failed", "correlationId", env.ID, "electionId", electionID, "sender", senderPubkey, "error", err.Error())
		e.replyIssuanceError(ctx, senderPubkey, env.ID, err)
		return
	}

	reply := Reply{ID: env.ID, Kind: KindIssuance, Payload: base64.StdEncoding.EncodeToString(sig), ElectionID: electionID}
	if err := e.sendReply(ctx, senderPubkey, reply); err != nil {
		log.Warnw("issuance reply failed", "correlationId", env.ID, "error", err.Error())
	}
}

// findAuthorizedElection implements the legacy no-election_id
// fallback: try every election the sender is authorized for, in
// registry iteration order, and use the first.
func (e *Engine) findAuthorizedElection(senderPubkey string) (string, error) {
	for _, id := range e.registry.SnapshotIDs() {
		snap, err := e.registry.Snapshot(id)
		if err != nil {
			continue
		}
		if snap.IsAuthorized(senderPubkey) && (snap.Status == types.StatusOpen || snap.Status == types.StatusInProgress) {
			return id, nil
		}
	}
	return "", errNotAuthorized
}

func (e *Engine) signForElection(electionID, senderPubkey string, blinded []byte) ([]byte, error) {
	var sig []byte
	err := e.registry.WithElection(electionID, func(el *types.Election) error {
		if el.Status != types.StatusOpen && el.Status != types.StatusInProgress {
			return errElectionClosed
		}
		if !el.IsAuthorized(senderPubkey) {
			return errNotAuthorized
		}
		return nil
	})
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("NotFound: %w", err)
	}
	if err != nil {
		return nil, err
	}

	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	sig, err = e.signer.BlindSign(blinded)
	e.sem.Release(1)
	if err != nil {
		return nil, fmt.Errorf("blind sign: %w", err)
	}
	return sig, nil
}

func (e *Engine) replyIssuanceError(ctx context.Context, senderPubkey, correlationID string, cause error) {
	reply := Reply{ID: correlationID, Kind: KindIssuance, Payload: "error:" + cause.Error()}
	if err := e.sendReply(ctx, senderPubkey, reply); err != nil {
		log.Warnw("issuance error reply failed", "correlationId", correlationID, "error", err.Error())
	}
}
