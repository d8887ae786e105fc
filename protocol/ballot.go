package protocol

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/types"
	"github.com/criptocracia/ec-core/vault"
)

type ballotFields struct {
	h           []byte
	token       []byte
	randomizer  []byte
	candidateID uint8
}

// parseBallotPayload decodes the colon-delimited
// h_b64:token_b64:randomizer_b64:candidate_id payload. Any failure is
// Malformed.
func parseBallotPayload(payload string) (*ballotFields, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed ballot: expected 4 fields, got %d", len(parts))
	}
	h, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed ballot h: %w", err)
	}
	token, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed ballot token: %w", err)
	}
	randomizer, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("malformed ballot randomizer: %w", err)
	}
	if len(randomizer) == 0 {
		return nil, fmt.Errorf("malformed ballot randomizer: empty")
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil || n < 1 || n > 255 {
		return nil, fmt.Errorf("malformed ballot candidate_id: %q", parts[3])
	}
	return &ballotFields{h: h, token: token, randomizer: randomizer, candidateID: uint8(n)}, nil
}

// handleBallot implements 4.5.2. It never replies, on success or
// failure: ballots are anonymous and silent by design.
func (e *Engine) handleBallot(ctx context.Context, env *Envelope) {
	if env.ElectionID == "" {
		log.Warnw("ballot missing election_id, dropped", "correlationId", env.ID)
		return
	}
	fields, err := parseBallotPayload(env.Payload)
	if err != nil {
		log.Warnw("ballot malformed, dropped", "correlationId", env.ID, "error", err.Error())
		return
	}

	snap, err := e.registry.Snapshot(env.ElectionID)
	if errors.Is(err, registry.ErrNotFound) {
		log.Warnw("ballot for unknown election, dropped", "electionId", env.ElectionID)
		return
	}
	if snap.Status != types.StatusInProgress {
		log.Warnw("ballot for election not accepting ballots, dropped", "electionId", env.ElectionID, "status", snap.Status)
		return
	}
	if !snap.HasCandidate(fields.candidateID) {
		log.Warnw("ballot for unknown candidate, dropped", "electionId", env.ElectionID, "candidateId", fields.candidateID)
		return
	}

	pub, err := parseRSAPublicKeyPEM(snap.RSAPublicKeyPEM)
	if err != nil {
		log.Warnw("ballot election has unreadable public key, dropped", "electionId", env.ElectionID)
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	verifyErr := vault.VerifyToken(pub, fields.h, fields.token)
	e.sem.Release(1)
	if verifyErr != nil {
		log.Warnw("ballot token invalid, dropped", "electionId", env.ElectionID, "error", verifyErr.Error())
		return
	}

	fingerprint := hex.EncodeToString(fields.h)
	err = e.store.RecordBallot(env.ElectionID, fingerprint, fields.candidateID)
	if errors.Is(err, store.ErrAlreadyConsumed) {
		log.Warnw("ballot already voted, dropped", "electionId", env.ElectionID, "fingerprint", fingerprint)
		return
	}
	if err != nil {
		log.Errorf("ballot record failed for election %s: %v", env.ElectionID, err)
		return
	}

	_ = e.registry.WithElection(env.ElectionID, func(el *types.Election) error {
		el.ConsumedFingerprints[fingerprint] = true
		el.Tally[fields.candidateID]++
		return nil
	})

	if e.tally != nil {
		e.tally.PublishTally(ctx, env.ElectionID)
	}
}

func parseRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}
