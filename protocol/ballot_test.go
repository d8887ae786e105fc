package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/types"
	"github.com/criptocracia/ec-core/vault"
	"github.com/criptocracia/ec-core/vault/vaulttest"
)

func TestParseBallotPayload(t *testing.T) {
	c := qt.New(t)
	h := base64.StdEncoding.EncodeToString([]byte("hhh"))
	token := base64.StdEncoding.EncodeToString([]byte("ttt"))
	rnd := base64.StdEncoding.EncodeToString([]byte("rrr"))

	fields, err := parseBallotPayload(fmt.Sprintf("%s:%s:%s:3", h, token, rnd))
	c.Assert(err, qt.IsNil)
	c.Assert(fields.candidateID, qt.Equals, uint8(3))
	c.Assert(string(fields.h), qt.Equals, "hhh")
	c.Assert(string(fields.token), qt.Equals, "ttt")
	c.Assert(string(fields.randomizer), qt.Equals, "rrr")
}

func TestParseBallotPayloadRejectsWrongFieldCount(t *testing.T) {
	c := qt.New(t)
	_, err := parseBallotPayload("a:b:c")
	c.Assert(err, qt.IsNotNil)
}

func TestParseBallotPayloadRejectsBadCandidateID(t *testing.T) {
	c := qt.New(t)
	h := base64.StdEncoding.EncodeToString([]byte("hhh"))
	_, err := parseBallotPayload(fmt.Sprintf("%s:%s:%s:0", h, h, h))
	c.Assert(err, qt.IsNotNil)

	_, err = parseBallotPayload(fmt.Sprintf("%s:%s:%s:256", h, h, h))
	c.Assert(err, qt.IsNotNil)
}

func TestParseRSAPublicKeyPEMRoundTrip(t *testing.T) {
	c := qt.New(t)
	v, err := vault.GenerateForTesting()
	c.Assert(err, qt.IsNil)
	pemStr, err := v.PublicKeyPEM()
	c.Assert(err, qt.IsNil)

	pub, err := parseRSAPublicKeyPEM(pemStr)
	c.Assert(err, qt.IsNil)
	c.Assert(pub.Equal(v.Signer().PublicKey()), qt.IsTrue)
}

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, *store.Store, *vault.Vault) {
	t.Helper()
	v, err := vault.GenerateForTesting()
	if err != nil {
		t.Fatalf("generate vault: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	reg := registry.New()

	_, err = v.PublicKeyPEM()
	if err != nil {
		t.Fatalf("public key pem: %v", err)
	}
	e := &Engine{
		registry: reg,
		store:    st,
		signer:   v.Signer(),
		sem:      semaphore.NewWeighted(DefaultWorkers),
	}
	return e, reg, st, v
}

func insertInProgressElection(t *testing.T, reg *registry.Registry, st *store.Store, id, pemStr string) {
	t.Helper()
	el := &types.Election{
		ID:                   id,
		Name:                 "E1",
		Status:               types.StatusInProgress,
		Candidates:           []types.Candidate{{ID: 1, Name: "A"}},
		AuthorizedVoters:     map[string]string{},
		ConsumedFingerprints: map[string]bool{},
		Tally:                map[uint8]int{1: 0},
		RSAPublicKeyPEM:      pemStr,
	}
	if err := st.InsertElection(el); err != nil {
		t.Fatalf("insert election: %v", err)
	}
	if err := reg.Insert(el); err != nil {
		t.Fatalf("registry insert: %v", err)
	}
}

// TestHandleBallotAcceptsValidBallot drives a full blind-RSA ballot
// through handleBallot and checks the tally and fingerprint both land.
func TestHandleBallotAcceptsValidBallot(t *testing.T) {
	c := qt.New(t)
	e, reg, st, v := newTestEngine(t)
	pemStr, err := v.PublicKeyPEM()
	c.Assert(err, qt.IsNil)
	insertInProgressElection(t, reg, st, "e1", pemStr)

	hash := sha256.Sum256([]byte("voter-1-credential"))
	h := hash[:]
	blinded, state, err := vaulttest.BlindMessage(v.Signer().PublicKey(), h)
	c.Assert(err, qt.IsNil)
	blindSig, err := v.Signer().BlindSign(blinded)
	c.Assert(err, qt.IsNil)
	token, err := state.FinalizeToken(blindSig)
	c.Assert(err, qt.IsNil)

	payload := fmt.Sprintf("%s:%s:%s:1",
		base64.StdEncoding.EncodeToString(h),
		base64.StdEncoding.EncodeToString(token),
		base64.StdEncoding.EncodeToString([]byte("rnd")))
	env := &Envelope{ID: uuid.NewString(), Kind: KindBallot, Payload: payload, ElectionID: "e1"}

	e.handleBallot(context.Background(), env)

	snap, err := reg.Snapshot("e1")
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Tally[1], qt.Equals, 1)

	// Replay must not move the tally.
	e.handleBallot(context.Background(), env)
	snap, err = reg.Snapshot("e1")
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Tally[1], qt.Equals, 1)
}

func TestHandleBallotDropsForUnknownCandidate(t *testing.T) {
	c := qt.New(t)
	e, reg, st, v := newTestEngine(t)
	pemStr, err := v.PublicKeyPEM()
	c.Assert(err, qt.IsNil)
	insertInProgressElection(t, reg, st, "e1", pemStr)

	hash := sha256.Sum256([]byte("voter-2-credential"))
	h := hash[:]
	blinded, state, err := vaulttest.BlindMessage(v.Signer().PublicKey(), h)
	c.Assert(err, qt.IsNil)
	blindSig, err := v.Signer().BlindSign(blinded)
	c.Assert(err, qt.IsNil)
	token, err := state.FinalizeToken(blindSig)
	c.Assert(err, qt.IsNil)

	payload := fmt.Sprintf("%s:%s:%s:9",
		base64.StdEncoding.EncodeToString(h),
		base64.StdEncoding.EncodeToString(token),
		base64.StdEncoding.EncodeToString([]byte("rnd")))
	env := &Envelope{ID: uuid.NewString(), Kind: KindBallot, Payload: payload, ElectionID: "e1"}

	e.handleBallot(context.Background(), env)

	snap, err := reg.Snapshot("e1")
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Tally[1], qt.Equals, 0)
}

func TestHandleBallotDropsInvalidToken(t *testing.T) {
	c := qt.New(t)
	e, reg, st, v := newTestEngine(t)
	pemStr, err := v.PublicKeyPEM()
	c.Assert(err, qt.IsNil)
	insertInProgressElection(t, reg, st, "e1", pemStr)

	hash := sha256.Sum256([]byte("voter-3-credential"))
	h := hash[:]
	payload := fmt.Sprintf("%s:%s:%s:1",
		base64.StdEncoding.EncodeToString(h),
		base64.StdEncoding.EncodeToString([]byte("not-a-real-token")),
		base64.StdEncoding.EncodeToString([]byte("rnd")))
	env := &Envelope{ID: uuid.NewString(), Kind: KindBallot, Payload: payload, ElectionID: "e1"}

	e.handleBallot(context.Background(), env)

	snap, err := reg.Snapshot("e1")
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Tally[1], qt.Equals, 0)
}
