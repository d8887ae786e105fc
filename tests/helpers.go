// Package tests exercises the whole EC core across package boundaries:
// Admin RPC, Store, Registry, Vault and Status Engine wired together as
// cmd/ec wires them, driven through exported APIs only.
//
// Grounded on the teacher's tests/helpers.go + tests/integration_test.go
// (NewTestService/NewTestClient plus per-step t.Run subtests), minus the
// Dockerized Geth harness: this system has no blockchain component to
// containerize. The Protocol Engine's bus-ingress dispatch is exercised
// in protocol's own package-internal tests instead of here, since
// driving it end-to-end needs a live relay; this suite assembles the
// same issuance/ballot steps through the exported vault and store APIs
// the Protocol Engine itself calls.
package tests

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/rpc"
	"github.com/criptocracia/ec-core/rpc/client"
	"github.com/criptocracia/ec-core/statusengine"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/vault"
)

// recordingAnnouncer stands in for the Publisher across every
// consumer (Admin RPC, Status Engine) so this suite never needs a live
// bus relay; it just counts how many times each election was announced.
type recordingAnnouncer struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingAnnouncer() *recordingAnnouncer {
	return &recordingAnnouncer{calls: make(map[string]int)}
}

func (r *recordingAnnouncer) PublishAnnouncement(ctx context.Context, electionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[electionID]++
	return nil
}

func (r *recordingAnnouncer) count(electionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[electionID]
}

// testService bundles every component cmd/ec wires together, minus the
// bus (the Protocol Engine's subscription needs a live relay; its
// handlers are covered directly in package protocol).
type testService struct {
	registry  *registry.Registry
	store     *store.Store
	vault     *vault.Vault
	announcer *recordingAnnouncer
	statusEng *statusengine.Engine
	rpcServer *httptest.Server
	client    *client.Client
}

func newTestService(t *testing.T) *testService {
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
	ann := newRecordingAnnouncer()

	// A short tick interval so status-transition assertions don't need
	// to wait out the production 30s cadence.
	statusEng := statusengine.New(reg, st, ann, 50*time.Millisecond)

	rpcSrv := rpc.New(rpc.Config{}, reg, st, v, ann)
	ts := httptest.NewServer(rpcSrv.Router())
	t.Cleanup(ts.Close)

	cli, err := client.New(ts.URL)
	if err != nil {
		t.Fatalf("build client: %v", err)
	}

	return &testService{
		registry:  reg,
		store:     st,
		vault:     v,
		announcer: ann,
		statusEng: statusEng,
		rpcServer: ts,
		client:    cli,
	}
}
