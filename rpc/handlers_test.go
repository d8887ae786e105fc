package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/vault"
)

type noopAnnouncer struct {
	mu    sync.Mutex
	calls int
}

func (n *noopAnnouncer) PublishAnnouncement(ctx context.Context, electionID string) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

func (n *noopAnnouncer) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *noopAnnouncer) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	reg := registry.New()
	ann := &noopAnnouncer{}
	v, err := vault.GenerateForTesting()
	if err != nil {
		t.Fatalf("generate vault: %v", err)
	}
	srv := New(Config{}, reg, st, v, ann)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv, ann
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestAddElectionAndGetElection(t *testing.T) {
	c := qt.New(t)
	ts, srv, ann := newTestServer(t)

	req := map[string]any{
		"name":      "Best Snack",
		"startTime": 1000,
		"duration":  3600,
		"candidates": []map[string]any{
			{"id": 1, "name": "Chips"},
			{"id": 2, "name": "Pretzels"},
		},
	}
	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/elections", req)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, true)
	electionID, _ := decoded["electionId"].(string)
	c.Assert(electionID, qt.Not(qt.Equals), "")

	resp, decoded = doJSON(t, http.MethodGet, ts.URL+"/elections/"+electionID, nil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	election, _ := decoded["election"].(map[string]any)
	c.Assert(election["name"], qt.Equals, "Best Snack")

	// The RSA public key must come from the server's own Vault, never
	// from the request body.
	wantPEM, err := srv.vault.PublicKeyPEM()
	c.Assert(err, qt.IsNil)
	c.Assert(election["rsaPublicKey"], qt.Equals, wantPEM)

	// announceAsync fires in a background goroutine; poll briefly rather
	// than assume it has already run.
	deadline := time.Now().Add(time.Second)
	for ann.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Assert(ann.count() >= 1, qt.IsTrue)
}

func TestAddElectionValidation(t *testing.T) {
	c := qt.New(t)
	ts, _, _ := newTestServer(t)

	// Name too long.
	longName := make([]byte, 101)
	for i := range longName {
		longName[i] = 'a'
	}
	req := map[string]any{
		"name":      string(longName),
		"startTime": 1000,
		"duration":  3600,
		"candidates": []map[string]any{
			{"id": 1, "name": "A"},
		},
	}
	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/elections", req)
	c.Assert(resp.StatusCode, qt.Not(qt.Equals), http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, false)
}

func TestAddElectionDuplicateCandidateIDRejected(t *testing.T) {
	c := qt.New(t)
	ts, _, _ := newTestServer(t)

	req := map[string]any{
		"name":      "E1",
		"startTime": 1000,
		"duration":  3600,
		"candidates": []map[string]any{
			{"id": 1, "name": "A"},
			{"id": 1, "name": "B"},
		},
	}
	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/elections", req)
	c.Assert(resp.StatusCode, qt.Not(qt.Equals), http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, false)
}

func TestGetElectionNotFound(t *testing.T) {
	c := qt.New(t)
	ts, _, _ := newTestServer(t)
	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/elections/nonexistent", nil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusNotFound)
	c.Assert(decoded["success"], qt.Equals, false)
}

func TestAddVoterAndCandidateAndCancel(t *testing.T) {
	c := qt.New(t)
	ts, _, _ := newTestServer(t)

	req := map[string]any{
		"name":      "E1",
		"startTime": 1000,
		"duration":  3600,
		"candidates": []map[string]any{
			{"id": 1, "name": "A"},
		},
	}
	_, decoded := doJSON(t, http.MethodPost, ts.URL+"/elections", req)
	electionID := decoded["electionId"].(string)

	voterPub := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/elections/"+electionID+"/voters",
		map[string]any{"name": "Alice", "pubkey": voterPub})
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, true)

	resp, decoded = doJSON(t, http.MethodPost, ts.URL+"/elections/"+electionID+"/candidates",
		map[string]any{"candidateId": 2, "name": "B"})
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, true)

	resp, decoded = doJSON(t, http.MethodPost, ts.URL+"/elections/"+electionID+"/cancel", nil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, true)

	// Cancelling again must be rejected (Finished/Cancelled are absorbing).
	resp, decoded = doJSON(t, http.MethodPost, ts.URL+"/elections/"+electionID+"/cancel", nil)
	c.Assert(resp.StatusCode, qt.Not(qt.Equals), http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, false)
}

func TestListElectionsPaginationBoundary(t *testing.T) {
	c := qt.New(t)
	ts, _, _ := newTestServer(t)

	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/elections?limit=1001", nil)
	c.Assert(resp.StatusCode, qt.Not(qt.Equals), http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, false)

	resp, decoded = doJSON(t, http.MethodGet, ts.URL+"/elections?limit=100", nil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(decoded["success"], qt.Equals, true)
}

func TestListVotersScopedToUnknownElection(t *testing.T) {
	c := qt.New(t)
	ts, _, _ := newTestServer(t)
	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/voters?electionId=nonexistent", nil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusNotFound)
	c.Assert(decoded["success"], qt.Equals, false)
}
