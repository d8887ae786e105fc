package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/types"
)

const (
	maxNameLen          = 100
	maxCandidateNameLen = 50
	defaultListLimit    = 100
	maxListLimit        = 1000
)

type okResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// --- AddElection ---

type addElectionRequest struct {
	Name       string            `json:"name"`
	StartTime  int64             `json:"startTime"`
	Duration   int64             `json:"duration"`
	Candidates []types.Candidate `json:"candidates"`
}

type addElectionResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ElectionID string `json:"electionId"`
}

func (s *Server) addElection(w http.ResponseWriter, r *http.Request) {
	var req addElectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Name == "" || len(req.Name) > maxNameLen {
		ErrInvalidArgument.With("name must be 1-100 characters").Write(w)
		return
	}
	if req.StartTime <= 0 {
		ErrInvalidArgument.With("start_time must be > 0").Write(w)
		return
	}
	if req.Duration <= 0 {
		ErrInvalidArgument.With("duration must be > 0").Write(w)
		return
	}
	if len(req.Candidates) == 0 {
		ErrInvalidArgument.With("at least one candidate is required").Write(w)
		return
	}
	seen := make(map[uint8]bool, len(req.Candidates))
	for _, c := range req.Candidates {
		if c.ID < 1 {
			ErrInvalidArgument.Withf("candidate id %d out of range 1..255", c.ID).Write(w)
			return
		}
		if seen[c.ID] {
			ErrInvalidArgument.Withf("duplicate candidate id %d", c.ID).Write(w)
			return
		}
		if c.Name == "" || len(c.Name) > maxCandidateNameLen {
			ErrInvalidArgument.Withf("candidate name for id %d must be 1-50 characters", c.ID).Write(w)
			return
		}
		seen[c.ID] = true
	}

	rsaPub, err := s.vault.PublicKeyPEM()
	if err != nil {
		log.Errorf("add election: read vault public key: %v", err)
		ErrGenericServerError.Write(w)
		return
	}

	now := time.Now().UTC()
	start := time.Unix(req.StartTime, 0).UTC()
	end := start.Add(time.Duration(req.Duration) * time.Second)
	tally := make(map[uint8]int, len(req.Candidates))
	for _, c := range req.Candidates {
		tally[c.ID] = 0
	}

	election := &types.Election{
		ID:                   types.NewElectionID(req.Name, now),
		Name:                 req.Name,
		StartTime:            start,
		EndTime:              end,
		Status:               types.StatusOpen,
		Candidates:           req.Candidates,
		AuthorizedVoters:     map[string]string{},
		ConsumedFingerprints: map[string]bool{},
		Tally:                tally,
		RSAPublicKeyPEM:      rsaPub,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.InsertElection(election); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			ErrDuplicate.WithErr(err).Write(w)
			return
		}
		log.Errorf("add election store failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	if err := s.registry.Insert(election); err != nil {
		log.Errorf("add election registry failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	s.announceAsync(r.Context(), election.ID)

	writeOK(w, addElectionResponse{Success: true, Message: "election created", ElectionID: election.ID})
}

// --- AddCandidate ---

type addCandidateRequest struct {
	CandidateID uint8  `json:"candidateId"`
	Name        string `json:"name"`
}

func (s *Server) addCandidate(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "id")
	var req addCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.CandidateID < 1 {
		ErrInvalidArgument.With("candidate id must be 1..255").Write(w)
		return
	}
	if req.Name == "" || len(req.Name) > maxCandidateNameLen {
		ErrInvalidArgument.With("candidate name must be 1-50 characters").Write(w)
		return
	}

	if _, err := s.registry.Snapshot(electionID); err != nil {
		s.writeNotFound(w, err)
		return
	}

	c := types.Candidate{ID: req.CandidateID, Name: req.Name}
	if err := s.store.AddCandidate(electionID, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			ErrDuplicate.WithErr(err).Write(w)
			return
		}
		log.Errorf("add candidate store failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	if err := s.registry.WithElection(electionID, func(e *types.Election) error {
		e.Candidates = append(e.Candidates, c)
		e.Tally[c.ID] = 0
		return nil
	}); err != nil {
		log.Errorf("add candidate registry failure: %v", err)
	}
	s.announceAsync(r.Context(), electionID)

	writeOK(w, okResponse{Success: true, Message: "candidate added"})
}

// --- AddVoter ---

type addVoterRequest struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
}

func (s *Server) addVoter(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "id")
	var req addVoterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Name == "" {
		ErrInvalidArgument.With("name must not be empty").Write(w)
		return
	}
	pubkeyHex, err := decodePubkey(req.Pubkey)
	if err != nil {
		ErrInvalidPubkey.WithErr(err).Write(w)
		return
	}

	if _, err := s.registry.Snapshot(electionID); err != nil {
		s.writeNotFound(w, err)
		return
	}

	if err := s.store.AddVoter(electionID, pubkeyHex, req.Name); err != nil {
		log.Errorf("add voter store failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	if err := s.registry.WithElection(electionID, func(e *types.Election) error {
		e.AuthorizedVoters[pubkeyHex] = req.Name
		return nil
	}); err != nil {
		log.Errorf("add voter registry failure: %v", err)
	}

	writeOK(w, okResponse{Success: true, Message: "voter added"})
}

// decodePubkey accepts a 64-character hex pubkey or a bech32 npub and
// returns the canonical hex form.
func decodePubkey(in string) (string, error) {
	if len(in) == 64 {
		if _, err := hex.DecodeString(in); err == nil {
			return in, nil
		}
	}
	prefix, data, err := nip19.Decode(in)
	if err != nil {
		return "", err
	}
	if prefix != "npub" {
		return "", errors.New("expected npub-encoded pubkey")
	}
	pk, ok := data.(string)
	if !ok {
		return "", errors.New("unexpected npub payload")
	}
	return pk, nil
}

// --- CancelElection ---

func (s *Server) cancelElection(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "id")
	snap, err := s.registry.Snapshot(electionID)
	if err != nil {
		s.writeNotFound(w, err)
		return
	}
	if snap.Status != types.StatusOpen && snap.Status != types.StatusInProgress {
		ErrInvalidTransition.Withf("election is %s", snap.Status).Write(w)
		return
	}

	now := time.Now().UTC()
	if err := s.store.UpdateStatus(electionID, types.StatusCancelled, now); err != nil {
		log.Errorf("cancel election store failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	if err := s.registry.WithElection(electionID, func(e *types.Election) error {
		e.Status = types.StatusCancelled
		e.UpdatedAt = now
		return nil
	}); err != nil {
		log.Errorf("cancel election registry failure: %v", err)
	}
	s.announceAsync(r.Context(), electionID)

	writeOK(w, okResponse{Success: true, Message: "election cancelled"})
}

// --- GetElection ---

func (s *Server) getElection(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "id")
	snap, err := s.registry.Snapshot(electionID)
	if err != nil {
		s.writeNotFound(w, err)
		return
	}
	writeOK(w, struct {
		Success  bool            `json:"success"`
		Message  string          `json:"message"`
		Election *types.Election `json:"election"`
	}{Success: true, Message: "ok", Election: snap})
}

// --- ListElections ---

func (s *Server) listElections(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		ErrInvalidArgument.WithErr(err).Write(w)
		return
	}
	elections, err := s.store.ListElections(limit, offset)
	if err != nil {
		log.Errorf("list elections failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	writeOK(w, struct {
		Success   bool              `json:"success"`
		Message   string            `json:"message"`
		Elections []*types.Election `json:"elections"`
	}{Success: true, Message: "ok", Elections: elections})
}

// --- ListVoters ---

func (s *Server) listVoters(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		ErrInvalidArgument.WithErr(err).Write(w)
		return
	}
	electionID := r.URL.Query().Get("electionId")
	if electionID != "" {
		if _, err := s.registry.Snapshot(electionID); err != nil {
			s.writeNotFound(w, err)
			return
		}
	}
	voters, err := s.store.ListVoters(electionID, limit, offset)
	if err != nil {
		log.Errorf("list voters failure: %v", err)
		ErrGenericServerError.Write(w)
		return
	}
	writeOK(w, struct {
		Success bool             `json:"success"`
		Message string           `json:"message"`
		Voters  []store.VoterRow `json:"voters"`
	}{Success: true, Message: "ok", Voters: voters})
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultListLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 || limit > maxListLimit {
			return 0, 0, errors.New("limit must be 0..1000")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be >= 0")
		}
	}
	return limit, offset, nil
}

func (s *Server) writeNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		ErrElectionNotFound.Write(w)
		return
	}
	log.Errorf("unexpected lookup failure: %v", err)
	ErrGenericServerError.Write(w)
}

// announceAsync requests the Publisher emit an Announcement without
// blocking the RPC response on bus I/O; a publish failure is logged
// by the Publisher itself and never surfaces to the admin caller.
func (s *Server) announceAsync(ctx context.Context, electionID string) {
	if s.announce == nil {
		return
	}
	go func() {
		if err := s.announce.PublishAnnouncement(ctx, electionID); err != nil {
			log.Warnw("announcement publish failed", "electionId", electionID, "error", err.Error())
		}
	}()
}
