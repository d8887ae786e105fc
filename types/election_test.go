package types

import (
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestSortedTallyOrdering(t *testing.T) {
	c := qt.New(t)
	candidates := []Candidate{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}}
	tally := map[uint8]int{1: 5, 2: 9, 3: 5}

	got := SortedTally(candidates, tally)
	want := []TallyEntry{
		{CandidateID: 2, Count: 9},
		{CandidateID: 1, Count: 5},
		{CandidateID: 3, Count: 5},
	}
	c.Assert(got, qt.DeepEquals, want)
}

func TestSortedTallyIncludesZeroCounts(t *testing.T) {
	c := qt.New(t)
	candidates := []Candidate{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	got := SortedTally(candidates, map[uint8]int{})
	want := []TallyEntry{{CandidateID: 1, Count: 0}, {CandidateID: 2, Count: 0}}
	c.Assert(got, qt.DeepEquals, want)
}

func TestCloneIsDeep(t *testing.T) {
	c := qt.New(t)
	e := &Election{
		ID:                   "abc123",
		AuthorizedVoters:     map[string]string{"pk1": "Alice"},
		ConsumedFingerprints: map[string]bool{"fp1": true},
		Tally:                map[uint8]int{1: 2},
		Candidates:           []Candidate{{ID: 1, Name: "A"}},
	}
	clone := e.Clone()
	clone.AuthorizedVoters["pk2"] = "Bob"
	clone.Tally[1] = 99
	clone.Candidates[0].Name = "Z"

	c.Assert(e.AuthorizedVoters, qt.HasLen, 1)
	c.Assert(e.Tally[1], qt.Equals, 2)
	c.Assert(e.Candidates[0].Name, qt.Equals, "A")
}

func TestIsAuthorizedAndHasCandidate(t *testing.T) {
	c := qt.New(t)
	e := &Election{
		AuthorizedVoters: map[string]string{"pk1": "Alice"},
		Candidates:       []Candidate{{ID: 7, Name: "G"}},
	}
	c.Assert(e.IsAuthorized("pk1"), qt.IsTrue)
	c.Assert(e.IsAuthorized("pk2"), qt.IsFalse)
	c.Assert(e.HasCandidate(7), qt.IsTrue)
	c.Assert(e.HasCandidate(8), qt.IsFalse)
}

func TestAnnouncementJSONExcludesPrivateFields(t *testing.T) {
	c := qt.New(t)
	e := &Election{
		ID:                   "abc123",
		Name:                 "Election 1",
		StartTime:            time.Unix(1000, 0).UTC(),
		EndTime:              time.Unix(2000, 0).UTC(),
		Status:               StatusOpen,
		Candidates:           []Candidate{{ID: 1, Name: "A"}},
		AuthorizedVoters:     map[string]string{"pk1": "Alice"},
		ConsumedFingerprints: map[string]bool{"fp1": true},
		Tally:                map[uint8]int{1: 3},
		RSAPublicKeyPEM:      "PEM",
	}
	raw, err := e.AnnouncementJSON()
	c.Assert(err, qt.IsNil)

	var decoded map[string]any
	c.Assert(json.Unmarshal(raw, &decoded), qt.IsNil)
	c.Assert(decoded["id"], qt.Equals, "abc123")
	c.Assert(decoded["rsaPublicKey"], qt.Equals, "PEM")
	_, hasVoters := decoded["authorizedVoters"]
	_, hasFingerprints := decoded["consumedFingerprints"]
	_, hasTally := decoded["tally"]
	c.Assert(hasVoters, qt.IsFalse)
	c.Assert(hasFingerprints, qt.IsFalse)
	c.Assert(hasTally, qt.IsFalse)
}

func TestNewElectionIDIsStableLength(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(1000000, 0)
	id1 := NewElectionID("E1", now)
	id2 := NewElectionID("E1", now)
	c.Assert(len(id1), qt.Equals, 16)
	c.Assert(len(id2), qt.Equals, 16)
	// salted: two calls for the same name/time need not collide
	c.Assert(id1 == id2 && id1 == "", qt.IsFalse)
}
