// Package types defines the data model shared by every component of the
// electoral commission core: elections, candidates, voters and tallies.
package types

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an Election.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
	StatusFinished   Status = "Finished"
	StatusCancelled  Status = "Cancelled"
)

// Candidate is a single option on an Election's ballot.
type Candidate struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// Election is the aggregate root: one electoral contest with its
// candidates, authorized voters, consumed credential fingerprints and
// running tally. The Registry holds these in memory; the Store holds
// the durable image.
type Election struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Status    Status    `json:"status"`

	Candidates []Candidate `json:"candidates"`

	// AuthorizedVoters maps a hex-encoded voter identity key to its
	// display name.
	AuthorizedVoters map[string]string `json:"-"`

	// ConsumedFingerprints holds the hex fingerprints of credentials
	// that have already been redeemed into a counted ballot.
	ConsumedFingerprints map[string]bool `json:"-"`

	// Tally maps candidate id to vote count.
	Tally map[uint8]int `json:"tally,omitempty"`

	RSAPublicKeyPEM string `json:"rsaPublicKey"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// announcementView is the JSON shape of an Announcement event: the
// election aggregate minus authorized_voters, consumed_fingerprints
// and tally, plus the RSA public key.
type announcementView struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	StartTime       time.Time   `json:"startTime"`
	EndTime         time.Time   `json:"endTime"`
	Status          Status      `json:"status"`
	Candidates      []Candidate `json:"candidates"`
	RSAPublicKeyPEM string      `json:"rsaPublicKey"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// AnnouncementJSON serializes e the way the Publisher embeds it in an
// Announcement event: voter roster, consumed fingerprints and the
// running tally are never published.
func (e *Election) AnnouncementJSON() ([]byte, error) {
	return json.Marshal(announcementView{
		ID:              e.ID,
		Name:            e.Name,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		Status:          e.Status,
		Candidates:      e.Candidates,
		RSAPublicKeyPEM: e.RSAPublicKeyPEM,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	})
}

// Clone returns a deep copy sufficient for safe hand-off outside the
// Registry's entry lock (e.g. to the Publisher or an RPC response).
func (e *Election) Clone() *Election {
	c := *e
	c.Candidates = append([]Candidate(nil), e.Candidates...)
	c.AuthorizedVoters = make(map[string]string, len(e.AuthorizedVoters))
	for k, v := range e.AuthorizedVoters {
		c.AuthorizedVoters[k] = v
	}
	c.ConsumedFingerprints = make(map[string]bool, len(e.ConsumedFingerprints))
	for k, v := range e.ConsumedFingerprints {
		c.ConsumedFingerprints[k] = v
	}
	c.Tally = make(map[uint8]int, len(e.Tally))
	for k, v := range e.Tally {
		c.Tally[k] = v
	}
	return &c
}

// IsAuthorized reports whether pubkeyHex is an authorized voter of e.
func (e *Election) IsAuthorized(pubkeyHex string) bool {
	_, ok := e.AuthorizedVoters[pubkeyHex]
	return ok
}

// HasCandidate reports whether id names a candidate of e.
func (e *Election) HasCandidate(id uint8) bool {
	for _, c := range e.Candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}

// TallyEntry is one row of a published or returned tally, ordered
// descending by Count with ties broken by ascending CandidateID.
type TallyEntry struct {
	CandidateID uint8 `json:"candidateId"`
	Count       int   `json:"count"`
}

// SortedTally returns tally as an ordered slice: descending by
// count, ascending candidate id on ties. Every candidate appears even
// with a zero count.
func SortedTally(candidates []Candidate, tally map[uint8]int) []TallyEntry {
	entries := make([]TallyEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, TallyEntry{CandidateID: c.ID, Count: tally[c.ID]})
	}
	// insertion sort: candidate counts are tiny (<=255 entries)
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && less(entries[j], entries[j-1]) {
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
	return entries
}

func less(a, b TallyEntry) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.CandidateID < b.CandidateID
}
