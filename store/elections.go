package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/criptocracia/ec-core/types"
)

// InsertElection persists a brand-new election together with its
// candidates. Fails if the id already exists.
func (s *Store) InsertElection(e *types.Election) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO elections(id, name, start_time, end_time, status, rsa_public_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.StartTime.Unix(), e.EndTime.Unix(), string(e.Status), e.RSAPublicKeyPEM,
		e.CreatedAt.Unix(), e.UpdatedAt.Unix())
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: election %s already exists", ErrDuplicate, e.ID)
		}
		return fmt.Errorf("insert election: %w", err)
	}

	for _, c := range e.Candidates {
		if _, err := tx.Exec(`INSERT INTO candidates(election_id, candidate_id, name) VALUES (?, ?, ?)`,
			e.ID, c.ID, c.Name); err != nil {
			return fmt.Errorf("insert candidate %d: %w", c.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO tallies(election_id, candidate_id, count) VALUES (?, ?, 0)`,
			e.ID, c.ID); err != nil {
			return fmt.Errorf("insert tally row %d: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// AddCandidate inserts a candidate into an existing election.
func (s *Store) AddCandidate(electionID string, c types.Candidate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO candidates(election_id, candidate_id, name) VALUES (?, ?, ?)`,
		electionID, c.ID, c.Name); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: candidate %d already exists", ErrDuplicate, c.ID)
		}
		return err
	}
	if _, err := tx.Exec(`INSERT INTO tallies(election_id, candidate_id, count) VALUES (?, ?, 0)`,
		electionID, c.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// AddVoter inserts a voter into an election's roster. Idempotent: a
// repeated (electionID, pubkeyHex) pair succeeds without error.
func (s *Store) AddVoter(electionID, pubkeyHex, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`INSERT INTO election_voters(election_id, voter_pubkey, name) VALUES (?, ?, ?)
		ON CONFLICT(election_id, voter_pubkey) DO NOTHING`, electionID, pubkeyHex, name)
	return err
}

// UpdateStatus transitions an election to a new status and bumps
// updated_at.
func (s *Store) UpdateStatus(electionID string, status types.Status, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`UPDATE elections SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now.Unix(), electionID)
	return err
}

// RecordBallot atomically inserts the fingerprint and increments the
// candidate's tally. On primary-key conflict the whole unit fails with
// ErrAlreadyConsumed and nothing changes.
func (s *Store) RecordBallot(electionID, fingerprintHex string, candidateID uint8) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO consumed_fingerprints(election_id, fingerprint_hex) VALUES (?, ?)`,
		electionID, fingerprintHex); err != nil {
		if isConstraintErr(err) {
			return ErrAlreadyConsumed
		}
		return fmt.Errorf("insert fingerprint: %w", err)
	}

	if _, err := tx.Exec(`UPDATE tallies SET count = count + 1 WHERE election_id = ? AND candidate_id = ?`,
		electionID, candidateID); err != nil {
		return fmt.Errorf("increment tally: %w", err)
	}

	return tx.Commit()
}

// LoadAll reconstructs every election (with candidates, voters,
// fingerprints and tallies) from the database, for Registry hydration
// at startup.
func (s *Store) LoadAll() ([]*types.Election, error) {
	rows, err := s.db.Query(`SELECT id, name, start_time, end_time, status, rsa_public_key, created_at, updated_at FROM elections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var elections []*types.Election
	for rows.Next() {
		e := &types.Election{
			AuthorizedVoters:     map[string]string{},
			ConsumedFingerprints: map[string]bool{},
			Tally:                map[uint8]int{},
		}
		var start, end, created, updated int64
		var status string
		if err := rows.Scan(&e.ID, &e.Name, &start, &end, &status, &e.RSAPublicKeyPEM, &created, &updated); err != nil {
			return nil, err
		}
		e.StartTime = time.Unix(start, 0).UTC()
		e.EndTime = time.Unix(end, 0).UTC()
		e.Status = types.Status(status)
		e.CreatedAt = time.Unix(created, 0).UTC()
		e.UpdatedAt = time.Unix(updated, 0).UTC()
		elections = append(elections, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range elections {
		if err := s.loadChildren(e); err != nil {
			return nil, fmt.Errorf("load children of %s: %w", e.ID, err)
		}
	}
	return elections, nil
}

func (s *Store) loadChildren(e *types.Election) error {
	crows, err := s.db.Query(`SELECT candidate_id, name FROM candidates WHERE election_id = ? ORDER BY candidate_id`, e.ID)
	if err != nil {
		return err
	}
	for crows.Next() {
		var c types.Candidate
		var id int
		if err := crows.Scan(&id, &c.Name); err != nil {
			crows.Close()
			return err
		}
		c.ID = uint8(id)
		e.Candidates = append(e.Candidates, c)
	}
	crows.Close()

	vrows, err := s.db.Query(`SELECT voter_pubkey, name FROM election_voters WHERE election_id = ?`, e.ID)
	if err != nil {
		return err
	}
	for vrows.Next() {
		var pk, name string
		if err := vrows.Scan(&pk, &name); err != nil {
			vrows.Close()
			return err
		}
		e.AuthorizedVoters[pk] = name
	}
	vrows.Close()

	frows, err := s.db.Query(`SELECT fingerprint_hex FROM consumed_fingerprints WHERE election_id = ?`, e.ID)
	if err != nil {
		return err
	}
	for frows.Next() {
		var fp string
		if err := frows.Scan(&fp); err != nil {
			frows.Close()
			return err
		}
		e.ConsumedFingerprints[fp] = true
	}
	frows.Close()

	trows, err := s.db.Query(`SELECT candidate_id, count FROM tallies WHERE election_id = ?`, e.ID)
	if err != nil {
		return err
	}
	for trows.Next() {
		var id, count int
		if err := trows.Scan(&id, &count); err != nil {
			trows.Close()
			return err
		}
		e.Tally[uint8(id)] = count
	}
	trows.Close()

	return nil
}

// GetElection returns a single election by id, or ErrNotFound.
func (s *Store) GetElection(id string) (*types.Election, error) {
	all, err := s.db.Query(`SELECT id, name, start_time, end_time, status, rsa_public_key, created_at, updated_at FROM elections WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer all.Close()
	if !all.Next() {
		return nil, ErrNotFound
	}
	e := &types.Election{
		AuthorizedVoters:     map[string]string{},
		ConsumedFingerprints: map[string]bool{},
		Tally:                map[uint8]int{},
	}
	var start, end, created, updated int64
	var status string
	if err := all.Scan(&e.ID, &e.Name, &start, &end, &status, &e.RSAPublicKeyPEM, &created, &updated); err != nil {
		return nil, err
	}
	// Release the single pooled connection before loadChildren queries.
	all.Close()
	e.StartTime = time.Unix(start, 0).UTC()
	e.EndTime = time.Unix(end, 0).UTC()
	e.Status = types.Status(status)
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := s.loadChildren(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListElections pages through elections ordered by created_at.
func (s *Store) ListElections(limit, offset int) ([]*types.Election, error) {
	rows, err := s.db.Query(`SELECT id FROM elections ORDER BY created_at ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*types.Election, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetElection(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// VoterRow is one roster entry returned by ListVoters.
type VoterRow struct {
	ElectionID string
	PubkeyHex  string
	Name       string
}

// ListVoters pages through voter rosters, optionally scoped to a
// single election.
func (s *Store) ListVoters(electionID string, limit, offset int) ([]VoterRow, error) {
	var rows *sql.Rows
	var err error
	if electionID != "" {
		rows, err = s.db.Query(`SELECT election_id, voter_pubkey, name FROM election_voters
			WHERE election_id = ? ORDER BY voter_pubkey LIMIT ? OFFSET ?`, electionID, limit, offset)
	} else {
		rows, err = s.db.Query(`SELECT election_id, voter_pubkey, name FROM election_voters
			ORDER BY election_id, voter_pubkey LIMIT ? OFFSET ?`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VoterRow
	for rows.Next() {
		var v VoterRow
		if err := rows.Scan(&v.ElectionID, &v.PubkeyHex, &v.Name); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
