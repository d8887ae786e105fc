// Package store implements the EC's durable database of record: an
// embedded SQLite database holding elections, candidates, per-election
// voter rosters and consumed credential fingerprints. It is the only
// component that talks to the filesystem for election state, and is
// designed around SQLite's single-writer discipline: one write
// connection serializes every mutation, exactly as spec'd.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/types"
)

// ErrNotFound is returned when a lookup by primary key finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyConsumed is returned by RecordBallot when the fingerprint
// has already been redeemed; no state changes in that case.
var ErrAlreadyConsumed = errors.New("store: fingerprint already consumed")

// ErrDuplicate is returned when an insert collides with an existing
// primary key that is not a fingerprint (e.g. a candidate id already
// in use on the election).
var ErrDuplicate = errors.New("store: already exists")

const schema = `
CREATE TABLE IF NOT EXISTS elections (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL,
	status TEXT NOT NULL,
	rsa_public_key TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS candidates (
	election_id TEXT NOT NULL REFERENCES elections(id),
	candidate_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (election_id, candidate_id)
);

CREATE TABLE IF NOT EXISTS election_voters (
	election_id TEXT NOT NULL REFERENCES elections(id),
	voter_pubkey TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (election_id, voter_pubkey)
);

CREATE TABLE IF NOT EXISTS consumed_fingerprints (
	election_id TEXT NOT NULL REFERENCES elections(id),
	fingerprint_hex TEXT NOT NULL,
	PRIMARY KEY (election_id, fingerprint_hex)
);

CREATE TABLE IF NOT EXISTS tallies (
	election_id TEXT NOT NULL REFERENCES elections(id),
	candidate_id INTEGER NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (election_id, candidate_id)
);
`

// Store is the embedded relational database of record.
type Store struct {
	// writeMu enforces the single-writer discipline above and beyond
	// what SQLite itself already guarantees, so mutating operations
	// observe a consistent view across their read-modify-write steps.
	writeMu sync.Mutex
	db      *sql.DB
}

// Open opens (creating if necessary) the SQLite database file at path
// and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite supports exactly one writer; keep the pool to a single
	// connection for write operations so the file-level lock and our
	// in-process lock agree.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	log.Infow("store opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isConstraintErr(err error) bool {
	var sqerr sqlite3.Error
	if !errors.As(err, &sqerr) {
		return false
	}
	return sqerr.Code == sqlite3.ErrConstraint
}
