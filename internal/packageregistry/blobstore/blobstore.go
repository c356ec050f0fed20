// Package blobstore implements the §4.7 storage-backend contract
// (store/retrieve/delete archive bytes, addressed by an opaque
// registry_id) on go.etcd.io/bbolt, adapted from the teacher's
// WorkflowStore (services/orchestrator/persistence.go): one bucket keyed
// by id, values carrying a leading SHA-256 checksum for corruption
// detection on read.
package blobstore

import (
	"context"
	"crypto/sha256"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/fluxion/internal/model"
)

var bucketArchives = []byte("archives")

const checksumLen = sha256.Size

// Kind values for blobstore.Error.
const (
	KindInvalidID      = "InvalidId"
	KindDataCorruption = "DataCorruption"
)

// Error is the blobstore package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

// Store is a bbolt-backed archive blob store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArchives)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create archives bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Store writes data under a freshly generated id and returns it.
func (s *Store) Store(ctx context.Context, data []byte) (string, error) {
	id := model.NewID().String()
	sum := sha256.Sum256(data)
	record := make([]byte, 0, checksumLen+len(data))
	record = append(record, sum[:]...)
	record = append(record, data...)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchives).Put([]byte(id), record)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Retrieve reads data back by id, verifying its stored checksum.
func (s *Store) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if _, err := model.ParseID(id); err != nil {
		return nil, &Error{kind: KindInvalidID, msg: "invalid registry id: " + id}
	}
	var record []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketArchives).Get([]byte(id))
		if v != nil {
			record = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if len(record) < checksumLen {
		return nil, &Error{kind: KindDataCorruption, msg: "stored blob shorter than checksum: " + id}
	}
	wantSum, data := record[:checksumLen], record[checksumLen:]
	gotSum := sha256.Sum256(data)
	for i := range gotSum {
		if wantSum[i] != gotSum[i] {
			return nil, &Error{kind: KindDataCorruption, msg: "checksum mismatch for blob: " + id}
		}
	}
	if len(data) == 0 {
		return nil, &Error{kind: KindDataCorruption, msg: "stored blob is empty: " + id}
	}
	return data, nil
}

// Delete removes a blob by id. Idempotent: deleting an absent id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := model.ParseID(id); err != nil {
		return &Error{kind: KindInvalidID, msg: "invalid registry id: " + id}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchives).Delete([]byte(id))
	})
}
