// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ChainRecord is the durable position of an unfinished chain.
type ChainRecord struct {
	Chain       Chain     `json:"chain"`
	Next        int       `json:"next"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Journal persists unfinished chains so they survive a restart.
type Journal interface {
	Save(rec ChainRecord) error
	Delete(chainID string) error
	List() ([]ChainRecord, error)
}

// NopJournal forgets everything.
type NopJournal struct{}

func (NopJournal) Save(ChainRecord) error { return nil }
func (NopJournal) Delete(string) error { return nil }
func (NopJournal) List() ([]ChainRecord, error) { return nil, nil }

const chainKeyPrefix = "chain:"

// BadgerJournal stores one JSON record per chain under "chain:<id>".
type BadgerJournal struct {
	db *badger.DB
}

// OpenBadgerJournal opens (or creates) the journal directory.
func OpenBadgerJournal(dir string) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("queue: open journal: %w", err)
	}
	return &BadgerJournal{db: db}, nil
}

// OpenInMemoryJournal returns a non-durable badger journal for tests.
func OpenInMemoryJournal() (*BadgerJournal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("queue: open journal: %w", err)
	}
	return &BadgerJournal{db: db}, nil
}

func (j *BadgerJournal) Close() error { return j.db.Close() }

func (j *BadgerJournal) Save(rec ChainRecord) error {
	if rec.Chain.ID == "" {
		return errors.New("queue: journal record without chain id")
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: encode journal record: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chainKeyPrefix+rec.Chain.ID), buf)
	})
}

func (j *BadgerJournal) Delete(chainID string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(chainKeyPrefix + chainID))
	})
}

// List returns all records ordered by submission time.
func (j *BadgerJournal) List() ([]ChainRecord, error) {
	var out []ChainRecord
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(chainKeyPrefix), PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec ChainRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: list journal: %w", err)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SubmittedAt.Before(out[b].SubmittedAt) })
	return out, nil
}

var (
	_ Journal = NopJournal{}
	_ Journal = (*BadgerJournal)(nil)
)
