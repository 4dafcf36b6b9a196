// Copyright 2025 Certen Protocol
//
// Package storage implements spec §6.3's KEL, Receipts-NT/T and
// Accepted-replies tables, plus a duplicitous-event table and the
// accumulated identifier state, over a pluggable key-value store, the same division of concerns as the teacher's pkg/ledger
// (LedgerStore over a KV interface) plus pkg/kvdb's CometBFT-backed
// adapter. Escrow persistence itself is not implemented here: spec §6.3
// allows escrows to be eventually consistent because every escrow
// operation is idempotent, and the in-process buffers pkg/keri/escrow
// already provides satisfy that.
package storage

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KV is the minimal key-value contract every table in this package is built
// on, adapted from the teacher's ledger.KV (pkg/ledger/store.go). That
// interface's own comment — "Optional: Has, Delete, Iterator, etc." — is
// exercised here: Delete and Iterator are promoted from optional to
// required, although Store itself reads and writes only through Get and
// Set.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterator(start, end []byte) (dbm.Iterator, error)
}

// KVAdapter wraps a CometBFT dbm.DB and exposes KV, grounded on
// pkg/kvdb/adapter.go's KVAdapter.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter constructs an adapter over an already-open CometBFT database.
func NewKVAdapter(db dbm.DB) *KVAdapter { return &KVAdapter{db: db} }

func (a *KVAdapter) Get(key []byte) ([]byte, error) { return a.db.Get(key) }

// Set writes synchronously, matching KVAdapter.Set's "durable writes at
// commit time" rationale: a KEL append must be durable before the processor
// reports acceptance (spec §5 "an append to a KEL must be atomic with
// respect to reads of that KEL").
func (a *KVAdapter) Set(key, value []byte) error { return a.db.SetSync(key, value) }

func (a *KVAdapter) Delete(key []byte) error { return a.db.DeleteSync(key) }

func (a *KVAdapter) Iterator(start, end []byte) (dbm.Iterator, error) {
	return a.db.Iterator(start, end)
}
