package store

import "database/sql"

// DB exposes the internal *sql.DB for test helpers in store_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetCommitHook swaps the transaction commit function and returns a
// restore func.
func SetCommitHook(fn func(tx *sql.Tx) error) func() {
	prev := commitTx
	commitTx = fn
	return func() { commitTx = prev }
}
