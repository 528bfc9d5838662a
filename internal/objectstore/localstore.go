// Copyright 2026 CheckoutFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objectstore

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"checkoutfs/internal/util"
)

const localStoreSchemaVersion = "1"

// LocalStore is the on-disk cache of fetched trees and blob metadata,
// backed by a SQLite database. Entries are immutable (objects are
// content-addressed), so cached rows never go stale.
type LocalStore struct {
	path  string
	db    *sql.DB
	bunDB *bun.DB
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout MUST be set first — all subsequent PRAGMAs (especially
	// journal_mode=WAL which needs exclusive access) will wait for locks
	// instead of failing immediately with "database is locked".
	if err := execPragma(db, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	// WAL mode: enables concurrent readers during writes.
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	// synchronous=NORMAL is safe against process crashes in WAL mode, and
	// this is only a cache: losing recent rows just means refetching.
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA cache_size = -8000"); err != nil {
		return fmt.Errorf("failed to set cache_size: %w", err)
	}
	return nil
}

// OpenLocalStore opens (or creates) the local store database at path.
func OpenLocalStore(path string) (*LocalStore, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &LocalStore{
		path:  path,
		db:    db,
		bunDB: bun.NewDB(db, sqlitedialect.New()),
	}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *LocalStore) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_info (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trees (
			hash TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS tree_entries (
			tree_hash TEXT NOT NULL,
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			type INTEGER NOT NULL,
			entry_hash TEXT NOT NULL,
			PRIMARY KEY (tree_hash, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS blob_metadata (
			hash TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			sha1 TEXT NOT NULL,
			type INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create local store schema: %w", err)
		}
	}
	_, err := s.bunDB.NewInsert().
		Model(&SchemaInfoModel{Key: "version", Value: localStoreSchemaVersion}).
		On("CONFLICT (key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// GetTree returns the cached tree with the given hash, or nil on a miss.
func (s *LocalStore) GetTree(ctx context.Context, h Hash) (*Tree, error) {
	var row TreeModel
	err := s.bunDB.NewSelect().
		Model(&row).
		Where("hash = ?", h.String()).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entryRows []TreeEntryModel
	err = s.bunDB.NewSelect().
		Model(&entryRows).
		Where("tree_hash = ?", h.String()).
		Order("idx ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	tree := &Tree{Hash: h, Entries: make([]TreeEntry, 0, len(entryRows))}
	for _, r := range entryRows {
		eh, err := HashFromHex(r.EntryHash)
		if err != nil {
			return nil, fmt.Errorf("cached tree %s: %w", h, err)
		}
		tree.Entries = append(tree.Entries, TreeEntry{
			Name: r.Name,
			Type: EntryType(r.Type),
			Hash: eh,
		})
	}
	return tree, nil
}

// PutTree caches a tree. Uses retry logic to handle transient "database is
// locked" errors from concurrent writers.
func (s *LocalStore) PutTree(ctx context.Context, tree *Tree) error {
	return util.Retry(ctx, func() error {
		return s.putTreeInternal(ctx, tree)
	}, util.DatabaseRetryOptions(ctx)...)
}

func (s *LocalStore) putTreeInternal(ctx context.Context, tree *Tree) error {
	return s.bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(&TreeModel{Hash: tree.Hash.String()}).
			On("CONFLICT (hash) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Already cached; entries are immutable.
			return nil
		}
		for i, e := range tree.Entries {
			_, err := tx.NewInsert().
				Model(&TreeEntryModel{
					TreeHash:  tree.Hash.String(),
					Idx:       int64(i),
					Name:      e.Name,
					Type:      int64(e.Type),
					EntryHash: e.Hash.String(),
				}).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBlobMetadata returns cached metadata for a blob. The bool reports a hit.
func (s *LocalStore) GetBlobMetadata(ctx context.Context, h Hash) (BlobMetadata, bool, error) {
	var row BlobMetadataModel
	err := s.bunDB.NewSelect().
		Model(&row).
		Where("hash = ?", h.String()).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return BlobMetadata{}, false, nil
	}
	if err != nil {
		return BlobMetadata{}, false, err
	}
	sha, err := HashFromHex(row.SHA1)
	if err != nil {
		return BlobMetadata{}, false, fmt.Errorf("cached metadata %s: %w", h, err)
	}
	return BlobMetadata{Size: uint64(row.Size), SHA1: sha, Type: EntryType(row.Type)}, true, nil
}

// PutBlobMetadata caches blob metadata.
func (s *LocalStore) PutBlobMetadata(ctx context.Context, h Hash, md BlobMetadata) error {
	return util.Retry(ctx, func() error {
		_, err := s.bunDB.NewInsert().
			Model(&BlobMetadataModel{
				Hash: h.String(),
				Size: int64(md.Size),
				SHA1: md.SHA1.String(),
				Type: int64(md.Type),
			}).
			On("CONFLICT (hash) DO NOTHING").
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

// Invalidate drops all cached rows. Failures are logged, not returned;
// a cache that fails to empty only costs refetches later.
func (s *LocalStore) Invalidate() {
	ctx := context.Background()
	for _, table := range []string{"tree_entries", "trees", "blob_metadata"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			log.Warnf("[LocalStore] failed to invalidate %s: %v", table, err)
		}
	}
}
