// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package persist is the thin durable-storage adapter. Records are
// bulk-upserted into BadgerDB keyed by (tenant, connection id); durability
// is best effort and never blocks the in-memory hot path.
package persist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/connlens/connlens/internal/logging"
	"github.com/connlens/connlens/internal/models"
)

const keyPrefix = "conn/"

// Adapter wraps a badger database with the persistence operations the
// pipeline needs.
type Adapter struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) the badger database at path.
func Open(path string) (*Adapter, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &Adapter{db: db, now: time.Now}, nil
}

// OpenInMemory opens an in-memory badger instance, used in tests and for
// ephemeral deployments.
func OpenInMemory() (*Adapter, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Adapter{db: db, now: time.Now}, nil
}

// Close flushes and closes the database.
func (a *Adapter) Close() error {
	return a.db.Close()
}

func key(tenantID, id string) []byte {
	return []byte(keyPrefix + tenantID + "/" + id)
}

// UpsertMany writes records in one unordered write batch keyed by
// (tenant, id) and returns the number of records written. A failure on one
// record is logged and does not block the others. Empty input
// short-circuits to 0 without touching the database. Zero timestamps fall
// back to now rather than persisting the zero time.
func (a *Adapter) UpsertMany(ctx context.Context, records []models.Connection) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()

	now := a.now()
	count := 0
	for i := range records {
		rec := records[i]
		rec.TenantID = tenantOrDefault(rec.TenantID)
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		if rec.LastActivity.IsZero() {
			rec.LastActivity = now
		}

		data, err := json.Marshal(&rec)
		if err != nil {
			logging.Err(err).Str("id", rec.ID).Msg("marshal connection for persistence")
			continue
		}
		if err := wb.Set(key(rec.TenantID, rec.ID), data); err != nil {
			logging.Err(err).Str("id", rec.ID).Msg("batch set failed")
			continue
		}
		count++
	}

	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush write batch: %w", err)
	}
	return count, nil
}

// LoadRecent returns up to n records across all tenants, sorted by
// last-activity descending. Used to rehydrate the connection store after a
// restart.
func (a *Adapter) LoadRecent(ctx context.Context, n int) ([]models.Connection, error) {
	if n <= 0 {
		return []models.Connection{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []models.Connection
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec models.Connection
				if err := json.Unmarshal(val, &rec); err != nil {
					logging.Err(err).
						Str("key", string(it.Item().Key())).
						Msg("skipping undecodable record")
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan connections: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastActivity.After(records[j].LastActivity)
	})
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// Delete removes a record from durable storage.
func (a *Adapter) Delete(ctx context.Context, tenantID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(tenantOrDefault(tenantID), id))
	})
}

func tenantOrDefault(tenantID string) string {
	if tenantID == "" {
		return models.DefaultTenant
	}
	return tenantID
}
