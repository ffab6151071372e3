// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package store implements the persistent interaction cache: a BadgerDB-backed
// key-value store of last-known like/bookmark state, namespaced by
// (user, resource), with a 24-hour expiry sweep.
//
// The cache is a best-effort accelerator, never a correctness requirement.
// The synchronizer always reconciles against the server, so every failure
// mode here degrades to "treat as absent": corrupt records, write failures,
// and schema mismatches are logged and swallowed, not surfaced.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/metrics"
	"github.com/pinmapapp/pinsync/internal/models"
)

// MaxRecordAge is the expiry window for cached interaction records.
// Sweep removes everything older; reads do not check age (a stale paint is
// better than an empty one, and the snapshot fetch corrects it).
const MaxRecordAge = 24 * time.Hour

const interactionKeyPrefix = "interaction:"

// InteractionStore persists InteractionRecords in BadgerDB.
type InteractionStore struct {
	db *badger.DB

	// now is swappable for expiry tests.
	now func() time.Time
}

// Open opens (or creates) the badger database at path and returns a store
// over it. The caller owns Close.
func Open(path string) (*InteractionStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open interaction store: %w", err)
	}
	return New(db), nil
}

// New creates a store over an already-open badger database.
// Used by tests and by callers that share one database across stores.
func New(db *badger.DB) *InteractionStore {
	return &InteractionStore{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *InteractionStore) Close() error {
	return s.db.Close()
}

// recordKey builds the namespaced key for a (user, resource) pair.
func recordKey(userID, resourceID string) []byte {
	return []byte(interactionKeyPrefix + userID + ":" + resourceID)
}

// userPrefix builds the key prefix covering all of one user's records.
func userPrefix(userID string) []byte {
	return []byte(interactionKeyPrefix + userID + ":")
}

// Get returns the cached record for (userID, resourceID). It never fails:
// absent keys, unreadable values, and records with an unknown schema version
// all come back as the zero record (every field unknown).
func (s *InteractionStore) Get(userID, resourceID string) models.InteractionRecord {
	var rec models.InteractionRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(userID, resourceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		metrics.CacheMisses.Inc()
		return models.InteractionRecord{}
	case err != nil:
		// Corrupt value: treat as absent.
		logging.Warn().Err(err).Str("user", userID).Str("resource", resourceID).
			Msg("unreadable interaction record, treating as absent")
		metrics.CacheMisses.Inc()
		return models.InteractionRecord{}
	}

	if rec.Schema != models.InteractionSchemaVersion {
		logging.Debug().Int("schema", rec.Schema).Str("resource", resourceID).
			Msg("discarding interaction record with unknown schema")
		metrics.CacheMisses.Inc()
		return models.InteractionRecord{}
	}

	metrics.CacheHits.Inc()
	return rec
}

// Set shallow-merges partial into the existing record for (userID,
// resourceID), stamps UpdatedAt, and persists. Write failures are logged and
// swallowed; the cache must never turn a successful mutation into an error.
func (s *InteractionStore) Set(userID, resourceID string, partial models.InteractionRecord) {
	key := recordKey(userID, resourceID)

	err := s.db.Update(func(txn *badger.Txn) error {
		var existing models.InteractionRecord
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// First write for this pair.
		case err != nil:
			return fmt.Errorf("read existing record: %w", err)
		default:
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); verr != nil || existing.Schema != models.InteractionSchemaVersion {
				// Corrupt or foreign-schema record: start fresh.
				existing = models.InteractionRecord{}
			}
		}

		merged := existing.Merge(partial)
		merged.Schema = models.InteractionSchemaVersion
		merged.UpdatedAt = s.now()

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		logging.Warn().Err(err).Str("user", userID).Str("resource", resourceID).
			Msg("interaction cache write failed")
		metrics.CacheWriteErrors.Inc()
	}
}

// Clear removes the record for one (user, resource) pair.
// Used on resource deletion.
func (s *InteractionStore) Clear(userID, resourceID string) {
	err := s.db.Update(func(txn *badger.Txn) error {
		if derr := txn.Delete(recordKey(userID, resourceID)); derr != nil && !errors.Is(derr, badger.ErrKeyNotFound) {
			return derr
		}
		return nil
	})
	if err != nil {
		logging.Warn().Err(err).Str("resource", resourceID).Msg("interaction cache clear failed")
	}
}

// ClearAll removes every record belonging to userID. Used on sign-out.
// Prefix-keyed storage means no per-user container is left behind.
func (s *InteractionStore) ClearAll(userID string) {
	keys := s.collectKeys(userPrefix(userID), nil)
	s.deleteKeys(keys)
}

// Sweep removes every record whose UpdatedAt is older than MaxRecordAge and
// returns the number removed. Runs at process start and periodically via the
// Sweeper service.
func (s *InteractionStore) Sweep() int {
	cutoff := s.now().Add(-MaxRecordAge)

	keys := s.collectKeys([]byte(interactionKeyPrefix), func(val []byte) bool {
		var rec models.InteractionRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			// Unreadable entries are swept too.
			return true
		}
		return rec.UpdatedAt.Before(cutoff)
	})

	removed := s.deleteKeys(keys)
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("interaction cache sweep complete")
		metrics.CacheSweptRecords.Add(float64(removed))
	}
	return removed
}

// collectKeys returns every key under prefix whose value matches the filter
// (nil filter matches everything).
func (s *InteractionStore) collectKeys(prefix []byte, match func(val []byte) bool) [][]byte {
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = match != nil
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if match == nil {
				keys = append(keys, item.KeyCopy(nil))
				continue
			}
			err := item.Value(func(val []byte) error {
				if match(val) {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		logging.Warn().Err(err).Msg("interaction cache scan failed")
	}
	return keys
}

// deleteKeys deletes the given keys, returning how many were removed.
func (s *InteractionStore) deleteKeys(keys [][]byte) int {
	count := 0
	for _, key := range keys {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			logging.Warn().Err(err).Msg("interaction cache delete failed")
			continue
		}
		count++
	}
	return count
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Trace().Msgf("badger: "+format, args...)
}
