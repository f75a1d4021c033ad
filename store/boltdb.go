package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

var (
	apiKeysBucket = []byte(apiKeysTable)
	zonesBucket   = []byte(zonesTable)
	recordsBucket = []byte(recordsTable)
	logsBucket    = []byte(logsTable)
)

// BoltDBStore implements the Store interface using a persistent BoltDB instance
// Values are stored as JSON, numeric IDs come from the bucket sequence
type BoltDBStore struct {
	db     *bolt.DB
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewBoltDBStore creates a BoltDBStore persisting its state in the given directory
func NewBoltDBStore(logger *zap.SugaredLogger, dataDir string) (*BoltDBStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, "cf-ddns.db"), 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{apiKeysBucket, zonesBucket, recordsBucket, logsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltDBStore{db: db, now: time.Now, logger: logger.Named("boltdb-store")}, nil
}

// CleanUp ensures any pending writes are flushed to disk
// It should be called before closing the program to ensure there is no dataloss
func (store *BoltDBStore) CleanUp() {
	store.logger.Info("Close boltdb connection")
	if err := store.db.Close(); err != nil {
		store.logger.Errorw("Failed to close boltdb", "err", err)
	}
}

func (store *BoltDBStore) SaveAPIKey(_ context.Context, key types.APIKey) (types.APIKey, error) {
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(apiKeysBucket)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			existing := types.APIKey{}
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Token != key.Token {
				continue
			}
			if key.Name == "" || key.Name == existing.Name {
				key = existing
				return nil
			}
			existing.Name = key.Name
			key = existing
			return putJSON(bucket, k, key)
		}

		// New credential
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key.ID = int64(seq)
		if key.CreatedAt.IsZero() {
			key.CreatedAt = store.now().UTC()
		}
		return putJSON(bucket, itob(key.ID), key)
	})
	if err != nil {
		return types.APIKey{}, err
	}
	return key, nil
}

func (store *BoltDBStore) GetAPIKey(_ context.Context, id int64) (types.APIKey, error) {
	key := types.APIKey{}
	err := store.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(apiKeysBucket), itob(id), &key)
	})
	return key, err
}

func (store *BoltDBStore) ListAPIKeys(context.Context) ([]types.APIKey, error) {
	out := []types.APIKey{}
	err := store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(apiKeysBucket).ForEach(func(_, v []byte) error {
			key := types.APIKey{}
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			out = append(out, key)
			return nil
		})
	})
	return out, err
}

func (store *BoltDBStore) DeleteAPIKey(_ context.Context, id int64) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		keys := tx.Bucket(apiKeysBucket)
		if keys.Get(itob(id)) == nil {
			return ErrNotFound
		}

		zoneIDs := map[string]bool{}
		err := deleteMatching(tx.Bucket(zonesBucket), func(v []byte) (bool, error) {
			zone := types.Zone{}
			if err := json.Unmarshal(v, &zone); err != nil {
				return false, err
			}
			if zone.APIKeyID != id {
				return false, nil
			}
			zoneIDs[zone.ID] = true
			return true, nil
		})
		if err != nil {
			return err
		}

		recordIDs := map[string]bool{}
		err = deleteMatching(tx.Bucket(recordsBucket), func(v []byte) (bool, error) {
			record := types.DNSRecord{}
			if err := json.Unmarshal(v, &record); err != nil {
				return false, err
			}
			if !zoneIDs[record.ZoneID] {
				return false, nil
			}
			recordIDs[record.ID] = true
			return true, nil
		})
		if err != nil {
			return err
		}

		err = deleteMatching(tx.Bucket(logsBucket), func(v []byte) (bool, error) {
			entry := types.UpdateLogEntry{}
			if err := json.Unmarshal(v, &entry); err != nil {
				return false, err
			}
			return recordIDs[entry.RecordID], nil
		})
		if err != nil {
			return err
		}
		store.logger.Infow("Deleted api key", "apiKeyID", id, "zones", len(zoneIDs), "records", len(recordIDs))
		return keys.Delete(itob(id))
	})
}

func (store *BoltDBStore) SaveZone(_ context.Context, zone types.Zone) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(zonesBucket), []byte(zone.ID), zone)
	})
}

func (store *BoltDBStore) GetZone(_ context.Context, id string) (types.Zone, error) {
	zone := types.Zone{}
	err := store.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(zonesBucket), []byte(id), &zone)
	})
	return zone, err
}

func (store *BoltDBStore) ListZones(_ context.Context, apiKeyID int64) ([]types.Zone, error) {
	out := []types.Zone{}
	err := store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(zonesBucket).ForEach(func(_, v []byte) error {
			zone := types.Zone{}
			if err := json.Unmarshal(v, &zone); err != nil {
				return err
			}
			if apiKeyID == 0 || zone.APIKeyID == apiKeyID {
				out = append(out, zone)
			}
			return nil
		})
	})
	return out, err
}

func (store *BoltDBStore) SaveRecord(_ context.Context, record types.DNSRecord) error {
	record.Normalize()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = store.now().UTC()
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(recordsBucket), []byte(record.ID), record)
	})
}

func (store *BoltDBStore) GetRecord(_ context.Context, id string) (types.DNSRecord, error) {
	record := types.DNSRecord{}
	err := store.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(recordsBucket), []byte(id), &record)
	})
	return record, err
}

func (store *BoltDBStore) ListRecords(_ context.Context, zoneID string) ([]types.DNSRecord, error) {
	out := []types.DNSRecord{}
	err := store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			record := types.DNSRecord{}
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.ZoneID == zoneID {
				out = append(out, record)
			}
			return nil
		})
	})
	return out, err
}

func (store *BoltDBStore) DeleteRecord(_ context.Context, id string) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		if bucket.Get([]byte(id)) == nil {
			store.logger.Warnw("Tried to remove a record that was not present in the store", "recordID", id)
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

func (store *BoltDBStore) SetAutoUpdate(_ context.Context, id string, enabled bool) error {
	return store.modifyRecord(id, func(record *types.DNSRecord) {
		record.AutoUpdate = enabled
	})
}

func (store *BoltDBStore) ApplyUpdate(_ context.Context, recordID string, state types.RecordState) error {
	return store.modifyRecord(recordID, func(record *types.DNSRecord) {
		applyState(record, state)
	})
}

func (store *BoltDBStore) modifyRecord(id string, modify func(*types.DNSRecord)) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		record := types.DNSRecord{}
		if err := getJSON(bucket, []byte(id), &record); err != nil {
			return err
		}
		modify(&record)
		record.UpdatedAt = store.now().UTC()
		return putJSON(bucket, []byte(id), record)
	})
}

func (store *BoltDBStore) ListAutoUpdateEligible(_ context.Context, apiKeyID int64) ([]types.EligibleRecord, error) {
	out := []types.EligibleRecord{}
	err := store.db.View(func(tx *bolt.Tx) error {
		zones := tx.Bucket(zonesBucket)
		keys := tx.Bucket(apiKeysBucket)

		// Keys are sorted, so the result is ordered by record ID
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			record := types.DNSRecord{}
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if !record.IsEligible() {
				return nil
			}
			zone := types.Zone{}
			if err := getJSON(zones, []byte(record.ZoneID), &zone); err != nil {
				store.logger.Warnw("Skipping record without zone", "recordID", record.ID, "zoneID", record.ZoneID, "err", err)
				return nil
			}
			if apiKeyID != 0 && zone.APIKeyID != apiKeyID {
				return nil
			}
			key := types.APIKey{}
			if err := getJSON(keys, itob(zone.APIKeyID), &key); err != nil {
				store.logger.Warnw("Skipping record without credential", "recordID", record.ID, "apiKeyID", zone.APIKeyID, "err", err)
				return nil
			}
			out = append(out, types.EligibleRecord{
				Record:   record,
				ZoneName: zone.Name,
				Token:    key.Token,
				APIKeyID: zone.APIKeyID,
			})
			return nil
		})
	})
	return out, err
}

func (store *BoltDBStore) AppendLog(_ context.Context, entry types.UpdateLogEntry) (types.UpdateLogEntry, error) {
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = int64(seq)
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = store.now().UTC()
		}
		return putJSON(bucket, itob(entry.ID), entry)
	})
	if err != nil {
		return types.UpdateLogEntry{}, err
	}
	return entry, nil
}

func (store *BoltDBStore) ListLogs(_ context.Context, filter types.LogFilter) ([]types.UpdateLogEntry, error) {
	out := []types.UpdateLogEntry{}
	err := store.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(logsBucket).Cursor()
		// Walk backwards, the sequence keys make this newest first
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			entry := types.UpdateLogEntry{}
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !filter.Matches(&entry) {
				continue
			}
			out = append(out, entry)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// deleteMatching removes every entry for which match returns true. Keys are
// collected first: deleting while a cursor is iterating skips entries.
func deleteMatching(bucket *bolt.Bucket, match func(v []byte) (bool, error)) error {
	doomed := [][]byte{}
	err := bucket.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if ok {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return err
	})
	if err != nil {
		return err
	}
	for _, k := range doomed {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func putJSON(bucket *bolt.Bucket, key []byte, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return bucket.Put(key, payload)
}

func getJSON(bucket *bolt.Bucket, key []byte, value any) error {
	raw := bucket.Get(key)
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, value)
}

// itob encodes an ID big endian so bolt keeps the keys in numeric order
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
