package store

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

const (
	apiKeysTable = "api-keys"
	zonesTable   = "zones"
	recordsTable = "dns-records"
	logsTable    = "update-logs"
)

// MemoryStore implements the Store interface using an ephemeral in memory database
type MemoryStore struct {
	db        *memdb.MemDB
	lastKeyID atomic.Int64
	lastLogID atomic.Int64
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewMemoryStore returns a new instance of a MemoryStore
func NewMemoryStore(logger *zap.SugaredLogger) (*MemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			apiKeysTable: {
				Name: apiKeysTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"token": {Name: "token", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Token"}},
				},
			},
			zonesTable: {
				Name: zonesTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"apikey": {Name: "apikey", Indexer: &memdb.IntFieldIndex{Field: "APIKeyID"}},
				},
			},
			recordsTable: {
				Name: recordsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id":         {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"zone":       {Name: "zone", Indexer: &memdb.StringFieldIndex{Field: "ZoneID"}},
					"autoupdate": {Name: "autoupdate", Indexer: &memdb.BoolFieldIndex{Field: "AutoUpdate"}},
				},
			},
			logsTable: {
				Name: logsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"record": {Name: "record", Indexer: &memdb.StringFieldIndex{Field: "RecordID"}},
					"run":    {Name: "run", AllowMissing: true, Indexer: &memdb.StringFieldIndex{Field: "RunID"}},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{db: db, now: time.Now, logger: logger.Named("memory-store")}, nil
}

// CleanUp is a no-op for the MemoryStore
func (*MemoryStore) CleanUp() {}

func (store *MemoryStore) SaveAPIKey(_ context.Context, key types.APIKey) (types.APIKey, error) {
	txn := store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(apiKeysTable, "token", key.Token)
	if err != nil {
		return types.APIKey{}, err
	}
	if raw != nil {
		existing := *raw.(*types.APIKey)
		if key.Name == "" || key.Name == existing.Name {
			return existing, nil
		}
		existing.Name = key.Name
		key = existing
	} else {
		key.ID = store.lastKeyID.Add(1)
		if key.CreatedAt.IsZero() {
			key.CreatedAt = store.now().UTC()
		}
	}
	if err = txn.Insert(apiKeysTable, &key); err != nil {
		return types.APIKey{}, err
	}
	txn.Commit()
	return key, nil
}

func (store *MemoryStore) GetAPIKey(_ context.Context, id int64) (types.APIKey, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(apiKeysTable, "id", id)
	if err != nil {
		return types.APIKey{}, err
	}
	if raw == nil {
		return types.APIKey{}, ErrNotFound
	}
	return *raw.(*types.APIKey), nil
}

func (store *MemoryStore) ListAPIKeys(context.Context) ([]types.APIKey, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get(apiKeysTable, "id")
	if err != nil {
		return nil, err
	}
	out := []types.APIKey{}
	for item := iterator.Next(); item != nil; item = iterator.Next() {
		out = append(out, *item.(*types.APIKey))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (store *MemoryStore) DeleteAPIKey(_ context.Context, id int64) error {
	txn := store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(apiKeysTable, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}

	zones, err := collect(txn, zonesTable, "apikey", id)
	if err != nil {
		return err
	}
	for _, zone := range zones {
		records, err := collect(txn, recordsTable, "zone", zone.(*types.Zone).ID)
		if err != nil {
			return err
		}
		for _, record := range records {
			if _, err := txn.DeleteAll(logsTable, "record", record.(*types.DNSRecord).ID); err != nil {
				return err
			}
			if err := txn.Delete(recordsTable, record); err != nil {
				return err
			}
		}
		if err := txn.Delete(zonesTable, zone); err != nil {
			return err
		}
	}
	if err := txn.Delete(apiKeysTable, raw); err != nil {
		return err
	}
	txn.Commit()
	store.logger.Infow("Deleted api key", "apiKeyID", id, "zones", len(zones))
	return nil
}

// collect reads all matches up front so they can be deleted in the same transaction
func collect(txn *memdb.Txn, table string, index string, args ...interface{}) ([]interface{}, error) {
	iterator, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, err
	}
	out := []interface{}{}
	for item := iterator.Next(); item != nil; item = iterator.Next() {
		out = append(out, item)
	}
	return out, nil
}

func (store *MemoryStore) SaveZone(_ context.Context, zone types.Zone) error {
	txn := store.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(zonesTable, &zone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (store *MemoryStore) GetZone(_ context.Context, id string) (types.Zone, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(zonesTable, "id", id)
	if err != nil {
		return types.Zone{}, err
	}
	if raw == nil {
		return types.Zone{}, ErrNotFound
	}
	return *raw.(*types.Zone), nil
}

func (store *MemoryStore) ListZones(_ context.Context, apiKeyID int64) ([]types.Zone, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	var iterator memdb.ResultIterator
	var err error
	if apiKeyID == 0 {
		iterator, err = txn.Get(zonesTable, "id")
	} else {
		iterator, err = txn.Get(zonesTable, "apikey", apiKeyID)
	}
	if err != nil {
		return nil, err
	}
	out := []types.Zone{}
	for item := iterator.Next(); item != nil; item = iterator.Next() {
		out = append(out, *item.(*types.Zone))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (store *MemoryStore) SaveRecord(_ context.Context, record types.DNSRecord) error {
	txn := store.db.Txn(true)
	defer txn.Abort()

	record.Normalize()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = store.now().UTC()
	}
	if err := txn.Insert(recordsTable, &record); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (store *MemoryStore) GetRecord(_ context.Context, id string) (types.DNSRecord, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(recordsTable, "id", id)
	if err != nil {
		return types.DNSRecord{}, err
	}
	if raw == nil {
		return types.DNSRecord{}, ErrNotFound
	}
	return *raw.(*types.DNSRecord), nil
}

func (store *MemoryStore) ListRecords(_ context.Context, zoneID string) ([]types.DNSRecord, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get(recordsTable, "zone", zoneID)
	if err != nil {
		return nil, err
	}
	out := []types.DNSRecord{}
	for item := iterator.Next(); item != nil; item = iterator.Next() {
		out = append(out, *item.(*types.DNSRecord))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (store *MemoryStore) DeleteRecord(_ context.Context, id string) error {
	txn := store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(recordsTable, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		store.logger.Warnw("Tried to remove a record that was not present in the store", "recordID", id)
		return nil
	}
	if err = txn.Delete(recordsTable, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (store *MemoryStore) SetAutoUpdate(_ context.Context, id string, enabled bool) error {
	return store.modifyRecord(id, func(record *types.DNSRecord) {
		record.AutoUpdate = enabled
	})
}

func (store *MemoryStore) ApplyUpdate(_ context.Context, recordID string, state types.RecordState) error {
	return store.modifyRecord(recordID, func(record *types.DNSRecord) {
		applyState(record, state)
	})
}

// modifyRecord replaces the stored record with a modified copy, memdb objects are never mutated in place
func (store *MemoryStore) modifyRecord(id string, modify func(*types.DNSRecord)) error {
	txn := store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(recordsTable, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	record := *raw.(*types.DNSRecord)
	modify(&record)
	record.UpdatedAt = store.now().UTC()
	if err = txn.Insert(recordsTable, &record); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (store *MemoryStore) ListAutoUpdateEligible(_ context.Context, apiKeyID int64) ([]types.EligibleRecord, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get(recordsTable, "autoupdate", true)
	if err != nil {
		return nil, err
	}

	out := []types.EligibleRecord{}
	for item := iterator.Next(); item != nil; item = iterator.Next() {
		record := *item.(*types.DNSRecord)
		if !record.IsEligible() {
			continue
		}
		rawZone, err := txn.First(zonesTable, "id", record.ZoneID)
		if err != nil {
			return nil, err
		}
		if rawZone == nil {
			store.logger.Warnw("Skipping record without zone", "recordID", record.ID, "zoneID", record.ZoneID)
			continue
		}
		zone := rawZone.(*types.Zone)
		if apiKeyID != 0 && zone.APIKeyID != apiKeyID {
			continue
		}
		rawKey, err := txn.First(apiKeysTable, "id", zone.APIKeyID)
		if err != nil {
			return nil, err
		}
		if rawKey == nil {
			store.logger.Warnw("Skipping record without credential", "recordID", record.ID, "apiKeyID", zone.APIKeyID)
			continue
		}
		out = append(out, types.EligibleRecord{
			Record:   record,
			ZoneName: zone.Name,
			Token:    rawKey.(*types.APIKey).Token,
			APIKeyID: zone.APIKeyID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.ID < out[j].Record.ID })
	return out, nil
}

func (store *MemoryStore) AppendLog(_ context.Context, entry types.UpdateLogEntry) (types.UpdateLogEntry, error) {
	txn := store.db.Txn(true)
	defer txn.Abort()

	entry.ID = store.lastLogID.Add(1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = store.now().UTC()
	}
	if err := txn.Insert(logsTable, &entry); err != nil {
		return types.UpdateLogEntry{}, err
	}
	txn.Commit()
	return entry, nil
}

func (store *MemoryStore) ListLogs(_ context.Context, filter types.LogFilter) ([]types.UpdateLogEntry, error) {
	txn := store.db.Txn(false)
	defer txn.Abort()

	var iterator memdb.ResultIterator
	var err error
	switch {
	case filter.RunID != "":
		iterator, err = txn.Get(logsTable, "run", filter.RunID)
	case filter.RecordID != "":
		iterator, err = txn.Get(logsTable, "record", filter.RecordID)
	default:
		iterator, err = txn.Get(logsTable, "id")
	}
	if err != nil {
		return nil, err
	}

	out := []types.UpdateLogEntry{}
	for item := iterator.Next(); item != nil; item = iterator.Next() {
		entry := item.(*types.UpdateLogEntry)
		if filter.Matches(entry) {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
