package store

import (
	"context"
	"errors"

	"github.com/wdullaer/cf-ddns/types"
)

// ErrNotFound is returned when a requested entity does not exist in the store
var ErrNotFound = errors.New("not found")

// Store is the durable local mirror of provider state: credentials, zones, records and the
// append-only update log
type Store interface {
	// CleanUp ensures any pending operations on the store are executed before closing down
	CleanUp()

	// SaveAPIKey inserts the key, or renames it when the token is already known
	// The returned key carries the assigned ID
	SaveAPIKey(ctx context.Context, key types.APIKey) (types.APIKey, error)
	GetAPIKey(ctx context.Context, id int64) (types.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]types.APIKey, error)
	// DeleteAPIKey removes the key together with its zones, their records and the
	// update log entries of those records
	DeleteAPIKey(ctx context.Context, id int64) error

	SaveZone(ctx context.Context, zone types.Zone) error
	GetZone(ctx context.Context, id string) (types.Zone, error)
	// ListZones returns the zones of one credential, or all zones when apiKeyID is 0
	ListZones(ctx context.Context, apiKeyID int64) ([]types.Zone, error)

	// SaveRecord inserts or fully replaces a record
	SaveRecord(ctx context.Context, record types.DNSRecord) error
	GetRecord(ctx context.Context, id string) (types.DNSRecord, error)
	ListRecords(ctx context.Context, zoneID string) ([]types.DNSRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	SetAutoUpdate(ctx context.Context, id string, enabled bool) error

	// ListAutoUpdateEligible returns the records with auto update enabled and an auto updatable
	// type, joined with their zone name and credential. apiKeyID 0 selects every credential.
	ListAutoUpdateEligible(ctx context.Context, apiKeyID int64) ([]types.EligibleRecord, error)
	// ApplyUpdate persists the state the reconciler wrote to the provider
	ApplyUpdate(ctx context.Context, recordID string, state types.RecordState) error

	// AppendLog adds an entry to the update log. Entries are never changed afterwards,
	// they are only removed together with their credential.
	AppendLog(ctx context.Context, entry types.UpdateLogEntry) (types.UpdateLogEntry, error)
	// ListLogs returns matching log entries, newest first
	ListLogs(ctx context.Context, filter types.LogFilter) ([]types.UpdateLogEntry, error)
}

func applyState(record *types.DNSRecord, state types.RecordState) {
	record.Type = state.Type
	record.Content = state.Content
	record.Proxied = state.Proxied
	record.Normalize()
}
