// Package zonesync mirrors the zones and records of every credential into the local store
package zonesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/wdullaer/cf-ddns/dns"
	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrZoneNotFound is returned when a zone is unknown locally or not owned by the credential
	ErrZoneNotFound = errors.New("zone not found for credential")
	// ErrRecordNotFound is returned when neither the store nor the provider knows a record
	ErrRecordNotFound = errors.New("record not found")
	// ErrMissingScope is returned when a record must be imported but no zone or credential was given
	ErrMissingScope = errors.New("zoneId and apiKeyId are required to import a record")
	// ErrInvalidToken is returned when the provider refuses a credential that is being registered
	ErrInvalidToken = errors.New("provider rejected the api token")
	// ErrAPIKeyNotFound is returned when removing a credential that is not stored
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// Guard runs fn while no reconciliation is in progress
type Guard interface {
	Exclusive(fn func() error) error
}

type unguarded struct{}

func (unguarded) Exclusive(fn func() error) error { return fn() }

// Option configures a Syncer
type Option func(*Syncer)

// WithGuard serializes every operation that rewrites mirrored records with the reconciler.
// A sync overlapping a run could otherwise write back the state it read before the run.
func WithGuard(guard Guard) Option {
	return func(syncer *Syncer) {
		syncer.guard = guard
	}
}

// Result counts what a sync changed in the store
type Result struct {
	Zones   int `json:"zones"`
	Records int `json:"records"`
	Removed int `json:"removed"`
}

func (result *Result) add(other Result) {
	result.Zones += other.Zones
	result.Records += other.Records
	result.Removed += other.Removed
}

// ToggleRequest changes the auto update flag of a record
// ZoneID and APIKeyID are only used when the record still has to be imported
type ToggleRequest struct {
	RecordID string `json:"recordId"`
	Enabled  bool   `json:"autoUpdate"`
	ZoneID   string `json:"zoneId"`
	APIKeyID int64  `json:"apiKeyId"`
}

// Syncer pulls provider state into the store
type Syncer struct {
	store   store.Store
	factory dns.Factory
	guard   Guard
	logger  *zap.SugaredLogger
}

func NewSyncer(store store.Store, factory dns.Factory, logger *zap.SugaredLogger, opts ...Option) *Syncer {
	syncer := &Syncer{
		store:   store,
		factory: factory,
		guard:   unguarded{},
		logger:  logger.Named("zonesync"),
	}
	for _, opt := range opts {
		opt(syncer)
	}
	return syncer
}

// SyncAPIKey refreshes the zones and records of one credential.
// Local auto update flags survive, records the provider no longer has are removed.
func (syncer *Syncer) SyncAPIKey(ctx context.Context, key types.APIKey) (Result, error) {
	var result Result
	err := syncer.guard.Exclusive(func() error {
		var err error
		result, err = syncer.syncAPIKey(ctx, key)
		return err
	})
	return result, err
}

func (syncer *Syncer) syncAPIKey(ctx context.Context, key types.APIKey) (Result, error) {
	result := Result{}
	provider, err := syncer.factory(key.Token)
	if err != nil {
		return result, fmt.Errorf("failed to create provider client: %w", err)
	}

	zones, err := provider.ListZones(ctx)
	if err != nil {
		return result, err
	}

	for _, zone := range zones {
		zone.APIKeyID = key.ID
		if err := syncer.store.SaveZone(ctx, zone); err != nil {
			return result, fmt.Errorf("failed to save zone %s: %w", zone.Name, err)
		}
		result.Zones++

		zoneResult, err := syncer.syncZone(ctx, provider, zone)
		result.add(zoneResult)
		if err != nil {
			return result, err
		}
	}

	syncer.logger.Infow("Synchronized credential",
		"apiKeyID", key.ID,
		"zones", result.Zones,
		"records", result.Records,
		"removed", result.Removed,
	)
	return result, nil
}

func (syncer *Syncer) syncZone(ctx context.Context, provider dns.Provider, zone types.Zone) (Result, error) {
	result := Result{}
	remote, err := provider.ListRecords(ctx, zone.ID)
	if err != nil {
		return result, err
	}
	local, err := syncer.store.ListRecords(ctx, zone.ID)
	if err != nil {
		return result, err
	}

	autoUpdate := make(map[string]bool, len(local))
	for _, record := range local {
		autoUpdate[record.ID] = record.AutoUpdate
	}

	seen := make(map[string]bool, len(remote))
	for _, record := range remote {
		seen[record.ID] = true
		record.ZoneID = zone.ID
		record.AutoUpdate = autoUpdate[record.ID]
		if err := syncer.store.SaveRecord(ctx, record); err != nil {
			return result, fmt.Errorf("failed to save record %s: %w", record.Name, err)
		}
		result.Records++
	}

	for _, record := range local {
		if seen[record.ID] {
			continue
		}
		if err := syncer.store.DeleteRecord(ctx, record.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return result, fmt.Errorf("failed to remove record %s: %w", record.Name, err)
		}
		syncer.logger.Infow("Removed record no longer present at provider", "recordID", record.ID, "name", record.Name)
		result.Removed++
	}
	return result, nil
}

// SyncAll refreshes every stored credential. A failing credential does not stop the others,
// the returned error combines all failures.
func (syncer *Syncer) SyncAll(ctx context.Context) (Result, error) {
	var result Result
	err := syncer.guard.Exclusive(func() error {
		var err error
		result, err = syncer.syncAll(ctx)
		return err
	})
	return result, err
}

func (syncer *Syncer) syncAll(ctx context.Context) (Result, error) {
	result := Result{}
	keys, err := syncer.store.ListAPIKeys(ctx)
	if err != nil {
		return result, err
	}

	var errs error
	for _, key := range keys {
		keyResult, err := syncer.syncAPIKey(ctx, key)
		result.add(keyResult)
		if err != nil {
			syncer.logger.Errorw("Failed to synchronize credential", "apiKeyID", key.ID, "err", err)
			errs = multierr.Append(errs, fmt.Errorf("credential %d: %w", key.ID, err))
		}
	}
	return result, errs
}

// SetAutoUpdate flips the auto update flag of a record. A record that is not mirrored yet is
// looked up at the provider and imported with the requested flag.
func (syncer *Syncer) SetAutoUpdate(ctx context.Context, request ToggleRequest) (types.DNSRecord, error) {
	err := syncer.store.SetAutoUpdate(ctx, request.RecordID, request.Enabled)
	if err == nil {
		syncer.logger.Infow("Changed auto update", "recordID", request.RecordID, "enabled", request.Enabled)
		return syncer.store.GetRecord(ctx, request.RecordID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.DNSRecord{}, err
	}

	if request.ZoneID == "" || request.APIKeyID == 0 {
		return types.DNSRecord{}, ErrMissingScope
	}
	zone, err := syncer.store.GetZone(ctx, request.ZoneID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && zone.APIKeyID != request.APIKeyID) {
		return types.DNSRecord{}, ErrZoneNotFound
	}
	if err != nil {
		return types.DNSRecord{}, err
	}
	key, err := syncer.store.GetAPIKey(ctx, request.APIKeyID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DNSRecord{}, ErrZoneNotFound
	}
	if err != nil {
		return types.DNSRecord{}, err
	}

	provider, err := syncer.factory(key.Token)
	if err != nil {
		return types.DNSRecord{}, fmt.Errorf("failed to create provider client: %w", err)
	}
	remote, err := provider.ListRecords(ctx, zone.ID)
	if err != nil {
		return types.DNSRecord{}, err
	}
	for _, record := range remote {
		if record.ID != request.RecordID {
			continue
		}
		record.ZoneID = zone.ID
		record.AutoUpdate = request.Enabled
		if err := syncer.store.SaveRecord(ctx, record); err != nil {
			return types.DNSRecord{}, err
		}
		syncer.logger.Infow("Imported record from provider", "recordID", record.ID, "name", record.Name, "enabled", request.Enabled)
		return syncer.store.GetRecord(ctx, record.ID)
	}
	return types.DNSRecord{}, ErrRecordNotFound
}
