package zonesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/wdullaer/cf-ddns/dns"
	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
)

// CreateRequest describes a record to create at the provider and mirror locally
type CreateRequest struct {
	ZoneID     string           `json:"zoneId"`
	Name       string           `json:"name"`
	Type       types.RecordType `json:"type"`
	Content    string           `json:"content"`
	TTL        int              `json:"ttl"`
	Proxied    bool             `json:"proxied"`
	AutoUpdate bool             `json:"autoUpdate"`
}

// zoneProvider resolves a stored zone and a provider client for the credential owning it
func (syncer *Syncer) zoneProvider(ctx context.Context, zoneID string) (types.Zone, dns.Provider, error) {
	zone, err := syncer.store.GetZone(ctx, zoneID)
	if errors.Is(err, store.ErrNotFound) {
		return zone, nil, ErrZoneNotFound
	}
	if err != nil {
		return zone, nil, err
	}
	key, err := syncer.store.GetAPIKey(ctx, zone.APIKeyID)
	if errors.Is(err, store.ErrNotFound) {
		return zone, nil, ErrZoneNotFound
	}
	if err != nil {
		return zone, nil, err
	}
	provider, err := syncer.factory(key.Token)
	if err != nil {
		return zone, nil, fmt.Errorf("failed to create provider client: %w", err)
	}
	return zone, provider, nil
}

// ListRecords returns the live records of a zone with the locally stored auto update flags
func (syncer *Syncer) ListRecords(ctx context.Context, zoneID string) ([]types.DNSRecord, error) {
	zone, provider, err := syncer.zoneProvider(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	remote, err := provider.ListRecords(ctx, zone.ID)
	if err != nil {
		return nil, err
	}
	local, err := syncer.store.ListRecords(ctx, zone.ID)
	if err != nil {
		return nil, err
	}

	autoUpdate := make(map[string]bool, len(local))
	for _, record := range local {
		autoUpdate[record.ID] = record.AutoUpdate
	}
	for i := range remote {
		remote[i].ZoneID = zone.ID
		remote[i].AutoUpdate = autoUpdate[remote[i].ID]
	}
	return remote, nil
}

// CreateRecord creates a record at the provider and stores it with the requested auto update flag
func (syncer *Syncer) CreateRecord(ctx context.Context, request CreateRequest) (types.DNSRecord, error) {
	zone, provider, err := syncer.zoneProvider(ctx, request.ZoneID)
	if err != nil {
		return types.DNSRecord{}, err
	}
	record, err := provider.CreateRecord(ctx, zone.ID, dns.RecordParams{
		Name:    request.Name,
		Type:    request.Type,
		Content: request.Content,
		TTL:     request.TTL,
		Proxied: request.Proxied && request.Type.IsProxiable(),
	})
	if err != nil {
		return types.DNSRecord{}, err
	}

	record.ZoneID = zone.ID
	record.AutoUpdate = request.AutoUpdate
	if err := syncer.store.SaveRecord(ctx, record); err != nil {
		return types.DNSRecord{}, fmt.Errorf("record %s created at provider but not saved: %w", record.ID, err)
	}
	syncer.logger.Infow("Created record", "recordID", record.ID, "name", record.Name, "type", record.Type, "autoUpdate", record.AutoUpdate)
	return syncer.store.GetRecord(ctx, record.ID)
}

// DeleteRecord removes a record at the provider and from the store.
// Its update log entries are kept.
func (syncer *Syncer) DeleteRecord(ctx context.Context, zoneID string, recordID string) error {
	zone, provider, err := syncer.zoneProvider(ctx, zoneID)
	if err != nil {
		return err
	}
	if err := provider.DeleteRecord(ctx, zone.ID, recordID); err != nil {
		return err
	}
	if err := syncer.store.DeleteRecord(ctx, recordID); err != nil {
		return fmt.Errorf("record %s deleted at provider but not locally: %w", recordID, err)
	}
	syncer.logger.Infow("Deleted record", "recordID", recordID, "zoneID", zone.ID)
	return nil
}
