package dns

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

// DryrunProvider keeps zones and records in memory and only logs what it would change
type DryrunProvider struct {
	mu      sync.Mutex
	zones   map[string]types.Zone
	records map[string]map[string]types.DNSRecord
	logger  *zap.SugaredLogger
}

// NewDryrunProvider returns an empty DryrunProvider
func NewDryrunProvider(logger *zap.SugaredLogger) (*DryrunProvider, error) {
	return &DryrunProvider{
		zones:   map[string]types.Zone{},
		records: map[string]map[string]types.DNSRecord{},
		logger:  logger.Named("dryrun-dns"),
	}, nil
}

// NewDryrunFactory returns a Factory that hands out the same DryrunProvider for every token
func NewDryrunFactory(provider *DryrunProvider) Factory {
	return func(string) (Provider, error) {
		return provider, nil
	}
}

// AddZone registers a zone and its records, replacing whatever was known about it
func (provider *DryrunProvider) AddZone(zone types.Zone, records ...types.DNSRecord) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	provider.zones[zone.ID] = zone
	provider.records[zone.ID] = map[string]types.DNSRecord{}
	for _, record := range records {
		record.ZoneID = zone.ID
		record.AutoUpdate = false
		record.Normalize()
		provider.records[zone.ID][record.ID] = record
	}
}

func (provider *DryrunProvider) ListZones(context.Context) ([]types.Zone, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	out := make([]types.Zone, 0, len(provider.zones))
	for _, zone := range provider.zones {
		out = append(out, zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (provider *DryrunProvider) ListRecords(_ context.Context, zoneID string) ([]types.DNSRecord, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	zone, ok := provider.records[zoneID]
	if !ok {
		return nil, fmt.Errorf("zone %s does not exist", zoneID)
	}
	out := make([]types.DNSRecord, 0, len(zone))
	for _, record := range zone {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (provider *DryrunProvider) CreateRecord(_ context.Context, zoneID string, params RecordParams) (types.DNSRecord, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	zone, ok := provider.records[zoneID]
	if !ok {
		return types.DNSRecord{}, fmt.Errorf("zone %s does not exist", zoneID)
	}
	record := paramsToRecord(uuid.NewString(), zoneID, params)
	zone[record.ID] = record
	provider.logger.Infow("Dryrun - Created record", "zoneID", zoneID, "record", record)
	return record, nil
}

func (provider *DryrunProvider) UpdateRecord(_ context.Context, zoneID string, recordID string, params RecordParams) (types.DNSRecord, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	zone, ok := provider.records[zoneID]
	if !ok {
		return types.DNSRecord{}, fmt.Errorf("zone %s does not exist", zoneID)
	}
	if _, ok := zone[recordID]; !ok {
		return types.DNSRecord{}, fmt.Errorf("record %s does not exist in zone %s", recordID, zoneID)
	}
	record := paramsToRecord(recordID, zoneID, params)
	zone[recordID] = record
	provider.logger.Infow("Dryrun - Updated record", "zoneID", zoneID, "record", record)
	return record, nil
}

func (provider *DryrunProvider) DeleteRecord(_ context.Context, zoneID string, recordID string) error {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	zone, ok := provider.records[zoneID]
	if !ok {
		return fmt.Errorf("zone %s does not exist", zoneID)
	}
	if _, ok := zone[recordID]; !ok {
		// Already gone, which is what the caller wanted
		provider.logger.Warnw("Dryrun - Attempting to remove a non existing record", "zoneID", zoneID, "recordID", recordID)
		return nil
	}
	delete(zone, recordID)
	provider.logger.Infow("Dryrun - Deleted record", "zoneID", zoneID, "recordID", recordID)
	return nil
}

func paramsToRecord(id string, zoneID string, params RecordParams) types.DNSRecord {
	record := types.DNSRecord{
		ID:      id,
		ZoneID:  zoneID,
		Name:    params.Name,
		Type:    params.Type,
		Content: params.Content,
		TTL:     ttlOrDefault(params.TTL),
		Proxied: params.Proxied,
	}
	record.Normalize()
	return record
}
