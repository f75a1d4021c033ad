package dns

import (
	"context"
	"fmt"
	"net/http"

	cloudflare "github.com/cloudflare/cloudflare-go"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

// CloudflareProvider implements the Provider interface for Cloudflare
type CloudflareProvider struct {
	API    *cloudflare.API
	logger *zap.SugaredLogger
}

// NewCloudflareProvider generates a CloudflareProvider using the given API token
// The cloudflare-go retry policy is disabled: a failed call is reported, never repeated
func NewCloudflareProvider(token string, logger *zap.SugaredLogger, opts ...cloudflare.Option) (*CloudflareProvider, error) {
	opts = append([]cloudflare.Option{cloudflare.UsingRetryPolicy(0, 0, 0)}, opts...)
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, err
	}
	return &CloudflareProvider{API: api, logger: logger.Named("cloudflare-dns")}, nil
}

// NewCloudflareFactory returns a Factory creating a CloudflareProvider per token, sharing httpClient
// If httpClient is nil, the cloudflare-go default client is used
func NewCloudflareFactory(httpClient *http.Client, logger *zap.SugaredLogger, opts ...cloudflare.Option) Factory {
	if httpClient != nil {
		opts = append(opts, cloudflare.HTTPClient(httpClient))
	}
	return func(token string) (Provider, error) {
		return NewCloudflareProvider(token, logger, opts...)
	}
}

// ListZones returns every zone the token has access to
func (provider *CloudflareProvider) ListZones(ctx context.Context) ([]types.Zone, error) {
	zones, err := provider.API.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch zones: %w", err)
	}
	out := make([]types.Zone, len(zones))
	for i, zone := range zones {
		out[i] = types.Zone{ID: zone.ID, Name: zone.Name, Status: zone.Status}
	}
	provider.logger.Debugw("Listed zones", "count", len(out))
	return out, nil
}

// ListRecords returns all DNS records of a zone
func (provider *CloudflareProvider) ListRecords(ctx context.Context, zoneID string) ([]types.DNSRecord, error) {
	records, _, err := provider.API.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch DNS records: %w", err)
	}
	out := make([]types.DNSRecord, len(records))
	for i := range records {
		out[i] = fromCloudflareRecord(zoneID, records[i])
	}
	provider.logger.Debugw("Listed DNS records", "zoneID", zoneID, "count", len(out))
	return out, nil
}

// CreateRecord creates a new record in the zone
func (provider *CloudflareProvider) CreateRecord(ctx context.Context, zoneID string, params RecordParams) (types.DNSRecord, error) {
	provider.logger.Infow("Creating DNS record", "zoneID", zoneID, "name", params.Name, "type", params.Type)
	record, err := provider.API.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.CreateDNSRecordParams{
		Name:    params.Name,
		Type:    string(params.Type),
		Content: params.Content,
		TTL:     ttlOrDefault(params.TTL),
		Proxied: cloudflare.BoolPtr(params.Proxied),
	})
	if err != nil {
		return types.DNSRecord{}, fmt.Errorf("failed to create DNS record: %w", err)
	}
	return fromCloudflareRecord(zoneID, record), nil
}

// UpdateRecord overwrites name, type, content, ttl and proxied of an existing record
// The record ID is kept by the provider, also when the type changes
func (provider *CloudflareProvider) UpdateRecord(ctx context.Context, zoneID string, recordID string, params RecordParams) (types.DNSRecord, error) {
	provider.logger.Infow("Updating DNS record", "zoneID", zoneID, "recordID", recordID, "type", params.Type, "content", params.Content)
	record, err := provider.API.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.UpdateDNSRecordParams{
		ID:      recordID,
		Name:    params.Name,
		Type:    string(params.Type),
		Content: params.Content,
		TTL:     ttlOrDefault(params.TTL),
		Proxied: cloudflare.BoolPtr(params.Proxied),
	})
	if err != nil {
		return types.DNSRecord{}, fmt.Errorf("failed to update DNS record: %w", err)
	}
	return fromCloudflareRecord(zoneID, record), nil
}

// DeleteRecord removes a record from the zone
func (provider *CloudflareProvider) DeleteRecord(ctx context.Context, zoneID string, recordID string) error {
	provider.logger.Infow("Deleting DNS record", "zoneID", zoneID, "recordID", recordID)
	if err := provider.API.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), recordID); err != nil {
		return fmt.Errorf("failed to delete DNS record: %w", err)
	}
	return nil
}

func fromCloudflareRecord(zoneID string, record cloudflare.DNSRecord) types.DNSRecord {
	out := types.DNSRecord{
		ID:        record.ID,
		ZoneID:    zoneID,
		Name:      record.Name,
		Type:      types.RecordType(record.Type),
		Content:   record.Content,
		TTL:       record.TTL,
		UpdatedAt: record.ModifiedOn,
	}
	if record.Proxied != nil {
		out.Proxied = *record.Proxied
	}
	out.Normalize()
	return out
}
