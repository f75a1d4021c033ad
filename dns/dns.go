package dns

import (
	"context"

	"github.com/wdullaer/cf-ddns/types"
)

// Provider is a stateless adapter around the DNS API of a provider, bound to one credential
// Implementations do not retry, callers decide what to do with a failure
type Provider interface {
	ListZones(ctx context.Context) ([]types.Zone, error)
	ListRecords(ctx context.Context, zoneID string) ([]types.DNSRecord, error)
	CreateRecord(ctx context.Context, zoneID string, params RecordParams) (types.DNSRecord, error)
	UpdateRecord(ctx context.Context, zoneID string, recordID string, params RecordParams) (types.DNSRecord, error)
	DeleteRecord(ctx context.Context, zoneID string, recordID string) error
}

// RecordParams is the full desired state of a record sent to the provider
type RecordParams struct {
	Name    string
	Type    types.RecordType
	Content string
	TTL     int
	Proxied bool
}

// Factory returns a Provider authenticated with the given credential token
type Factory func(token string) (Provider, error)

func ttlOrDefault(ttl int) int {
	if ttl <= 0 {
		return types.DefaultTTL
	}
	return ttl
}
