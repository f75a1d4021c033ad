package zonesync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wdullaer/cf-ddns/dns"
	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

type fixture struct {
	store    *store.MemoryStore
	provider *dns.DryrunProvider
	syncer   *Syncer
	key      types.APIKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	s, err := store.NewMemoryStore(logger)
	require.NoError(t, err)
	provider, err := dns.NewDryrunProvider(logger)
	require.NoError(t, err)
	provider.AddZone(
		types.Zone{ID: "z1", Name: "example.com", Status: "active"},
		types.DNSRecord{ID: "r1", Name: "home.example.com", Type: types.TypeA, Content: "10.0.0.1", TTL: 300},
		types.DNSRecord{ID: "r2", Name: "www.example.com", Type: types.TypeCNAME, Content: "example.com", TTL: 1, Proxied: true},
	)

	key, err := s.SaveAPIKey(context.Background(), types.APIKey{Token: "token-1", Name: "main"})
	require.NoError(t, err)

	return &fixture{
		store:    s,
		provider: provider,
		syncer:   NewSyncer(s, dns.NewDryrunFactory(provider), logger),
		key:      key,
	}
}

func recordIDs(t *testing.T, s store.Store, zoneID string) []string {
	t.Helper()
	records, err := s.ListRecords(context.Background(), zoneID)
	require.NoError(t, err)
	ids := []string{}
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids
}

func TestSyncAPIKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, Result{Zones: 1, Records: 2}, result)

	zone, err := f.store.GetZone(ctx, "z1")
	require.NoError(t, err)
	assert.Equal(t, f.key.ID, zone.APIKeyID)
	assert.Equal(t, "example.com", zone.Name)

	assert.Equal(t, []string{"r1", "r2"}, recordIDs(t, f.store, "z1"))
	record, err := f.store.GetRecord(ctx, "r2")
	require.NoError(t, err)
	assert.True(t, record.Proxied)
	assert.False(t, record.AutoUpdate)
}

func TestSyncAPIKeyPreservesAutoUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)
	require.NoError(t, f.store.SetAutoUpdate(ctx, "r1", true))

	_, err = f.provider.UpdateRecord(ctx, "z1", "r1", dns.RecordParams{Name: "home.example.com", Type: types.TypeA, Content: "10.0.0.2", TTL: 300})
	require.NoError(t, err)

	_, err = f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)

	record, err := f.store.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, record.AutoUpdate)
	assert.Equal(t, "10.0.0.2", record.Content, "provider drift is pulled in")
}

func TestSyncAPIKeyRemovesDeletedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)
	require.NoError(t, f.provider.DeleteRecord(ctx, "z1", "r2"))

	result, err := f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, Result{Zones: 1, Records: 1, Removed: 1}, result)
	assert.Equal(t, []string{"r1"}, recordIDs(t, f.store, "z1"))
}

func TestSyncAllAggregatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveAPIKey(ctx, types.APIKey{Token: "revoked"})
	require.NoError(t, err)
	dryrun := dns.NewDryrunFactory(f.provider)
	f.syncer.factory = func(token string) (dns.Provider, error) {
		if token == "revoked" {
			return nil, errors.New("invalid token")
		}
		return dryrun(token)
	}

	result, err := f.syncer.SyncAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.Contains(t, err.Error(), "credential")
	assert.Equal(t, Result{Zones: 1, Records: 2}, result, "the healthy credential is still synchronized")
}

func TestSetAutoUpdate(t *testing.T) {
	cases := []struct {
		name     string
		synced   bool
		request  ToggleRequest
		expected error
	}{
		{name: "Should toggle a mirrored record", synced: true, request: ToggleRequest{RecordID: "r1", Enabled: true}},
		{name: "Should import a record from the provider", request: ToggleRequest{RecordID: "r1", Enabled: true, ZoneID: "z1"}},
		{name: "Should require a scope to import", request: ToggleRequest{RecordID: "r1", Enabled: true}, expected: ErrMissingScope},
		{name: "Should reject an unknown zone", request: ToggleRequest{RecordID: "r1", Enabled: true, ZoneID: "z9"}, expected: ErrZoneNotFound},
		{name: "Should reject a record the provider does not have", request: ToggleRequest{RecordID: "r9", Enabled: true, ZoneID: "z1"}, expected: ErrRecordNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if tc.synced {
				_, err := f.syncer.SyncAPIKey(ctx, f.key)
				require.NoError(t, err)
			} else {
				require.NoError(t, f.store.SaveZone(ctx, types.Zone{ID: "z1", Name: "example.com", APIKeyID: f.key.ID}))
			}
			if tc.request.ZoneID != "" {
				tc.request.APIKeyID = f.key.ID
			}

			record, err := f.syncer.SetAutoUpdate(ctx, tc.request)
			if tc.expected != nil {
				assert.ErrorIs(t, err, tc.expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.request.RecordID, record.ID)
			assert.True(t, record.AutoUpdate)

			stored, err := f.store.GetRecord(ctx, tc.request.RecordID)
			require.NoError(t, err)
			assert.True(t, stored.AutoUpdate)
			assert.Equal(t, "z1", stored.ZoneID)
		})
	}
}

func TestSetAutoUpdateRejectsForeignZone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.store.SaveAPIKey(ctx, types.APIKey{Token: "token-2"})
	require.NoError(t, err)
	require.NoError(t, f.store.SaveZone(ctx, types.Zone{ID: "z1", Name: "example.com", APIKeyID: f.key.ID}))

	_, err = f.syncer.SetAutoUpdate(ctx, ToggleRequest{RecordID: "r1", Enabled: true, ZoneID: "z1", APIKeyID: other.ID})
	assert.ErrorIs(t, err, ErrZoneNotFound)
}
