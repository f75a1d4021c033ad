package zonesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
)

func TestListRecordsMergesAutoUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)
	require.NoError(t, f.store.SetAutoUpdate(ctx, "r2", true))

	records, err := f.syncer.ListRecords(ctx, "z1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	autoUpdate := map[string]bool{}
	for _, record := range records {
		autoUpdate[record.ID] = record.AutoUpdate
		assert.Equal(t, "z1", record.ZoneID)
	}
	assert.Equal(t, map[string]bool{"r1": false, "r2": true}, autoUpdate)

	_, err = f.syncer.ListRecords(ctx, "z9")
	assert.ErrorIs(t, err, ErrZoneNotFound)
}

func TestCreateRecord(t *testing.T) {
	cases := []struct {
		name     string
		request  CreateRequest
		expected error
	}{
		{
			name:    "Should create and mirror a record",
			request: CreateRequest{ZoneID: "z1", Name: "nas.example.com", Type: types.TypeA, Content: "10.0.0.9", Proxied: true, AutoUpdate: true},
		},
		{
			name:    "Should drop proxied for a non proxiable type",
			request: CreateRequest{ZoneID: "z1", Name: "example.com", Type: types.TypeTXT, Content: "hello", Proxied: true},
		},
		{
			name:     "Should reject an unknown zone",
			request:  CreateRequest{ZoneID: "z9", Name: "x.example.com", Type: types.TypeA, Content: "10.0.0.9"},
			expected: ErrZoneNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.syncer.SyncAPIKey(ctx, f.key)
			require.NoError(t, err)

			record, err := f.syncer.CreateRecord(ctx, tc.request)
			if tc.expected != nil {
				assert.ErrorIs(t, err, tc.expected)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, record.ID)
			assert.Equal(t, tc.request.AutoUpdate, record.AutoUpdate)
			assert.Equal(t, tc.request.Proxied && tc.request.Type.IsProxiable(), record.Proxied)
			assert.Equal(t, types.DefaultTTL, record.TTL)

			remote, err := f.provider.ListRecords(ctx, "z1")
			require.NoError(t, err)
			assert.Len(t, remote, 3)
		})
	}
}

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.syncer.SyncAPIKey(ctx, f.key)
	require.NoError(t, err)

	require.NoError(t, f.syncer.DeleteRecord(ctx, "z1", "r2"))
	_, err = f.store.GetRecord(ctx, "r2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	remote, err := f.provider.ListRecords(ctx, "z1")
	require.NoError(t, err)
	assert.Len(t, remote, 1)

	assert.ErrorIs(t, f.syncer.DeleteRecord(ctx, "z9", "r1"), ErrZoneNotFound)
}
