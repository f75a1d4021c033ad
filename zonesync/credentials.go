package zonesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
)

// ListAPIKeys returns every registered credential
func (syncer *Syncer) ListAPIKeys(ctx context.Context) ([]types.APIKey, error) {
	return syncer.store.ListAPIKeys(ctx)
}

// AddAPIKey registers a credential after the provider accepted it and mirrors its zones.
// Registering a known token returns the existing credential.
func (syncer *Syncer) AddAPIKey(ctx context.Context, token string, name string) (types.APIKey, Result, error) {
	var key types.APIKey
	var result Result
	err := syncer.guard.Exclusive(func() error {
		provider, err := syncer.factory(token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if _, err := provider.ListZones(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}

		key, err = syncer.store.SaveAPIKey(ctx, types.APIKey{Token: token, Name: name})
		if err != nil {
			return fmt.Errorf("failed to save api key: %w", err)
		}
		syncer.logger.Infow("Registered api key", "apiKeyID", key.ID, "name", key.Name)

		result, err = syncer.syncAPIKey(ctx, key)
		return err
	})
	return key, result, err
}

// RemoveAPIKey deletes a credential with its zones, records and their update logs
func (syncer *Syncer) RemoveAPIKey(ctx context.Context, id int64) error {
	return syncer.guard.Exclusive(func() error {
		err := syncer.store.DeleteAPIKey(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAPIKeyNotFound
		}
		if err != nil {
			return err
		}
		syncer.logger.Infow("Removed api key", "apiKeyID", id)
		return nil
	})
}
