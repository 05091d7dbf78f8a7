package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PreferenceStore implements domain.PreferenceStore as one string key per
// profile, so several headless clients can share a Redis instance.
type PreferenceStore struct {
	c   *Client
	key string
}

// NewPreferenceStore stores the preference of profile under
// prefs:{profile}:preferredWallet.
func NewPreferenceStore(c *Client, profile string) *PreferenceStore {
	if profile == "" {
		profile = "default"
	}
	return &PreferenceStore{c: c, key: c.Key("prefs", profile, "preferredWallet")}
}

// Read returns the stored vendor. Missing or unrecognized values read as
// absent.
func (ps *PreferenceStore) Read(ctx context.Context) (domain.WalletType, bool, error) {
	v, err := ps.c.Underlying().Get(ctx, ps.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis: read preference: %w", err)
	}
	wt, ok := domain.ParseWalletType(v)
	return wt, ok, nil
}

// Write stores w, or deletes the key when w is nil.
func (ps *PreferenceStore) Write(ctx context.Context, w *domain.WalletType) error {
	var err error
	if w == nil {
		err = ps.c.Underlying().Del(ctx, ps.key).Err()
	} else {
		err = ps.c.Underlying().Set(ctx, ps.key, string(*w), 0).Err()
	}
	if err != nil {
		return fmt.Errorf("redis: write preference: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PreferenceStore = (*PreferenceStore)(nil)
