// Package assetcache caches rendered inventory snapshots (item lists with
// true unit costs, per-warehouse summaries) so dashboard reads do not hit
// the durable store on every request.
package assetcache

import (
	"context"
	"time"

	"gudangsync/backend/internal/domain"
)

type Snapshot struct {
	Items       []domain.Item `json:"items"`
	GeneratedAt time.Time     `json:"generated_at"`
}

type AssetCache interface {
	Get(ctx context.Context, key string) (*Snapshot, bool, error)
	Set(ctx context.Context, key string, value *Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopAssetCache struct{}

func (NoopAssetCache) Get(_ context.Context, _ string) (*Snapshot, bool, error) {
	return nil, false, nil
}

func (NoopAssetCache) Set(_ context.Context, _ string, _ *Snapshot, _ time.Duration) error {
	return nil
}

func (NoopAssetCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
