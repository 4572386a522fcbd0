// Package assets caches the registry metadata of the assets the wallet has
// seen, so balance views can be labelled without hammering the explorer.
package assets

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tidewallet/tidewallet/explorer"
)

// defaultTTL bounds how long cached asset metadata is served before it is
// fetched again.
const defaultTTL = 12 * time.Hour

// FetchFunc retrieves asset metadata from the explorer.
type FetchFunc func(ctx context.Context,
	assetHash string) (*explorer.AssetInfo, error)

// Registry is a TTL cache over the explorer's asset endpoint.
type Registry struct {
	cache *ttlcache.Cache[string, *explorer.AssetInfo]
	fetch FetchFunc
}

// NewRegistry creates a registry backed by the given fetcher. A ttl of zero
// selects the default.
func NewRegistry(fetch FetchFunc, ttl time.Duration) *Registry {
	if ttl == 0 {
		ttl = defaultTTL
	}

	return &Registry{
		cache: ttlcache.New[string, *explorer.AssetInfo](
			ttlcache.WithTTL[string, *explorer.AssetInfo](ttl),
		),
		fetch: fetch,
	}
}

// Start launches the cache janitor evicting expired entries.
func (r *Registry) Start() {
	go r.cache.Start()
}

// Stop halts the cache janitor.
func (r *Registry) Stop() {
	r.cache.Stop()
}

// Info returns the metadata of the given asset, serving it from the cache
// when fresh.
func (r *Registry) Info(ctx context.Context,
	assetHash string) (*explorer.AssetInfo, error) {

	if item := r.cache.Get(assetHash); item != nil {
		return item.Value(), nil
	}

	info, err := r.fetch(ctx, assetHash)
	if err != nil {
		return nil, err
	}

	r.cache.Set(assetHash, info, ttlcache.DefaultTTL)

	return info, nil
}
