package geocode

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Provider represents a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
	Available(addr AddressInput) bool
}

// CascadeClient tries providers in order until one matches.
type CascadeClient struct {
	providers        []Provider
	cache            Cache
	country          string
	batchConcurrency int
}

// CascadeOption configures the CascadeClient.
type CascadeOption func(*CascadeClient)

// WithCascadeCache sets the result cache. A nil cache disables caching.
func WithCascadeCache(c Cache) CascadeOption {
	return func(cc *CascadeClient) { cc.cache = c }
}

// WithCascadeBatchConcurrency sets the max parallel calls for BatchGeocode.
func WithCascadeBatchConcurrency(n int) CascadeOption {
	return func(cc *CascadeClient) {
		if n > 0 {
			cc.batchConcurrency = n
		}
	}
}

// WithCascadeCountry fills AddressInput.Country when the caller leaves it blank.
func WithCascadeCountry(country string) CascadeOption {
	return func(cc *CascadeClient) { cc.country = country }
}

// NewCascadeClient creates a CascadeClient that tries providers in order.
func NewCascadeClient(providers []Provider, opts ...CascadeOption) *CascadeClient {
	c := &CascadeClient{
		providers:        providers,
		batchConcurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode implements Client. Provider errors are logged and the next
// provider is tried; only a matched result or a full miss is returned.
func (c *CascadeClient) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if addr.Country == "" {
		addr.Country = c.country
	}
	key := cacheKey(addr)

	if c.cache != nil {
		if cached, ok, err := c.cache.Get(ctx, key); err != nil {
			zap.L().Debug("geocode: cache lookup failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	var lastErr error
	for _, p := range c.providers {
		if !p.Available(addr) {
			continue
		}
		result, err := p.Geocode(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Debug("geocode: provider error, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if result != nil && result.Matched {
			c.store(ctx, key, result)
			return result, nil
		}
	}

	// Negative results are only cached when every provider answered.
	noMatch := &Result{Matched: false}
	if lastErr == nil {
		c.store(ctx, key, noMatch)
	}
	return noMatch, nil
}

// BatchGeocode implements Client by geocoding addresses in parallel.
func (c *CascadeClient) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	for i := range addrs {
		if addrs[i].ID == "" {
			addrs[i].ID = strconv.Itoa(i)
		}
	}

	results := make([]Result, len(addrs))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.batchConcurrency)

	for i, addr := range addrs {
		eg.Go(func() error {
			r, err := c.Geocode(gCtx, addr)
			if err != nil || r == nil {
				results[i] = Result{Matched: false}
				return nil //nolint:nilerr // individual geocode failures don't fail the batch
			}
			results[i] = *r
			return nil
		})
	}

	_ = eg.Wait()
	return results, ctx.Err()
}

func (c *CascadeClient) store(ctx context.Context, key string, r *Result) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ctx, key, r); err != nil {
		zap.L().Debug("geocode: cache store failed", zap.Error(err))
	}
}
