package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/cache"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
)

// CachedLookuper answers from cache before asking the wrapped Lookuper.
// Errors are never cached.
type CachedLookuper struct {
	next   Lookuper
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedLookuper wraps next with provider. Entries live for ttl.
func NewCachedLookuper(next Lookuper, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedLookuper {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLookuper{next: next, cache: provider, ttl: ttl, logger: logger.With("component", "reputation-cache")}
}

func asnKey(asn uint32) string {
	return "reputation:asn:" + strconv.FormatUint(uint64(asn), 10)
}

func prefixKey(p netip.Prefix) string {
	return "reputation:cidr:" + p.Masked().String()
}

// LookupASN returns the cached report for asn, fetching it on a miss.
func (c *CachedLookuper) LookupASN(ctx context.Context, asn uint32) (ASNReport, error) {
	key := asnKey(asn)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var report ASNReport
		if err := json.Unmarshal(data, &report); err == nil {
			metrics.ObserveLookup(metrics.OutcomeCached)
			return report, nil
		}
		c.logger.Warn("discarding corrupt cache entry", "key", key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	report, err := c.next.LookupASN(ctx, asn)
	if err != nil {
		return report, err
	}
	if data, err := json.Marshal(report); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return report, nil
}

// LookupPrefix returns the cached verdict for prefix, fetching it on a miss.
func (c *CachedLookuper) LookupPrefix(ctx context.Context, prefix netip.Prefix) (bool, error) {
	key := prefixKey(prefix)
	if data, err := c.cache.Get(ctx, key); err == nil && len(data) == 1 {
		metrics.ObserveLookup(metrics.OutcomeCached)
		return data[0] == '1', nil
	}

	malicious, err := c.next.LookupPrefix(ctx, prefix)
	if err != nil {
		return false, err
	}
	val := []byte("0")
	if malicious {
		val = []byte("1")
	}
	if err := c.cache.Set(ctx, key, val, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return malicious, nil
}
