package cli

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/broker"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/cache"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/database"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/parser"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/reputation"
)

// parseTime accepts Unix seconds (fractions allowed) or RFC 3339.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return time.Time{}, fmt.Errorf("invalid time %q", s)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want Unix seconds or RFC 3339", s)
	}
	return t, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := parseTime(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	to, err := parseTime(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return from, to, nil
}

func (a *app) openStore(ctx context.Context) (*database.Store, error) {
	store, err := database.Open(ctx, a.cfg.Database.URL, a.cfg.Database.MaxOpenConns, a.logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// resolver picks the ASN-to-country source: CSV file, then a table in the
// event store, then none.
func (a *app) resolver(store *database.Store) database.CountryResolver {
	switch {
	case a.cfg.ASNData.File != "":
		r, err := database.NewFileResolver(a.cfg.ASNData.File)
		if err != nil {
			a.logger.Warn("failed to load ASN data", "path", a.cfg.ASNData.File, "error", err)
			break
		}
		a.logger.Debug("using file ASN resolver", "path", a.cfg.ASNData.File, "asns", r.Count())
		return r
	case a.cfg.ASNData.Table != "" && store != nil:
		r := database.NewDatabaseResolver(store.DB(), a.cfg.ASNData.Table)
		r.Start()
		return r
	}
	return database.NewNullResolver()
}

func (a *app) brokerClient() *broker.Client {
	return broker.NewClient(broker.Options{
		URL:       a.cfg.Broker.URL,
		Project:   a.cfg.Broker.Project,
		Collector: a.cfg.Broker.Collector,
		PageSize:  a.cfg.Broker.PageSize,
		Timeout:   a.cfg.Broker.Timeout,
	}, nil, a.logger)
}

func (a *app) routeParser() *parser.Parser {
	return parser.New(&http.Client{Timeout: a.cfg.Ingest.FetchTimeout}, a.logger)
}

// lookuper builds the cached reputation client. The returned close func
// releases the cache.
func (a *app) lookuper(ctx context.Context) (reputation.Lookuper, func(), error) {
	rc := a.cfg.Reputation
	client, err := reputation.NewClient(rc.Endpoint, rc.Token, rc.Timeout, a.logger)
	if err != nil {
		return nil, nil, err
	}

	memory := cache.NewMemoryProvider(a.cfg.Cache.MemoryTTL, 10*time.Minute)
	var provider cache.Provider = memory
	if url := a.cfg.Cache.RedisURL; url != "" {
		redis, err := cache.NewRedisProvider(ctx, url, "bgp-shortlived:")
		if err != nil {
			a.logger.Warn("redis cache unavailable, using memory only", "error", err)
		} else {
			provider = cache.NewLayered(memory, redis, a.cfg.Cache.MemoryTTL)
		}
	}

	closeFn := func() {
		if err := provider.Close(); err != nil {
			a.logger.Warn("cache close failed", "error", err)
		}
	}
	return reputation.NewCachedLookuper(client, provider, rc.CacheTTL, a.logger), closeFn, nil
}
