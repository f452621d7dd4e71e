package database

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/biter777/countries"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

const (
	refreshInterval = 15 * time.Minute // Refresh ASN mapping every 15 minutes
)

// CountryResolver provides ASN-to-country lookups for report annotation.
type CountryResolver interface {
	// Resolve returns the ISO alpha-2 code for an ASN, or "" if unknown.
	Resolve(asn uint32) string
	// ResolveFromPath returns the first known country along an AS path.
	ResolveFromPath(path []models.ASPathSegment) string
	// Count returns the number of ASNs in the mapping.
	Count() int
	// Start begins any background refresh operations.
	Start()
	// Stop stops any background operations.
	Stop()
}

// NormalizeCountry maps a country code or name ("us", "USA", "Germany") to
// its alpha-2 code. It returns "" when the input is not a known country.
func NormalizeCountry(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	code := countries.ByName(s)
	if code == countries.Unknown {
		return ""
	}
	return code.Alpha2()
}

// NullResolver knows no ASNs.
// Use this when no ASN-to-country data is available.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Resolve(uint32) string                        { return "" }
func (r *NullResolver) ResolveFromPath([]models.ASPathSegment) string { return "" }
func (r *NullResolver) Count() int                                    { return 0 }
func (r *NullResolver) Start()                                        {}
func (r *NullResolver) Stop()                                         {}

// mapping is the shared lookup table behind the file and database resolvers.
type mapping struct {
	mu    sync.RWMutex
	byASN map[uint32]string
}

func (m *mapping) Resolve(asn uint32) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byASN[asn]
}

func (m *mapping) ResolveFromPath(path []models.ASPathSegment) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, seg := range path {
		for _, asn := range seg.ASNs {
			if country, ok := m.byASN[asn]; ok {
				return country
			}
		}
	}
	return ""
}

func (m *mapping) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byASN)
}

func (m *mapping) replace(next map[uint32]string) {
	m.mu.Lock()
	m.byASN = next
	m.mu.Unlock()
}

// FileResolver loads ASN-to-country mappings from a CSV file.
// Expected format: asn,country (e.g., "13335,US" or "3320,Germany")
type FileResolver struct {
	mapping
	filePath string
}

// NewFileResolver creates a resolver that loads mappings from a CSV file.
func NewFileResolver(filePath string) (*FileResolver, error) {
	r := &FileResolver{filePath: filePath}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileResolver) load() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1
	next := make(map[uint32]string)
	skipped := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(record) < 2 {
			skipped++
			continue
		}
		// Header rows and junk fail the ASN parse.
		asn, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(record[0])), "AS"), 10, 32)
		if err != nil {
			continue
		}
		if country := NormalizeCountry(record[1]); country != "" {
			next[uint32(asn)] = country
		} else {
			skipped++
		}
	}

	r.replace(next)
	slog.Info("loaded ASN country mappings", "source", r.filePath, "asns", len(next), "skipped", skipped)
	return nil
}

func (r *FileResolver) Start() {}
func (r *FileResolver) Stop()  {}

// DatabaseResolver loads ASN-to-country mappings from a database table.
// Uses a simple schema: SELECT asn, country_code FROM asn_countries
type DatabaseResolver struct {
	mapping
	db        *sql.DB
	tableName string
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewDatabaseResolver creates a resolver that loads mappings from a database.
// tableName defaults to "asn_countries" if empty.
func NewDatabaseResolver(db *sql.DB, tableName string) *DatabaseResolver {
	if tableName == "" {
		tableName = "asn_countries"
	}
	return &DatabaseResolver{
		db:        db,
		tableName: tableName,
		done:      make(chan struct{}),
	}
}

// Start loads the mapping and refreshes it periodically.
func (r *DatabaseResolver) Start() {
	r.refresh(context.Background())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.refresh(context.Background())
			case <-r.done:
				return
			}
		}
	}()
}

// Stop stops the refresh loop.
func (r *DatabaseResolver) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *DatabaseResolver) refresh(ctx context.Context) {
	start := time.Now()

	query := "SELECT asn, country_code FROM " + r.tableName + " WHERE country_code IS NOT NULL AND country_code != ''"
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Warn("ASN country query failed", "table", r.tableName, "error", err)
		return
	}
	defer rows.Close()

	next := make(map[uint32]string)
	for rows.Next() {
		var (
			asn     int64
			country string
		)
		if err := rows.Scan(&asn, &country); err != nil {
			continue
		}
		if code := NormalizeCountry(country); code != "" && asn >= 0 {
			next[uint32(asn)] = code
		}
	}
	if err := rows.Err(); err != nil {
		slog.Warn("ASN country rows failed", "table", r.tableName, "error", err)
		return
	}

	r.replace(next)
	slog.Info("loaded ASN country mappings", "source", r.tableName, "asns", len(next),
		"elapsed", time.Since(start).Round(time.Millisecond))
}
