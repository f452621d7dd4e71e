package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

func TestNullResolver(t *testing.T) {
	r := NewNullResolver()

	if got := r.Resolve(13335); got != "" {
		t.Errorf("NullResolver.Resolve() = %q, want empty string", got)
	}

	path := []models.ASPathSegment{{Sequence: true, ASNs: []uint32{13335, 6939}}}
	if got := r.ResolveFromPath(path); got != "" {
		t.Errorf("NullResolver.ResolveFromPath() = %q, want empty string", got)
	}

	if got := r.Count(); got != 0 {
		t.Errorf("NullResolver.Count() = %d, want 0", got)
	}

	// These should not panic
	r.Start()
	r.Stop()
}

func TestFileResolver(t *testing.T) {
	tmpDir := t.TempDir()
	csvPath := filepath.Join(tmpDir, "asn_countries.csv")

	csvContent := `asn,country_code
13335,US
15169,US
3320,Germany
AS8075,usa
6939,US
64512,Atlantis
`
	if err := os.WriteFile(csvPath, []byte(csvContent), 0644); err != nil {
		t.Fatalf("Failed to write test CSV: %v", err)
	}

	r, err := NewFileResolver(csvPath)
	if err != nil {
		t.Fatalf("NewFileResolver() error = %v", err)
	}

	tests := []struct {
		name     string
		asn      uint32
		expected string
	}{
		{"Cloudflare", 13335, "US"},
		{"Google", 15169, "US"},
		{"Deutsche Telekom by name", 3320, "DE"},
		{"Microsoft with AS prefix and alpha-3", 8075, "US"},
		{"HE", 6939, "US"},
		{"Unknown country", 64512, ""},
		{"Unknown ASN", 99999, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.asn); got != tt.expected {
				t.Errorf("FileResolver.Resolve(%d) = %q, want %q", tt.asn, got, tt.expected)
			}
		})
	}

	path := []models.ASPathSegment{
		{Sequence: true, ASNs: []uint32{99999}},
		{ASNs: []uint32{3320, 13335}},
	}
	if got := r.ResolveFromPath(path); got != "DE" {
		t.Errorf("FileResolver.ResolveFromPath() = %q, want DE", got)
	}

	if got := r.Count(); got != 5 {
		t.Errorf("FileResolver.Count() = %d, want 5", got)
	}
}

func TestFileResolver_NoHeader(t *testing.T) {
	tmpDir := t.TempDir()
	csvPath := filepath.Join(tmpDir, "asn_countries.csv")

	csvContent := `13335,US
15169,US
`
	if err := os.WriteFile(csvPath, []byte(csvContent), 0644); err != nil {
		t.Fatalf("Failed to write test CSV: %v", err)
	}

	r, err := NewFileResolver(csvPath)
	if err != nil {
		t.Fatalf("NewFileResolver() error = %v", err)
	}

	// First line should be treated as data (numeric ASN)
	if got := r.Resolve(13335); got != "US" {
		t.Errorf("FileResolver.Resolve(13335) = %q, want US", got)
	}

	if got := r.Count(); got != 2 {
		t.Errorf("FileResolver.Count() = %d, want 2", got)
	}
}

func TestFileResolver_InvalidFile(t *testing.T) {
	_, err := NewFileResolver("/nonexistent/path/file.csv")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestNormalizeCountry(t *testing.T) {
	tests := map[string]string{
		"us":      "US",
		" de ":    "DE",
		"FRA":     "FR",
		"Japan":   "JP",
		"":        "",
		"Narnia":  "",
	}
	for in, want := range tests {
		if got := NormalizeCountry(in); got != want {
			t.Errorf("NormalizeCountry(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDatabaseResolver(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT asn, country_code FROM asn_countries").
		WillReturnRows(sqlmock.NewRows([]string{"asn", "country_code"}).
			AddRow(int64(13335), "US").
			AddRow(int64(3320), "de").
			AddRow(int64(1), "nowhere"))

	r := NewDatabaseResolver(db, "")
	r.Start()
	defer r.Stop()

	if got := r.Resolve(3320); got != "DE" {
		t.Errorf("DatabaseResolver.Resolve(3320) = %q, want DE", got)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("DatabaseResolver.Count() = %d, want 2", got)
	}
}

func TestCountryResolverInterface(t *testing.T) {
	// Verify all resolvers implement the interface
	var _ CountryResolver = (*NullResolver)(nil)
	var _ CountryResolver = (*FileResolver)(nil)
	var _ CountryResolver = (*DatabaseResolver)(nil)
}
