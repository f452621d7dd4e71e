// Package reputation cross-references short-lived findings against a threat
// intelligence API that attributes malicious address ranges to origin ASNs.
package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikioh/ipaddr"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

const defaultTimeout = 30 * time.Second

// Lookuper is the reputation source consulted by the Classifier.
type Lookuper interface {
	LookupASN(ctx context.Context, asn uint32) (ASNReport, error)
	LookupPrefix(ctx context.Context, prefix netip.Prefix) (bool, error)
}

// ASNReport is what the API knows about one origin. Ranges are CIDR strings;
// start/end ranges are already summarized into prefixes.
type ASNReport struct {
	ASN        uint32   `json:"asn"`
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
	Ranges     []string `json:"ranges,omitempty"`
}

type asnResponse struct {
	Context struct {
		Categories json.RawMessage `json:"categories"`
	} `json:"context"`
	Cidrs []struct {
		Cidr  string `json:"cidr"`
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"cidrs"`
}

type ipsEntry struct {
	Context struct {
		Categories json.RawMessage `json:"categories"`
	} `json:"context"`
}

// Client talks to the reputation HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the API rooted at endpoint, authenticating
// with token as a bearer credential.
func NewClient(endpoint, token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("reputation endpoint is required")
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid reputation endpoint: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "reputation"),
	}, nil
}

// LookupASN fetches the report for asn. An ASN the API does not know yields
// an empty, unflagged report and no error.
func (c *Client) LookupASN(ctx context.Context, asn uint32) (ASNReport, error) {
	report := ASNReport{ASN: asn}

	body, found, err := c.get(ctx, "asns/"+strconv.FormatUint(uint64(asn), 10)+"/")
	if err != nil {
		metrics.ObserveLookup(metrics.OutcomeError)
		return report, fmt.Errorf("AS%d: %w", asn, err)
	}
	if !found {
		metrics.ObserveLookup(metrics.OutcomeNotFound)
		return report, nil
	}

	var resp asnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.ObserveLookup(metrics.OutcomeError)
		return report, fmt.Errorf("AS%d: decode response: %v: %w", asn, err, models.ErrReputationLookup)
	}

	report.Flagged = present(resp.Context.Categories)
	if report.Flagged {
		// Categories are informational; their shape varies between records.
		_ = json.Unmarshal(resp.Context.Categories, &report.Categories)
	}
	for _, r := range resp.Cidrs {
		switch {
		case r.Cidr != "":
			p, err := parseCIDR(r.Cidr)
			if err != nil {
				c.logger.Warn("skipping bad range", "asn", asn, "cidr", r.Cidr, "error", err)
				continue
			}
			report.Ranges = append(report.Ranges, p.String())
		case r.Start != "" && r.End != "":
			prefixes, err := summarize(r.Start, r.End)
			if err != nil {
				c.logger.Warn("skipping bad range", "asn", asn, "start", r.Start, "end", r.End, "error", err)
				continue
			}
			for _, p := range prefixes {
				report.Ranges = append(report.Ranges, p.String())
			}
		}
	}

	metrics.ObserveLookup(metrics.OutcomeOK)
	c.logger.Debug("asn looked up", "asn", asn, "flagged", report.Flagged, "ranges", len(report.Ranges))
	return report, nil
}

// LookupPrefix reports whether the API flags any address of prefix as
// malicious.
func (c *Client) LookupPrefix(ctx context.Context, prefix netip.Prefix) (bool, error) {
	path := fmt.Sprintf("cidrs/%s/%d/ips/", prefix.Addr(), prefix.Bits())
	body, found, err := c.get(ctx, path)
	if err != nil {
		metrics.ObserveLookup(metrics.OutcomeError)
		return false, fmt.Errorf("%s: %w", prefix, err)
	}
	if !found {
		metrics.ObserveLookup(metrics.OutcomeNotFound)
		return false, nil
	}

	var entries []ipsEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		metrics.ObserveLookup(metrics.OutcomeError)
		return false, fmt.Errorf("%s: decode response: %v: %w", prefix, err, models.ErrReputationLookup)
	}
	metrics.ObserveLookup(metrics.OutcomeOK)
	return len(entries) > 0 && present(entries[0].Context.Categories), nil
}

// get returns the body of a 2xx response, or found=false on 404.
func (c *Client) get(ctx context.Context, path string) ([]byte, bool, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, false, fmt.Errorf("build path: %v: %w", err, models.ErrReputationLookup)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %v: %w", err, models.ErrReputationLookup)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("request: %v: %w", err, models.ErrReputationLookup)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("API returned %s: %w", resp.Status, models.ErrReputationLookup)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read body: %v: %w", err, models.ErrReputationLookup)
	}
	return body, true, nil
}

// present reports whether a JSON value exists and is not null.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func parseCIDR(s string) (*ipaddr.Prefix, error) {
	_, n, err := net.ParseCIDR(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return ipaddr.NewPrefix(n), nil
}

func summarize(start, end string) ([]ipaddr.Prefix, error) {
	first := net.ParseIP(strings.TrimSpace(start))
	last := net.ParseIP(strings.TrimSpace(end))
	if first == nil || last == nil {
		return nil, fmt.Errorf("invalid range %s-%s", start, end)
	}
	if (first.To4() == nil) != (last.To4() == nil) {
		return nil, fmt.Errorf("mixed address families in %s-%s", start, end)
	}
	prefixes := ipaddr.Summarize(first, last)
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("empty range %s-%s", start, end)
	}
	return prefixes, nil
}
