// Package broker resolves time ranges to BGP update-file URLs through the
// BGPKIT broker API.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults match the public BGPKIT broker and the RIS collector used for
// short-lived announcement hunting.
const (
	DefaultURL       = "https://api.bgpkit.com/v3/broker"
	DefaultProject   = "riperis"
	DefaultCollector = "rrc25"
	DefaultPageSize  = 100
	defaultTimeout   = 30 * time.Second

	// maxPages stops a runaway broker from paging forever.
	maxPages = 10000
)

// Options configures a Client.
type Options struct {
	URL       string
	Project   string
	Collector string
	PageSize  int
	Timeout   time.Duration
}

// Item is one file entry from the broker.
type Item struct {
	TsStart     string `json:"ts_start"`
	TsEnd       string `json:"ts_end"`
	CollectorID string `json:"collector_id"`
	DataType    string `json:"data_type"`
	URL         string `json:"url"`
	RoughSize   int64  `json:"rough_size"`
}

type searchResponse struct {
	Count    int     `json:"count"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Error    *string `json:"error"`
	Data     []Item  `json:"data"`
}

// Client queries the broker search endpoint.
type Client struct {
	baseURL   string
	project   string
	collector string
	pageSize  int
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a broker client. Empty options take the defaults.
func NewClient(opts Options, httpClient *http.Client, logger *slog.Logger) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.URL, "/"),
		project:   opts.Project,
		collector: opts.Collector,
		pageSize:  opts.PageSize,
		http:      httpClient,
		logger:    logger.With("component", "broker"),
	}
}

// Files returns the update-file URLs covering [start, end), in broker order.
func (c *Client) Files(ctx context.Context, start, end time.Time) ([]string, error) {
	items, err := c.Search(ctx, start, end)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	return urls, nil
}

// Search pages through all update files for the range.
func (c *Client) Search(ctx context.Context, start, end time.Time) ([]Item, error) {
	var items []Item
	for page := 1; page <= maxPages; page++ {
		resp, err := c.searchPage(ctx, start, end, page)
		if err != nil {
			return nil, err
		}
		items = append(items, resp.Data...)
		c.logger.Debug("broker page", "page", page, "items", len(resp.Data))
		if len(resp.Data) < c.pageSize {
			return items, nil
		}
	}
	return nil, fmt.Errorf("broker returned more than %d pages", maxPages)
}

func (c *Client) searchPage(ctx context.Context, start, end time.Time, page int) (*searchResponse, error) {
	q := url.Values{}
	q.Set("ts_start", strconv.FormatInt(start.Unix(), 10))
	q.Set("ts_end", strconv.FormatInt(end.Unix(), 10))
	q.Set("data_type", "updates")
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))
	if c.project != "" {
		q.Set("project", c.project)
	}
	if c.collector != "" {
		q.Set("collector_id", c.collector)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker returned %s", resp.Status)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode broker response: %w", err)
	}
	if out.Error != nil && *out.Error != "" {
		return nil, fmt.Errorf("broker error: %s", *out.Error)
	}
	return &out, nil
}
