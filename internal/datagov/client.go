package datagov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"hdb-insights/internal/config"
	"hdb-insights/internal/dataset"
	apperrors "hdb-insights/internal/errors"

	"golang.org/x/sync/singleflight"
)

// Params identify one datastore_search call. They are the cache key: a
// given tuple is fetched at most once per process.
type Params struct {
	ResourceID string
	Limit      int
	Sort       string
}

func (p Params) key() string {
	return fmt.Sprintf("%s|%d|%s", p.ResourceID, p.Limit, p.Sort)
}

type outcome struct {
	ds  *dataset.Dataset
	err error
}

// Client fetches resale transaction records from the data.gov.sg
// datastore_search API. Outcomes, including failures, are memoized per
// Params for the life of the process; concurrent callers for the same
// Params share a single flight.
type Client struct {
	baseURL    string
	maxLimit   int
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	cache map[Params]outcome
	group singleflight.Group
}

func NewClient(cfg config.DataGovConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		maxLimit: cfg.MaxRecords,
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		logger: logger,
		cache:  make(map[Params]outcome),
	}
}

// Load returns the dataset for p, issuing at most one HTTP GET per distinct
// Params. A cached failure is returned as-is; the caller never sees a
// truncated or partial dataset.
func (c *Client) Load(ctx context.Context, p Params) (*dataset.Dataset, error) {
	if p.ResourceID == "" {
		return nil, apperrors.Validation("resource ID cannot be empty")
	}
	if p.Limit <= 0 {
		return nil, apperrors.Validation(fmt.Sprintf("limit must be positive, got %d", p.Limit))
	}
	if p.Limit > c.maxLimit {
		return nil, apperrors.Validation(fmt.Sprintf("limit %d exceeds maximum %d", p.Limit, c.maxLimit))
	}

	c.mu.RLock()
	res, ok := c.cache[p]
	c.mu.RUnlock()
	if ok {
		return res.ds, res.err
	}

	v, err, _ := c.group.Do(p.key(), func() (any, error) {
		start := time.Now()
		ds, fetchErr := c.fetch(ctx, p)

		c.mu.Lock()
		c.cache[p] = outcome{ds: ds, err: fetchErr}
		c.mu.Unlock()

		if fetchErr != nil {
			c.logger.Error("datastore fetch failed",
				"resource_id", p.ResourceID,
				"limit", p.Limit,
				"error", fetchErr,
			)
			return nil, fetchErr
		}

		c.logger.Info("datastore fetch complete",
			"resource_id", p.ResourceID,
			"limit", p.Limit,
			"records", ds.Len(),
			"duration", time.Since(start),
		)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*dataset.Dataset), nil
}

// CachedOutcomes reports the number of memoized parameter tuples.
func (c *Client) CachedOutcomes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Client) fetch(ctx context.Context, p Params) (*dataset.Dataset, error) {
	query := url.Values{}
	query.Set("resource_id", p.ResourceID)
	query.Set("limit", strconv.Itoa(p.Limit))
	if p.Sort != "" {
		query.Set("sort", p.Sort)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, apperrors.UpstreamWrap(err, "build datastore request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.UpstreamWrap(err, "datastore request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, apperrors.Upstream(fmt.Sprintf("datastore returned status %d", resp.StatusCode))
	}

	ds, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, apperrors.UpstreamWrap(err, "decode datastore response")
	}

	return ds, nil
}

// decodeEnvelope parses the {"result": {"records": [...]}} body. Record keys
// are walked in wire order so the dataset's column order is first-seen order
// across all records.
func decodeEnvelope(r io.Reader) (*dataset.Dataset, error) {
	var envelope struct {
		Result struct {
			Records []json.RawMessage `json:"records"`
		} `json:"result"`
	}

	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("malformed JSON body: %w", err)
	}
	if envelope.Result.Records == nil {
		return nil, fmt.Errorf("response missing result.records")
	}

	ds := &dataset.Dataset{
		Rows: make([]dataset.Row, 0, len(envelope.Result.Records)),
	}
	seen := make(map[string]bool)

	for i, raw := range envelope.Result.Records {
		row, err := decodeRecord(raw, ds, seen)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		ds.Rows = append(ds.Rows, row)
	}

	return ds, nil
}

func decodeRecord(raw json.RawMessage, ds *dataset.Dataset, seen map[string]bool) (dataset.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("record is not a JSON object")
	}

	row := make(dataset.Row)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in record", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("column %q: %w", key, err)
		}
		row[key] = value

		if !seen[key] {
			seen[key] = true
			ds.Columns = append(ds.Columns, key)
		}
	}

	return row, nil
}
