// Package blob talks to the versioned calibration object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/tpcpid/internal/errors"
)

const (
	DefaultURL     = "http://alice-ccdb.cern.ch"
	defaultTimeout = 30 * time.Second

	headerValidFrom  = "Valid-From"
	headerValidUntil = "Valid-Until"
	headerNotAfter   = "If-Not-After"
)

// ErrNotFound is returned when no object is valid at the requested time.
var ErrNotFound = errors.Mark(errors.New("no object valid at timestamp"), errors.ErrLookup)

// Object is one stored version and the half-open window [ValidFrom, ValidUntil)
// in milliseconds during which it applies.
type Object struct {
	Path       string
	Data       []byte
	ValidFrom  int64
	ValidUntil int64
}

type Config struct {
	URL     string
	Timeout time.Duration
	// Cache is optional; nil disables local caching.
	Cache *Cache
	Log   *zap.SugaredLogger
	// CreatedNotAfter hides object versions uploaded after this time in ms,
	// so that a run keeps seeing the calibration that existed when it
	// started. Zero disables the cap.
	CreatedNotAfter int64
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *Cache
	log        *zap.SugaredLogger
	notAfter   int64
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.WithHint(errors.Configf("invalid blob store url %q", cfg.URL), "set --ccdb-url to an http(s) url")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:    raw,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cfg.Cache,
		log:        log,
		notAfter:   cfg.CreatedNotAfter,
	}, nil
}

// Get returns the data of the object at path valid at timestamp, from the
// local cache when it covers the timestamp and from the server otherwise.
// A single request is made; there are no retries.
func (c *Client) Get(ctx context.Context, path string, timestamp int64) ([]byte, error) {
	if c.cache != nil {
		obj, ok, err := c.cache.Lookup(path, timestamp)
		if err != nil {
			c.log.Warnw("Cache lookup failed", "path", path, "error", err)
		} else if ok {
			c.log.Debugw("Cache hit", "path", path, "timestamp", timestamp, "valid_from", obj.ValidFrom)
			return obj.Data, nil
		}
	}

	obj, err := c.Fetch(ctx, path, timestamp)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(obj); err != nil {
			c.log.Warnw("Cache store failed", "path", path, "error", err)
		}
	}
	return obj.Data, nil
}

// Fetch always goes to the server.
func (c *Client) Fetch(ctx context.Context, path string, timestamp int64) (*Object, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, errors.Configf("empty object path")
	}

	endpoint := fmt.Sprintf("%s/%s/%d", c.baseURL, path, timestamp)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to create request for %s", path), errors.ErrConfiguration)
	}

	if c.notAfter > 0 {
		req.Header.Set(headerNotAfter, strconv.FormatInt(c.notAfter, 10))
	}

	c.log.Debugw("Fetching object", "url", endpoint, "created_not_after", c.notAfter)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request for %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(ErrNotFound, "%s at %d", path, timestamp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := errors.Newf("blob store error for %s: status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
		return nil, errors.WithHint(errors.Mark(err, errors.ErrLookup), "check --ccdb-url and the server status")
	}

	obj := &Object{
		Path:       path,
		Data:       body,
		ValidFrom:  timestamp,
		ValidUntil: timestamp + 1,
	}
	if v, ok := parseMillis(resp.Header.Get(headerValidFrom)); ok {
		obj.ValidFrom = v
	}
	if v, ok := parseMillis(resp.Header.Get(headerValidUntil)); ok {
		obj.ValidUntil = v
	}
	if obj.ValidFrom > timestamp || obj.ValidUntil <= timestamp {
		// the server answered with an object that does not cover the request
		return nil, errors.Wrapf(ErrNotFound, "%s at %d (got [%d, %d))", path, timestamp, obj.ValidFrom, obj.ValidUntil)
	}

	return obj, nil
}

func parseMillis(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
