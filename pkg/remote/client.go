// Package remote talks to the companion service that owns server configs and
// performs uploads to remote servers.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/metrics"
	"github.com/sdejongh/fetchferry/pkg/models"
)

// ErrServerNotFound is returned when the remote API has no config for an id
var ErrServerNotFound = errors.New("server config not found")

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 * 1024

// APIError is a non-success answer from the remote API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("remote API responded with status %d", e.StatusCode)
}

// Config configures a Client
type Config struct {
	BaseURL string
	// Timeout bounds metadata requests; uploads are bounded by their context only
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// Client is an HTTP client for the remote API
type Client struct {
	baseURL *url.URL
	timeout time.Duration
	http    *http.Client
	cache   *expirable.LRU[string, models.ServerConfig]
	logger  logging.Logger
}

// NewClient creates a client. A CacheSize of 0 disables config caching.
func NewClient(cfg Config, httpClient *http.Client, logger logging.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	c := &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  logger,
	}
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, models.ServerConfig](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return c, nil
}

// GetServerConfig fetches one server config by id
func (c *Client) GetServerConfig(ctx context.Context, id string) (models.ServerConfig, error) {
	if id == "" {
		return models.ServerConfig{}, ErrServerNotFound
	}
	if c.cache != nil {
		if cfg, ok := c.cache.Get(id); ok {
			metrics.ServerCacheHits.Inc()
			return cfg, nil
		}
		metrics.ServerCacheMisses.Inc()
	}

	var cfg models.ServerConfig
	err := c.getJSON(ctx, "/servers/"+url.PathEscape(id), &cfg)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return models.ServerConfig{}, ErrServerNotFound
	}
	if err != nil {
		return models.ServerConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = id
	}

	if c.cache != nil {
		c.cache.Add(id, cfg)
	}
	return cfg, nil
}

// ListServers returns every registered server config
func (c *Client) ListServers(ctx context.Context) ([]models.ServerConfig, error) {
	var servers []models.ServerConfig
	if err := c.getJSON(ctx, "/servers", &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Invalidate drops a cached server config
func (c *Client) Invalidate(id string) {
	if c.cache != nil {
		c.cache.Remove(id)
	}
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Upload asks the remote API to push localPath to a server.
// Cancelling ctx aborts the request.
func (c *Client) Upload(ctx context.Context, localPath, serverID, targetPath string) error {
	form := url.Values{}
	form.Set("local_path", localPath)
	form.Set("server_id", serverID)
	form.Set("target_path", targetPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UploadDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	var body uploadResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !body.Success {
		metrics.UploadDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		if body.Error == "" && decodeErr != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return fmt.Errorf("invalid upload response: %w", decodeErr)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	metrics.UploadDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	c.logger.Debug(ctx, "upload accepted", logging.Fields{
		"server_id":   serverID,
		"local_path":  localPath,
		"target_path": targetPath,
	})
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid remote API response: %w", err)
	}
	return nil
}
