package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/http"
	"github.com/fshare/fshare/internal/logging"
	"github.com/fshare/fshare/internal/version"
)

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL  string
	Settings *config.Settings
	Logger   *logging.Logger

	// Retry overrides the download retry policy (tests use a short delay).
	Retry *http.RetryConfig
}

// Client talks to one fshare server. It keeps the session cookie between
// calls and is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	logger  *logging.Logger

	api            *nethttp.Client
	fileDownload   *retryablehttp.Client
	folderDownload *retryablehttp.Client
	upload         *nethttp.Client

	// streamUploads is false when the transport buffers request bodies
	// (NTLM), where byte-level upload progress would be meaningless.
	streamUploads bool
}

// NewClient creates a client for the server at opts.BaseURL. A bare
// host:port is treated as http.
func NewClient(opts Options) (*Client, error) {
	base, err := normalizeBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	settings := opts.Settings
	if settings == nil {
		settings = config.NewSettings()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	retry := http.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if retry.OnRetry == nil {
		maxRetries := retry.MaxRetries
		retry.OnRetry = func(attempt int) {
			logger.Warn().Int("attempt", attempt).Int("max", maxRetries).Msg("Retrying download")
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	apiClient, err := http.ConfigureHTTPClient(settings, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	apiClient.Jar = jar
	apiClient.Timeout = constants.APIRequestTimeout

	transfer, err := http.CreateOptimizedClient(settings, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure transfer client: %w", err)
	}
	transfer.Jar = jar

	return &Client{
		baseURL:        base,
		logger:         logger,
		api:            apiClient,
		fileDownload:   http.NewRetryClient(http.WithResponseHeaderTimeout(transfer, constants.FileDownloadTimeout), retry, logger),
		folderDownload: http.NewRetryClient(http.WithResponseHeaderTimeout(transfer, constants.ArchiveDownloadTimeout), retry, logger),
		upload:         http.WithResponseHeaderTimeout(transfer, constants.UploadTimeout),
		streamUploads:  !strings.EqualFold(settings.Proxy.Mode, config.ProxyModeNTLM),
	}, nil
}

func normalizeBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("server URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""
	return u, nil
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// doJSON performs a small API call and decodes a 2xx JSON body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.api.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).Msg("API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Login establishes a session. A rejected login returns *StatusError with
// AttemptsRemaining set, or Locked() true once the address is blocked.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	return c.doJSON(ctx, nethttp.MethodPost, "/login", nil, form, nil)
}

// Logout clears the session on the server and locally.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, nethttp.MethodPost, "/logout", nil, url.Values{}, nil)
}

// PingInfo is the unauthenticated discovery response.
type PingInfo struct {
	OK          bool     `json:"ok"`
	Code        string   `json:"code"`
	Port        int      `json:"port"`
	Users       []string `json:"users"`
	SharedCount int      `json:"shared_count"`
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) (*PingInfo, error) {
	var info PingInfo
	if err := c.doJSON(ctx, nethttp.MethodGet, "/api/ping", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CheckCode validates an access code and returns the server's user names.
func (c *Client) CheckCode(ctx context.Context, code string) ([]string, error) {
	var out struct {
		Valid bool     `json:"valid"`
		Users []string `json:"users"`
	}
	if err := c.doJSON(ctx, nethttp.MethodGet, "/api/check_code", url.Values{"code": {code}}, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// SharedFolders returns the server's shared roots.
func (c *Client) SharedFolders(ctx context.Context) ([]string, error) {
	var out struct {
		Folders []string `json:"folders"`
	}
	if err := c.doJSON(ctx, nethttp.MethodGet, "/api/shared_folders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

// FileEntry is one row of a remote folder listing.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	IsDir        bool      `json:"isDir"`
	SizeBytes    int64     `json:"sizeBytes"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// Listing is a remote folder listing.
type Listing struct {
	Files       []FileEntry `json:"files"`
	CurrentPath string      `json:"currentPath"`
}

// ListFolder lists a remote folder.
func (c *Client) ListFolder(ctx context.Context, path string) (*Listing, error) {
	var out Listing
	if err := c.doJSON(ctx, nethttp.MethodGet, "/api/files", url.Values{"path": {path}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccessLog returns up to limit recent access log entries, oldest first.
func (c *Client) AccessLog(ctx context.Context, limit int) ([]accesslog.Entry, error) {
	var out struct {
		Entries []accesslog.Entry `json:"entries"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.doJSON(ctx, nethttp.MethodGet, "/api/access_log", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}
