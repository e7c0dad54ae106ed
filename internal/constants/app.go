package constants

import (
	"time"
)

// Streaming chunk sizes
const (
	// DownloadChunkSize - read/write unit for client downloads (1 MB)
	// Cancel and pause are observed between chunks, never inside one.
	DownloadChunkSize = 1 * 1024 * 1024

	// ArchiveStreamChunkSize - chunk size used when the server streams a built
	// folder archive back to the client (4 MB)
	ArchiveStreamChunkSize = 4 * 1024 * 1024

	// UploadCopyBufferSize - buffer used to copy a local file into the multipart
	// request body (256 KB); smaller than the download chunk so progress stays smooth
	UploadCopyBufferSize = 256 * 1024

	// MaxUploadMemory - multipart bytes the server keeps in memory before spilling
	// parts to temporary files (32 MB)
	MaxUploadMemory = 32 * 1024 * 1024
)

// Transfer scheduling
const (
	// MaxConcurrentUploads - uploads admitted at once from the FIFO queue.
	// Downloads are not capped.
	MaxConcurrentUploads = 3

	// DownloadMaxRetries - additional attempts after the first failed download request
	DownloadMaxRetries = 2

	// DownloadRetryDelay - fixed delay between download attempts (2 seconds)
	DownloadRetryDelay = 2 * time.Second

	// DiskSpaceMargin - free space required on the download disk as a multiple
	// of the declared size
	DiskSpaceMargin = 1.05
)

// Per-endpoint timeouts (time to response headers)
const (
	// FileDownloadTimeout - single file download (60 seconds)
	FileDownloadTimeout = 60 * time.Second

	// ArchiveDownloadTimeout - folder archive download (5 minutes).
	// The server builds the whole archive before sending headers.
	ArchiveDownloadTimeout = 300 * time.Second

	// UploadTimeout - wait for the upload response after the body is sent (5 minutes)
	UploadTimeout = 300 * time.Second

	// APIRequestTimeout - small JSON API calls (15 seconds)
	APIRequestTimeout = 15 * time.Second
)

// Login throttling
const (
	// MaxLoginAttempts - failures inside the window that trigger a block
	MaxLoginAttempts = 5

	// LoginAttemptWindow - sliding window for counting failures (5 minutes)
	LoginAttemptWindow = 300 * time.Second

	// LoginBlockDuration - how long an address stays blocked (15 minutes)
	LoginBlockDuration = 900 * time.Second
)

// Server defaults
const (
	// DefaultServerPort - port used when the config does not name one
	DefaultServerPort = 5000

	// AccessLogCapacity - access log entries kept in memory; oldest dropped first
	AccessLogCapacity = 1000

	// AccessLogRetention - rows kept in the access log database; older rows are pruned
	AccessLogRetention = 100000

	// AccessCodeLength - length of the generated access code
	AccessCodeLength = 6

	// DefaultSessionTTL - lifetime of a login session cookie (12 hours)
	DefaultSessionTTL = 12 * time.Hour

	// SessionCookieName - cookie carrying the signed session token
	SessionCookieName = "fshare_session"

	// ServerShutdownTimeout - grace period for in-flight requests on shutdown
	ServerShutdownTimeout = 10 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// UI Updates
const (
	// ProgressUpdateInterval - minimum interval between progress events for one
	// task (250ms); the final chunk is always reported
	ProgressUpdateInterval = 250 * time.Millisecond

	// PausePollInterval - upper bound on how long a paused worker sleeps before it
	// re-checks its flags (100ms)
	PausePollInterval = 100 * time.Millisecond
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)
