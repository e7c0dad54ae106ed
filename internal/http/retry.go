package http

import (
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/logging"
)

// ErrorType classifies transfer failures for the retry policy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeTransient covers connection failures, timeouts and gateway errors (502, 503, 504)
	ErrorTypeTransient
	// ErrorTypeForbidden covers authentication and sandbox rejections (401, 403)
	ErrorTypeForbidden
	// ErrorTypeNotFound indicates the remote path does not exist (404)
	ErrorTypeNotFound
	// ErrorTypeFatal is everything else; never retried
	ErrorTypeFatal
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ClassifyError maps err onto the retry taxonomy. Context cancellation is
// fatal so a cancelled transfer is never retried.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeFatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return ClassifyStatus(sc.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTransient
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return ErrorTypeTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorTypeTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Transport-level failure before a response arrived.
		return ErrorTypeTransient
	}
	return ErrorTypeFatal
}

// ClassifyStatus maps an HTTP status code onto the retry taxonomy.
func ClassifyStatus(code int) ErrorType {
	switch {
	case code >= 200 && code < 300:
		return ErrorTypeSuccess
	case code == nethttp.StatusBadGateway,
		code == nethttp.StatusServiceUnavailable,
		code == nethttp.StatusGatewayTimeout:
		return ErrorTypeTransient
	case code == nethttp.StatusUnauthorized, code == nethttp.StatusForbidden:
		return ErrorTypeForbidden
	case code == nethttp.StatusNotFound:
		return ErrorTypeNotFound
	default:
		return ErrorTypeFatal
	}
}

// String returns a human-readable name for the ErrorType.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeForbidden:
		return "forbidden"
	case ErrorTypeNotFound:
		return "not found"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// RetryConfig holds the download retry parameters
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one (default: 2)
	MaxRetries int
	// Delay is the fixed wait between attempts (default: 2s)
	Delay time.Duration
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int)
}

// DefaultRetryConfig returns the download retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: constants.DownloadMaxRetries,
		Delay:      constants.DownloadRetryDelay,
	}
}

// NewRetryClient wraps base in a retryablehttp client that retries only
// transient failures, with a fixed delay. After the last attempt the final
// response or error is handed back unchanged so callers can map it.
func NewRetryClient(base *nethttp.Client, cfg RetryConfig, logger *logging.Logger) *retryablehttp.Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.Delay
	rc.RetryWaitMax = cfg.Delay
	rc.Logger = leveledLogger{logger}
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *nethttp.Response) time.Duration {
		return cfg.Delay
	}
	rc.CheckRetry = func(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		kind := ClassifyError(err)
		if err == nil {
			kind = ClassifyStatus(resp.StatusCode)
		}
		if kind != ErrorTypeSuccess {
			logger.Debug().Err(err).Stringer("kind", kind).Msg("Download attempt failed")
		}
		return kind == ErrorTypeTransient, nil
	}
	if cfg.OnRetry != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *nethttp.Request, attempt int) {
			if attempt > 0 {
				cfg.OnRetry(attempt)
			}
		}
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// leveledLogger adapts logging.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *logging.Logger
}

func (z leveledLogger) Error(msg string, kv ...interface{}) {
	z.l.Error().Fields(kv).Msg(msg)
}

func (z leveledLogger) Warn(msg string, kv ...interface{}) {
	z.l.Warn().Fields(kv).Msg(msg)
}

func (z leveledLogger) Info(msg string, kv ...interface{}) {
	z.l.Debug().Fields(kv).Msg(msg)
}

func (z leveledLogger) Debug(msg string, kv ...interface{}) {
	z.l.Debug().Fields(kv).Msg(msg)
}
