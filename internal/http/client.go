package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http2"

	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/logging"
)

// CreateOptimizedClient creates the client used for file transfers.
//
// It starts from the proxy-aware transport of ConfigureHTTPClient and tunes
// it for long streaming bodies:
//   - larger idle pool for concurrent uploads to the same server
//   - compression disabled (archives and media do not shrink)
//   - HTTP/2 when the server offers it, unless DISABLE_HTTP2=true
//   - HTTP/2 off behind a proxy unless FORCE_HTTP2=true
//
// The client has no overall timeout; transfers bound only the wait for
// response headers (see WithResponseHeaderTimeout).
func CreateOptimizedClient(s *config.Settings, logger *logging.Logger) (*nethttp.Client, error) {
	if s == nil {
		s = config.NewSettings()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	tr, ntlm, err := newTransport(s, logger)
	if err != nil {
		return nil, err
	}

	tr.MaxIdleConns = 256
	tr.MaxIdleConnsPerHost = 32
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		disableHTTP2(tr)
	}
	// Proxies often break HTTP/2 multiplexing mid-transfer.
	if ProxyActive(s, os.Getenv) && os.Getenv("FORCE_HTTP2") != "true" {
		disableHTTP2(tr)
	}

	return &nethttp.Client{Transport: wrapNTLM(tr, ntlm)}, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}

// WithResponseHeaderTimeout returns a copy of c whose transport gives up when
// response headers do not arrive within d. The body itself is not bounded.
// The copy shares c's cookie jar.
func WithResponseHeaderTimeout(c *nethttp.Client, d time.Duration) *nethttp.Client {
	out := *c
	switch rt := c.Transport.(type) {
	case *nethttp.Transport:
		tr := rt.Clone()
		tr.ResponseHeaderTimeout = d
		out.Transport = tr
	case ntlmssp.Negotiator:
		if inner, ok := rt.RoundTripper.(*nethttp.Transport); ok {
			tr := inner.Clone()
			tr.ResponseHeaderTimeout = d
			out.Transport = ntlmssp.Negotiator{RoundTripper: tr}
		}
	case nil:
		tr := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
		tr.ResponseHeaderTimeout = d
		out.Transport = tr
	default:
		// Unknown round tripper (tests); fall back to an overall timeout.
		out.Timeout = d
	}
	return &out
}
