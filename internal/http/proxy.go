package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/logging"
)

// newTransport builds the base transport with the proxy selected by s.
// ntlm reports whether the caller must wrap the transport in an NTLM
// negotiator; wrapping is left to the caller so the transport can still be
// tuned first.
func newTransport(s *config.Settings, logger *logging.Logger) (tr *nethttp.Transport, ntlm bool, err error) {
	tr = &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.InsecureSkipVerify,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}

	p := s.Proxy
	switch strings.ToLower(p.Mode) {
	case config.ProxyModeNone, "":
		tr.Proxy = nil

	case config.ProxyModeSystem:
		tr.Proxy = nethttp.ProxyFromEnvironment

	case config.ProxyModeNTLM, config.ProxyModeBasic:
		// Incomplete saved settings fall back to a direct connection so the
		// user can still reach a LAN server and fix the proxy later.
		if p.Host == "" {
			logger.Warn().Str("mode", p.Mode).Msg("Proxy host is missing, connecting directly")
			tr.Proxy = nil
			return tr, false, nil
		}
		if p.User != "" && p.Password == "" {
			logger.Warn().Msg("Proxy user configured but password missing, proxy auth disabled")
		}
		tr.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy, logger)
		ntlm = strings.ToLower(p.Mode) == config.ProxyModeNTLM

	default:
		return nil, false, fmt.Errorf("unsupported proxy mode: %s", p.Mode)
	}
	return tr, ntlm, nil
}

// ConfigureHTTPClient returns a client for small API calls: the proxy from
// the settings, a cookie-less client with no overall timeout (callers use
// per-request contexts).
func ConfigureHTTPClient(s *config.Settings, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	tr, ntlm, err := newTransport(s, logger)
	if err != nil {
		return nil, err
	}
	return &nethttp.Client{Transport: wrapNTLM(tr, ntlm)}, nil
}

func wrapNTLM(tr *nethttp.Transport, ntlm bool) nethttp.RoundTripper {
	if ntlm {
		return ntlmssp.Negotiator{RoundTripper: tr}
	}
	return tr
}

// buildProxyURL constructs a proxy URL from the proxy settings
func buildProxyURL(p config.ProxySettings) *url.URL {
	port := p.Port
	if port == 0 {
		port = 8080
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.Host, fmt.Sprint(port)),
	}

	// Only embed credentials if both user and password are provided; an empty
	// password in the URL makes some proxies reject the request outright.
	if p.User != "" && p.Password != "" {
		proxyURL.User = url.UserPassword(p.User, p.Password)
	}
	return proxyURL
}

// WarmupProxy makes one request to baseURL through client so that proxy
// authentication failures surface before a transfer starts.
func WarmupProxy(ctx context.Context, client *nethttp.Client, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, strings.TrimRight(baseURL, "/")+"/api/ping", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == nethttp.StatusProxyAuthRequired {
		return fmt.Errorf("proxy rejected credentials: %s", resp.Status)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}
	return nil
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy
// bypass list. With an empty list it behaves like nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("Proxy bypass, direct connection")
		} else {
			logger.Debug().Str("host", req.URL.Host).Str("proxy", result.Host).Msg("Proxied")
		}
		return result, err
	}
}

// NeedsProxyPassword reports whether the proxy settings name a user but no
// password, so the CLI should prompt for one.
func NeedsProxyPassword(p config.ProxySettings) bool {
	mode := strings.ToLower(p.Mode)
	if mode != config.ProxyModeBasic && mode != config.ProxyModeNTLM {
		return false
	}
	return p.User != "" && p.Password == ""
}

// ProxyActive reports whether requests made with s may go through a proxy.
func ProxyActive(s *config.Settings, getenv func(string) string) bool {
	switch strings.ToLower(s.Proxy.Mode) {
	case config.ProxyModeNone, "":
		return false
	case config.ProxyModeSystem:
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
			if getenv(k) != "" {
				return true
			}
		}
		return false
	default:
		return s.Proxy.Host != ""
	}
}
