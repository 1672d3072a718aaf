package client

import (
	"net/http"
	"time"

	"iptv-gateway/work/config"
)

// Doer is the subset of http.Client used by upstream callers.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeaderSettingClient wraps http.Client to set the upstream-facing headers on
// every request.
type HeaderSettingClient struct {
	Client    *http.Client
	userAgent string
}

// NewHeaderSettingClient returns a client for relaying and catalog calls.
// It follows redirects and has no overall timeout so long transfers survive;
// callers bound requests with contexts.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout:   0,
		Transport: newTransport(30 * time.Second),
	}

	return &HeaderSettingClient{
		Client:    client,
		userAgent: cfg.UserAgent,
	}
}

// NewProbeClient returns a client that never follows redirects, so a 3xx and
// its Location header reach the caller untouched.
func NewProbeClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout:   0,
		Transport: newTransport(cfg.ProbeTimeout),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &HeaderSettingClient{
		Client:    client,
		userAgent: cfg.UserAgent,
	}
}

func newTransport(responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
}

// Do fills in the User-Agent and Accept headers the caller left empty, asks
// for keep-alive, and sends req.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" && hsc.userAgent != "" {
		req.Header.Set("User-Agent", hsc.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Connection", "keep-alive")
}
