// Package token obtains short-lived signed stream URLs by reading the
// upstream's redirect instead of following it.
//
// Tokens are bound to the requested resource and an edge address, so they
// are resolved on demand and never cached.
package token

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/metrics"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/utils"
)

// resumeKeys are the playback position parameters forwarded to the upstream,
// which echoes them into the redirect target.
var resumeKeys = map[string]bool{
	"position": true,
	"seek":     true,
	"time":     true,
	"start":    true,
	"offset":   true,
	"resume":   true,
	"continue": true,
}

// Result is the outcome of one resolution. URL is the tokened Location when
// HasToken is set and the untouched request URL otherwise.
type Result struct {
	URL      string
	HasToken bool
	Verdict  probe.Verdict
}

// Resolver chases exactly one redirect per call.
type Resolver struct {
	prober probe.Prober
	config *config.Config
}

// NewResolver returns a Resolver that sends its single request through
// prober. cfg is only used to mask URLs in log lines.
func NewResolver(cfg *config.Config, prober probe.Prober) *Resolver {
	return &Resolver{prober: prober, config: cfg}
}

// Resolve issues one request to baseURL carrying resumeQuery verbatim. On a
// redirect the Location is returned as-is, including whatever authority the
// upstream picked. Any other verdict yields a Result without a token.
func (r *Resolver) Resolve(ctx context.Context, baseURL, resumeQuery string) Result {
	requestURL := WithQuery(baseURL, resumeQuery)

	verdict := r.prober.Probe(ctx, probe.Request{URL: requestURL, Method: http.MethodGet})
	if verdict.Kind == probe.KindRedirect && verdict.Location != "" {
		metrics.TokenResolutions.WithLabelValues("token").Inc()
		logger.Debug("{token - Resolve} Resolved %s -> %s",
			utils.LogURL(r.config, requestURL), utils.LogURL(r.config, verdict.Location))
		return Result{URL: verdict.Location, HasToken: true, Verdict: verdict}
	}

	metrics.TokenResolutions.WithLabelValues("none").Inc()
	logger.Debug("{token - Resolve} No token for %s: %s", utils.LogURL(r.config, requestURL), verdict.Kind)
	return Result{URL: requestURL, Verdict: verdict}
}

// ResumeParams keeps only the resume-position pairs of a raw query string,
// in their original order and encoding.
func ResumeParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if resumeKeys[strings.ToLower(key)] {
			kept = append(kept, pair)
		}
	}
	return strings.Join(kept, "&")
}

// WithQuery appends raw query pairs to rawURL.
func WithQuery(rawURL, rawQuery string) string {
	if rawQuery == "" {
		return rawURL
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + rawQuery
	}
	return rawURL + "?" + rawQuery
}
