// Package probe issues single bounded requests against the upstream and
// classifies the raw response into a Verdict.
//
// The upstream answers HEAD with 200 for titles that 404 on GET and serves
// 200-OK HTML error pages in place of media, so status codes alone are never
// taken as evidence that media exists.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"iptv-gateway/work/client"
	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/metrics"
	"iptv-gateway/work/utils"
)

// SyncByte starts every MPEG transport stream packet.
const SyncByte = 0x47

// TSPacketRange asks for the first transport stream packet only.
const TSPacketRange = "bytes=0-187"

// sniffLen is how much of a GET body is inspected.
const sniffLen = 512

// Kind is the closed set of probe outcomes.
type Kind int

const (
	KindRedirect Kind = iota + 1
	KindValidMedia
	KindHTMLErrorPage
	KindNotFound
	KindTimeout
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindRedirect:
		return "redirect"
	case KindValidMedia:
		return "valid_media"
	case KindHTMLErrorPage:
		return "html_error_page"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Verdict is the classification of one upstream response. Only the fields
// relevant to Kind are set.
type Verdict struct {
	Kind        Kind
	Location    string // KindRedirect: absolute redirect target
	ContentType string // KindValidMedia / KindHTMLErrorPage: declared or sniffed type
	SizeKnown   bool   // KindValidMedia: length or range declared
	BodyChecked bool   // KindValidMedia: the body was read and sniffed (GET only)
	StatusCode  int
	Reason      string // human readable detail for logs
	Err         error  // KindTimeout / KindTransportError
}

// Redirect is the verdict for a 3xx answer. location must already be
// resolved against the request URL; the token resolver reads the token from
// it.
func Redirect(location string) Verdict {
	return Verdict{Kind: KindRedirect, Location: location, StatusCode: http.StatusFound}
}

// ValidMedia is the verdict for a 2xx answer whose body was read and looked
// like media. sizeKnown records whether the upstream declared a length or a
// range.
func ValidMedia(contentType string, sizeKnown bool) Verdict {
	return Verdict{Kind: KindValidMedia, ContentType: contentType, SizeKnown: sizeKnown, BodyChecked: true, StatusCode: http.StatusOK}
}

// HTMLErrorPage is the verdict for a 2xx answer that carried markup instead
// of media. Some panels answer a missing title this way.
func HTMLErrorPage(reason string) Verdict {
	return Verdict{Kind: KindHTMLErrorPage, Reason: reason, StatusCode: http.StatusOK}
}

// NotFound is the verdict for a 404, 410 or 416 answer, any other non-2xx
// below 500, and a 2xx GET with an empty body.
func NotFound() Verdict {
	return Verdict{Kind: KindNotFound, StatusCode: http.StatusNotFound}
}

// Timeout is the verdict when the probe deadline passed first.
func Timeout(err error) Verdict {
	return Verdict{Kind: KindTimeout, Err: err}
}

// TransportError is the verdict when no HTTP answer arrived at all.
func TransportError(err error) Verdict {
	return Verdict{Kind: KindTransportError, Err: err}
}

// Confirmed reports whether the verdict proves that media exists: valid media
// established by inspecting a GET body.
func (v Verdict) Confirmed() bool {
	return v.Kind == KindValidMedia && v.BodyChecked
}

// Deceptive reports a success status carrying a non-media body.
func (v Verdict) Deceptive() bool {
	return v.Kind == KindHTMLErrorPage
}

// Failed reports a network-level failure (timeout or transport error).
func (v Verdict) Failed() bool {
	return v.Kind == KindTimeout || v.Kind == KindTransportError
}

func (v Verdict) String() string {
	switch v.Kind {
	case KindRedirect:
		return fmt.Sprintf("%s(%s)", v.Kind, utils.MaskCredentials(v.Location))
	case KindValidMedia:
		return fmt.Sprintf("%s(%s, checked=%v)", v.Kind, v.ContentType, v.BodyChecked)
	case KindHTMLErrorPage:
		return fmt.Sprintf("%s(%s)", v.Kind, v.Reason)
	case KindTimeout, KindTransportError:
		return fmt.Sprintf("%s(%v)", v.Kind, v.Err)
	default:
		return v.Kind.String()
	}
}

// Request describes one probe.
type Request struct {
	URL             string
	Method          string // http.MethodHead or http.MethodGet
	Range           string // optional Range header value
	TransportStream bool   // GET body must start with the TS sync byte
}

// Prober performs one classified request. Implementations never retry.
type Prober interface {
	Probe(ctx context.Context, req Request) Verdict
}

// HTTPProber probes the real upstream.
type HTTPProber struct {
	client  client.Doer
	timeout time.Duration
	config  *config.Config
}

// New creates an HTTPProber using a non-redirecting client.
func New(cfg *config.Config) *HTTPProber {
	return NewWithClient(cfg, client.NewProbeClient(cfg))
}

// NewWithClient creates an HTTPProber with a caller supplied client. The
// client must not follow redirects.
func NewWithClient(cfg *config.Config, doer client.Doer) *HTTPProber {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = config.DefaultProbeTimeout
	}
	return &HTTPProber{
		client:  doer,
		timeout: timeout,
		config:  cfg,
	}
}

// Probe issues exactly one request bounded by the prober's own deadline.
// Cancellation of ctx does not abort an in-flight probe.
func (p *HTTPProber) Probe(ctx context.Context, req Request) Verdict {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	verdict := p.do(probeCtx, method, req)

	metrics.ProbeVerdicts.WithLabelValues(verdict.Kind.String(), method).Inc()
	switch {
	case verdict.Deceptive():
		metrics.UpstreamDeceptions.Inc()
		logger.Warn("{probe - Probe} Upstream deception on %s %s: %s",
			method, utils.LogURL(p.config, req.URL), verdict.Reason)
	case verdict.Failed():
		logger.Debug("{probe - Probe} Probe failure on %s %s: %v",
			method, utils.LogURL(p.config, req.URL), verdict.Err)
	default:
		logger.Debug("{probe - Probe} %s %s -> %s", method, utils.LogURL(p.config, req.URL), verdict)
	}

	return verdict
}

func (p *HTTPProber) do(ctx context.Context, method string, req Request) Verdict {
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return TransportError(fmt.Errorf("build request: %w", err))
	}
	if req.Range != "" {
		httpReq.Header.Set("Range", req.Range)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc, err := resp.Location()
		if err != nil {
			return TransportError(fmt.Errorf("redirect %d without usable Location: %w", resp.StatusCode, err))
		}
		return Redirect(loc.String())
	}

	var body []byte
	if method == http.MethodGet && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, sniffLen))
		if err != nil && len(body) == 0 {
			return classifyError(err)
		}
	}

	return Classify(method, resp.StatusCode, resp.Header, resp.ContentLength, body, req.TransportStream)
}

// Classify applies the verdict rules to a non-redirect response. body holds
// the first bytes of a GET response and is ignored for HEAD.
func Classify(method string, status int, header http.Header, contentLength int64, body []byte, transportStream bool) Verdict {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone || status == http.StatusRequestedRangeNotSatisfiable:
		return withStatus(NotFound(), status)
	case status >= 500:
		return withStatus(TransportError(fmt.Errorf("upstream status %d", status)), status)
	case status < 200 || status >= 300:
		return withStatus(NotFound(), status)
	}

	declared := mediaType(header.Get("Content-Type"))
	sizeKnown := contentLength >= 0 || header.Get("Content-Range") != ""

	if strings.Contains(declared, "html") {
		return withStatus(HTMLErrorPage("declared "+declared), status)
	}

	if method == http.MethodHead {
		v := ValidMedia(declared, sizeKnown)
		v.BodyChecked = false
		return withStatus(v, status)
	}

	if len(body) == 0 {
		return withStatus(NotFound(), status)
	}

	if first := bytes.TrimLeft(body, " \t\r\n\ufeff"); len(first) > 0 && first[0] == '<' {
		return withStatus(HTMLErrorPage("markup body"), status)
	}

	sniffed := mediaType(http.DetectContentType(body))
	if !isMediaType(declared) && !isMediaType(sniffed) {
		return withStatus(HTMLErrorPage(fmt.Sprintf("non-media body (declared %q, sniffed %q)", declared, sniffed)), status)
	}

	if transportStream && body[0] != SyncByte {
		return withStatus(HTMLErrorPage(fmt.Sprintf("missing TS sync byte (got 0x%02x)", body[0])), status)
	}

	contentType := declared
	if !isMediaType(contentType) {
		contentType = sniffed
	}
	return withStatus(ValidMedia(contentType, sizeKnown), status)
}

func withStatus(v Verdict, status int) Verdict {
	v.StatusCode = status
	return v
}

func classifyError(err error) Verdict {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}
	return TransportError(err)
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mt)
}

// isMediaType reports whether a media type denotes streamable media.
func isMediaType(mt string) bool {
	switch {
	case mt == "":
		return false
	case strings.HasPrefix(mt, "video/"), strings.HasPrefix(mt, "audio/"):
		return true
	case strings.Contains(mt, "mpegurl"):
		return true
	}
	switch mt {
	case "application/octet-stream", "binary/octet-stream", "application/mp4", "application/x-mpegts":
		return true
	}
	return false
}
