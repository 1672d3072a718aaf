package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-gateway/work/config"
	"iptv-gateway/work/probe"
)

type stubProber struct {
	requests []probe.Request
	verdict  func(req probe.Request) probe.Verdict
}

func (s *stubProber) Probe(_ context.Context, req probe.Request) probe.Verdict {
	s.requests = append(s.requests, req)
	return s.verdict(req)
}

func TestResolve_ReturnsLocationVerbatim(t *testing.T) {
	stub := &stubProber{verdict: func(probe.Request) probe.Verdict {
		return probe.Redirect("http://edge:2095/movie/u/p/296314.mp4?token=T")
	}}

	res := NewResolver(config.Default(), stub).Resolve(context.Background(), "http://origin:8080/movie/u/p/296314.mp4", "")
	assert.True(t, res.HasToken)
	assert.Equal(t, "http://edge:2095/movie/u/p/296314.mp4?token=T", res.URL)
	require.Len(t, stub.requests, 1)
	assert.Equal(t, http.MethodGet, stub.requests[0].Method)
}

func TestResolve_NoTokenOnOtherVerdicts(t *testing.T) {
	for _, v := range []probe.Verdict{
		probe.NotFound(),
		probe.HTMLErrorPage("markup body"),
		probe.ValidMedia("video/mp4", true),
		probe.Timeout(context.DeadlineExceeded),
	} {
		stub := &stubProber{verdict: func(probe.Request) probe.Verdict { return v }}
		res := NewResolver(config.Default(), stub).Resolve(context.Background(), "http://origin/movie/u/p/1.mp4", "position=30")
		assert.False(t, res.HasToken, v.String())
		assert.Equal(t, "http://origin/movie/u/p/1.mp4?position=30", res.URL)
		assert.Equal(t, v.Kind, res.Verdict.Kind)
	}
}

func TestResolve_ResumeEchoedByUpstream(t *testing.T) {
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer edge.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := edge.URL + r.URL.Path + "?token=abc"
		if r.URL.RawQuery != "" {
			target += "&" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer origin.Close()

	cfg := config.Default()
	res := NewResolver(cfg, probe.New(cfg)).Resolve(context.Background(), origin.URL+"/movie/u/p/7.mp4", "position=120&seek=5")
	require.True(t, res.HasToken)
	assert.True(t, strings.HasPrefix(res.URL, edge.URL), res.URL)
	assert.Contains(t, res.URL, "token=abc")
	assert.Contains(t, res.URL, "position=120&seek=5")
}

func TestResolve_TokensAreNotCached(t *testing.T) {
	n := 0
	stub := &stubProber{verdict: func(probe.Request) probe.Verdict {
		n++
		return probe.Redirect("http://edge/x.mp4?token=" + strings.Repeat("t", n))
	}}
	r := NewResolver(config.Default(), stub)

	first := r.Resolve(context.Background(), "http://origin/x.mp4", "")
	second := r.Resolve(context.Background(), "http://origin/x.mp4", "")
	assert.NotEqual(t, first.URL, second.URL)
	assert.Len(t, stub.requests, 2)
}

func TestResumeParams(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"vod_id=1&position=120", "position=120"},
		{"Seek=10&playlist_id=2&continue", "Seek=10&continue"},
		{"time=00%3A10&start=5&offset=1&resume=yes", "time=00%3A10&start=5&offset=1&resume=yes"},
		{"foo=bar", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResumeParams(tt.in), tt.in)
	}
}

func TestWithQuery(t *testing.T) {
	assert.Equal(t, "http://h/a.mp4", WithQuery("http://h/a.mp4", ""))
	assert.Equal(t, "http://h/a.mp4?position=1", WithQuery("http://h/a.mp4", "position=1"))
	assert.Equal(t, "http://h/a.mp4?token=T&position=1", WithQuery("http://h/a.mp4?token=T", "position=1"))
}
