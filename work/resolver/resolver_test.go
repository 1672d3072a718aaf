package resolver

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-gateway/work/config"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/types"
)

var creds = types.Credentials{PlaylistID: 0, BaseURL: "http://upstream:8080", Username: "u", Password: "p"}

const segmentPrefix = "http://upstream:8080/segments/u/p/296314/"

// upstreamDouble answers probes by URL. Unknown URLs are NotFound.
type upstreamDouble struct {
	mu       sync.Mutex
	byURL    map[string]func(req probe.Request) probe.Verdict
	segments int // indices below this are valid media
	calls    []string
}

func newDouble() *upstreamDouble {
	return &upstreamDouble{byURL: map[string]func(probe.Request) probe.Verdict{}}
}

func (d *upstreamDouble) on(rawURL string, v probe.Verdict) *upstreamDouble {
	d.byURL[rawURL] = func(probe.Request) probe.Verdict { return v }
	return d
}

func (d *upstreamDouble) Probe(_ context.Context, req probe.Request) probe.Verdict {
	d.mu.Lock()
	d.calls = append(d.calls, req.URL)
	d.mu.Unlock()

	if strings.HasPrefix(req.URL, segmentPrefix) {
		index, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(req.URL, segmentPrefix), ".ts"))
		if index < d.segments {
			return probe.ValidMedia("video/mp2t", true)
		}
		return probe.NotFound()
	}
	if f, ok := d.byURL[req.URL]; ok {
		return f(req)
	}
	return probe.NotFound()
}

func movie() types.StreamTarget {
	return types.StreamTarget{Kind: types.KindMovie, ID: "296314", ContainerHint: "mp4"}
}

func formats(cs []types.Candidate) []types.Format {
	out := make([]types.Format, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Format)
	}
	return out
}

func TestResolve_TokenedContainerIsRecommended(t *testing.T) {
	d := newDouble().on("http://upstream:8080/movie/u/p/296314.mp4",
		probe.Redirect("http://edge:2095/movie/u/p/296314.mp4?token=T"))

	res, err := New(config.Default(), d).Resolve(context.Background(), movie(), creds)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.Recommended.URL, "?token=T"))
	assert.True(t, res.Recommended.HasToken)
	assert.Equal(t, types.FormatMP4, res.Recommended.Format)
	assert.Equal(t, 1, res.Recommended.Rank)
	assert.Equal(t, res.All[0], res.Recommended)
	assert.NoError(t, res.Err())
}

func TestResolve_SkipsSegmentTierWhenNothingDiscovered(t *testing.T) {
	d := newDouble()

	res, err := New(config.Default(), d).Resolve(context.Background(), movie(), creds)
	require.NoError(t, err)

	assert.Equal(t, []types.Format{types.FormatM3U8Direct, types.FormatTS}, formats(res.All))
	assert.Equal(t, types.FormatM3U8Direct, res.Recommended.Format)
	assert.Equal(t, "http://upstream:8080/movie/u/p/296314.m3u8", res.Recommended.URL)
	assert.ErrorIs(t, res.Err(), ErrNoCandidates)
}

func TestResolve_FullTierOrder(t *testing.T) {
	d := newDouble().on("http://upstream:8080/movie/u/p/296314.mp4", probe.Timeout(context.DeadlineExceeded))
	d.segments = 5

	res, err := New(config.Default(), d).Resolve(context.Background(), movie(), creds)
	require.NoError(t, err)

	assert.Equal(t, []types.Format{
		types.FormatMP4, types.FormatM3U8Segment, types.FormatM3U8Direct, types.FormatTS,
	}, formats(res.All))
	for i, c := range res.All {
		assert.Equal(t, i+1, c.Rank)
	}

	assert.Equal(t, "http://upstream:8080/movie/u/p/296314.mp4", res.Recommended.URL)
	assert.False(t, res.Recommended.Verified)

	seg := res.All[1]
	assert.Equal(t, "http://localhost:8000/relay/segments/0/296314/playlist.m3u8", seg.URL)
	assert.True(t, seg.Verified)
	assert.NoError(t, res.Err())
}

func TestResolve_SegmentTierChecksOnlyFirstIndex(t *testing.T) {
	d := newDouble()
	d.segments = 540

	res, err := New(config.Default(), d).Resolve(context.Background(), movie(), creds)
	require.NoError(t, err)

	assert.Equal(t, types.FormatM3U8Segment, res.Recommended.Format)
	var segmentCalls []string
	for _, call := range d.calls {
		if strings.HasPrefix(call, segmentPrefix) {
			segmentCalls = append(segmentCalls, call)
		}
	}
	assert.Equal(t, []string{segmentPrefix + "0.ts"}, segmentCalls)
}

func TestResolve_VerifiedTierAboveSkipsSegments(t *testing.T) {
	tests := []struct {
		name   string
		direct string
		mp4    probe.Verdict
		want   []types.Format
	}{
		{
			name:   "direct source and tokened container",
			direct: "http://cdn/x.mp4",
			mp4:    probe.Redirect("http://edge:2095/movie/u/p/296314.mp4?token=T"),
			want:   []types.Format{types.FormatMP4, types.FormatMP4, types.FormatM3U8Direct, types.FormatTS},
		},
		{
			name: "tokened container",
			mp4:  probe.Redirect("http://edge:2095/movie/u/p/296314.mp4?token=T"),
			want: []types.Format{types.FormatMP4, types.FormatM3U8Direct, types.FormatTS},
		},
		{
			name: "container confirmed without token",
			mp4:  probe.ValidMedia("video/mp4", true),
			want: []types.Format{types.FormatMP4, types.FormatM3U8Direct, types.FormatTS},
		},
		{
			name:   "direct source only",
			direct: "http://cdn/x.mkv",
			want:   []types.Format{types.FormatOther, types.FormatM3U8Direct, types.FormatTS},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDouble()
			d.segments = 540
			if tt.mp4.Kind != 0 {
				d.on("http://upstream:8080/movie/u/p/296314.mp4", tt.mp4)
			}
			target := movie()
			target.DirectSourceURL = tt.direct

			res, err := New(config.Default(), d).Resolve(context.Background(), target, creds)
			require.NoError(t, err)

			assert.Equal(t, tt.want, formats(res.All))
			assert.True(t, res.Recommended.Verified)
			for _, call := range d.calls {
				assert.NotContains(t, call, "/segments/")
			}
		})
	}
}

func TestResolve_DirectSourceIsNotProbed(t *testing.T) {
	d := newDouble()
	target := types.StreamTarget{Kind: types.KindEpisode, ID: "55", DirectSourceURL: "http://cdn/e.mp4"}

	res, err := New(config.Default(), d).Resolve(context.Background(), target, creds)
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/e.mp4", res.Recommended.URL)
	for _, call := range d.calls {
		assert.NotEqual(t, "http://cdn/e.mp4", call)
	}
}

func TestResolve_UnreachableContainerStillRanksFirst(t *testing.T) {
	d := newDouble().on("http://upstream:8080/series/u/p/77.mkv?position=90", probe.Timeout(context.DeadlineExceeded))
	target := types.StreamTarget{Kind: types.KindEpisode, ID: "77", ContainerHint: ".mkv", ResumeQuery: "series_id=1&position=90"}

	res, err := New(config.Default(), d).Resolve(context.Background(), target, creds)
	require.NoError(t, err)

	assert.Equal(t, "http://upstream:8080/series/u/p/77.mkv?position=90", res.Recommended.URL)
	assert.False(t, res.Recommended.HasToken)
	assert.False(t, res.Recommended.Verified)
	assert.Len(t, res.All, 3)
}

func TestResolve_ManifestHintSkipsContainerTier(t *testing.T) {
	d := newDouble()
	target := types.StreamTarget{Kind: types.KindMovie, ID: "296314", ContainerHint: "m3u8"}

	res, err := New(config.Default(), d).Resolve(context.Background(), target, creds)
	require.NoError(t, err)
	assert.Equal(t, []types.Format{types.FormatM3U8Direct, types.FormatTS}, formats(res.All))
	assert.NotContains(t, d.calls, "http://upstream:8080/movie/u/p/296314.m3u8")
}

func TestResolve_ResumeParamsEchoedIntoToken(t *testing.T) {
	d := newDouble()
	d.byURL["http://upstream:8080/movie/u/p/296314.mp4?position=120&seek=3"] = func(req probe.Request) probe.Verdict {
		u, _ := url.Parse(req.URL)
		return probe.Redirect("http://10.0.0.9:2095/movie/u/p/296314.mp4?token=T&" + u.RawQuery)
	}

	target := movie()
	target.ResumeQuery = "vod_id=296314&position=120&playlist_id=0&seek=3"

	res, err := New(config.Default(), d).Resolve(context.Background(), target, creds)
	require.NoError(t, err)
	assert.True(t, res.Recommended.HasToken)
	assert.Equal(t, "http://10.0.0.9:2095/movie/u/p/296314.mp4?token=T&position=120&seek=3", res.Recommended.URL)
}

func TestResolve_DeterministicOrdering(t *testing.T) {
	n := 0
	var mu sync.Mutex
	d := newDouble()
	d.segments = 3
	d.byURL["http://upstream:8080/movie/u/p/296314.mp4"] = func(probe.Request) probe.Verdict {
		mu.Lock()
		defer mu.Unlock()
		n++
		return probe.Redirect("http://edge/movie/u/p/296314.mp4?token=" + strconv.Itoa(n))
	}
	p := New(config.Default(), d)

	first, err := p.Resolve(context.Background(), movie(), creds)
	require.NoError(t, err)
	second, err := p.Resolve(context.Background(), movie(), creds)
	require.NoError(t, err)

	require.Equal(t, len(first.All), len(second.All))
	for i := range first.All {
		assert.Equal(t, first.All[i].Format, second.All[i].Format)
		assert.Equal(t, first.All[i].Rank, second.All[i].Rank)
	}
	assert.NotEqual(t, first.Recommended.URL, second.Recommended.URL)
}

func TestResolve_LiveDemotesUntokenedTier(t *testing.T) {
	d := newDouble().on("http://upstream:8080/live/u/p/42.ts", probe.Redirect("http://edge:8880/live/u/p/42.ts?token=L"))
	target := types.StreamTarget{Kind: types.KindLive, ID: "42"}

	res, err := New(config.Default(), d).Resolve(context.Background(), target, creds)
	require.NoError(t, err)

	require.Len(t, res.All, 2)
	assert.Equal(t, types.FormatTS, res.All[0].Format)
	assert.True(t, res.All[0].HasToken)
	assert.Equal(t, types.FormatM3U8Direct, res.All[1].Format)
	assert.False(t, res.All[1].HasToken)
	assert.Equal(t, 2, res.All[1].Rank)
	for _, call := range d.calls {
		assert.NotContains(t, call, "/segments/")
	}
}

func TestResolve_LiveBothTokened(t *testing.T) {
	d := newDouble().
		on("http://upstream:8080/live/u/p/42.m3u8", probe.Redirect("http://edge/live/u/p/42.m3u8?token=A")).
		on("http://upstream:8080/live/u/p/42.ts", probe.Redirect("http://edge/live/u/p/42.ts?token=B"))

	res, err := New(config.Default(), d).Resolve(context.Background(), types.StreamTarget{Kind: types.KindLive, ID: "42"}, creds)
	require.NoError(t, err)
	assert.Equal(t, []types.Format{types.FormatM3U8Direct, types.FormatTS}, formats(res.All))
	assert.Equal(t, "http://edge/live/u/p/42.m3u8?token=A", res.Recommended.URL)
}

func TestResolve_InvalidTarget(t *testing.T) {
	p := New(config.Default(), newDouble())

	_, err := p.Resolve(context.Background(), types.StreamTarget{Kind: types.KindMovie}, creds)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = p.Resolve(context.Background(), types.StreamTarget{Kind: "radio", ID: "1"}, creds)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}
