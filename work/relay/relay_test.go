package relay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-gateway/work/accounts"
	"iptv-gateway/work/buffer"
	"iptv-gateway/work/client"
	"iptv-gateway/work/config"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/segments"
)

func segmentBody(index int) []byte {
	body := make([]byte, 188*4)
	for i := 0; i < len(body); i += 188 {
		body[i] = probe.SyncByte
		body[i+1] = byte(index)
	}
	return body
}

// newRelay wires a relay to an upstream holding segments 0..count-1 of
// stream 77.
func newRelay(t *testing.T, count int) (*mux.Router, *config.Config) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var index int
		if n, _ := fmt.Sscanf(r.URL.Path, "/segments/u/p/77/%d.ts", &index); n != 1 || index >= count {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(segmentBody(index)))
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.PublicBaseURL = "http://gateway:8000"
	cfg.ProbeTimeout = time.Second
	cfg.Playlists = []config.PlaylistConfig{{Name: "Main", URL: upstream.URL, Username: "u", Password: "p"}}

	registry := accounts.NewRegistry(cfg)
	pool, err := ants.NewPool(config.MaxDiscoveryWindow)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	discoverer := segments.NewDiscoverer(cfg, probe.New(cfg), pool)
	rl := New(cfg, registry, discoverer, client.NewHeaderSettingClient(cfg), buffer.NewBufferPool(0))

	router := mux.NewRouter()
	rl.Register(router)
	return router, cfg
}

func get(router http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestManifestListsDiscoveredSegments(t *testing.T) {
	router, _ := newRelay(t, 3)

	rec := get(router, "/relay/segments/0/77/playlist.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "#EXTINF"))
	assert.Contains(t, body, "http://gateway:8000/relay/segments/0/77/0.ts")
	assert.Contains(t, body, "http://gateway:8000/relay/segments/0/77/2.ts")
	assert.NotContains(t, body, "/3.ts")
	assert.Contains(t, body, "#EXT-X-ENDLIST")
	assert.NotContains(t, body, "/u/p/")
}

func TestManifestNotFoundWithoutSegments(t *testing.T) {
	router, _ := newRelay(t, 0)

	rec := get(router, "/relay/segments/0/77/playlist.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSegmentIsRelayedWithRange(t *testing.T) {
	router, _ := newRelay(t, 3)

	rec := get(router, "/relay/segments/0/77/1.ts", http.Header{"Range": {"bytes=0-187"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Content-Range"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, segmentBody(1)[:188], body)
}

func TestSegmentFullBody(t *testing.T) {
	router, _ := newRelay(t, 3)

	rec := get(router, "/relay/segments/0/77/2.ts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, segmentBody(2), rec.Body.Bytes())
}

func TestMissingSegmentPassesNotFound(t *testing.T) {
	router, _ := newRelay(t, 1)

	rec := get(router, "/relay/segments/0/77/9.ts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPlaylistFallsBackToFirst(t *testing.T) {
	router, _ := newRelay(t, 2)

	rec := get(router, "/relay/segments/7/77/0.ts", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNonNumericIndexIsNotRouted(t *testing.T) {
	router, _ := newRelay(t, 2)

	rec := get(router, "/relay/segments/0/77/abc.ts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
