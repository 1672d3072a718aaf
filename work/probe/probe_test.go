package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-gateway/work/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ProbeTimeout = 200 * time.Millisecond
	return cfg
}

func tsPacket() []byte {
	pkt := make([]byte, 188)
	pkt[0] = SyncByte
	pkt[1] = 0x40
	return pkt
}

func TestProbe_GetHTMLWith200IsErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>Stream not available</body></html>"))
	}))
	defer srv.Close()

	v := New(testConfig()).Probe(context.Background(), Request{URL: srv.URL + "/movie/u/p/1.mp4", Method: http.MethodGet})
	assert.Equal(t, KindHTMLErrorPage, v.Kind)
	assert.True(t, v.Deceptive())
	assert.False(t, v.Confirmed())
}

func TestProbe_MarkupBodyWithoutContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("  <!DOCTYPE html><p>error</p>"))
	}))
	defer srv.Close()

	v := New(testConfig()).Probe(context.Background(), Request{URL: srv.URL, Method: http.MethodGet})
	assert.Equal(t, KindHTMLErrorPage, v.Kind)
}

func TestProbe_SegmentRequiresSyncByte(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TSPacketRange, r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte{0x00, 0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	v := New(testConfig()).Probe(context.Background(), Request{
		URL: srv.URL + "/segments/u/p/1/0.ts", Method: http.MethodGet, Range: TSPacketRange, TransportStream: true,
	})
	assert.Equal(t, KindHTMLErrorPage, v.Kind)
}

func TestProbe_SegmentWithSyncByteIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(tsPacket())
	}))
	defer srv.Close()

	v := New(testConfig()).Probe(context.Background(), Request{
		URL: srv.URL, Method: http.MethodGet, Range: TSPacketRange, TransportStream: true,
	})
	assert.Equal(t, KindValidMedia, v.Kind)
	assert.True(t, v.Confirmed())
	assert.Equal(t, "video/mp2t", v.ContentType)
}

func TestProbe_RedirectIsNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/play/abc.mp4?token=XYZ", http.StatusFound)
	}))
	defer srv.Close()

	for _, method := range []string{http.MethodHead, http.MethodGet} {
		v := New(testConfig()).Probe(context.Background(), Request{URL: srv.URL + "/movie/u/p/1.mp4", Method: method})
		require.Equal(t, KindRedirect, v.Kind, method)
		assert.Equal(t, srv.URL+"/play/abc.mp4?token=XYZ", v.Location)
	}
}

func TestProbe_HeadOKIsNotConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "video/mp4")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := New(testConfig())
	head := p.Probe(context.Background(), Request{URL: srv.URL, Method: http.MethodHead})
	assert.Equal(t, KindValidMedia, head.Kind)
	assert.False(t, head.Confirmed())

	get := p.Probe(context.Background(), Request{URL: srv.URL, Method: http.MethodGet})
	assert.Equal(t, KindNotFound, get.Kind)
}

func TestProbe_EmptyBodyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := New(testConfig()).Probe(context.Background(), Request{URL: srv.URL, Method: http.MethodGet})
	assert.Equal(t, KindNotFound, v.Kind)
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.ProbeTimeout = 50 * time.Millisecond
	v := New(cfg).Probe(context.Background(), Request{URL: srv.URL, Method: http.MethodGet})
	assert.Equal(t, KindTimeout, v.Kind)
	assert.True(t, v.Failed())
}

func TestProbe_CallerCancellationDoesNotAbortProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := New(testConfig()).Probe(ctx, Request{URL: srv.URL, Method: http.MethodGet})
	assert.Equal(t, KindValidMedia, v.Kind)
}

func TestProbe_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := New(testConfig()).Probe(context.Background(), Request{URL: url, Method: http.MethodGet})
	assert.Equal(t, KindTransportError, v.Kind)
	assert.Error(t, v.Err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		ctype  string
		body   []byte
		ts     bool
		want   Kind
	}{
		{"404", http.MethodGet, http.StatusNotFound, "", nil, false, KindNotFound},
		{"410", http.MethodHead, http.StatusGone, "", nil, false, KindNotFound},
		{"403", http.MethodGet, http.StatusForbidden, "", nil, false, KindNotFound},
		{"502", http.MethodGet, http.StatusBadGateway, "", nil, false, KindTransportError},
		{"head html", http.MethodHead, http.StatusOK, "text/html", nil, false, KindHTMLErrorPage},
		{"text body", http.MethodGet, http.StatusOK, "text/plain", []byte("account expired"), false, KindHTMLErrorPage},
		{"mp4 declared", http.MethodGet, http.StatusOK, "video/mp4", []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p'}, false, KindValidMedia},
		{"octet sniffed", http.MethodGet, http.StatusOK, "", []byte{0x00, 0x01, 0xff, 0xfe}, false, KindValidMedia},
		{"ts declared text", http.MethodGet, http.StatusOK, "text/plain", tsPacket(), true, KindValidMedia},
		{"mpegurl", http.MethodGet, http.StatusOK, "application/vnd.apple.mpegurl", []byte("#EXTM3U\n"), false, KindValidMedia},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.ctype != "" {
				h.Set("Content-Type", tt.ctype)
			}
			v := Classify(tt.method, tt.status, h, int64(len(tt.body)), tt.body, tt.ts)
			assert.Equal(t, tt.want, v.Kind, v.String())
		})
	}
}
