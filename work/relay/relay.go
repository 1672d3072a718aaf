// Package relay serves synthesized segment manifests and forwards segment
// bytes from the upstream so players never see upstream credentials.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"iptv-gateway/work/accounts"
	"iptv-gateway/work/buffer"
	"iptv-gateway/work/client"
	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/metrics"
	"iptv-gateway/work/playlist"
	"iptv-gateway/work/types"
	"iptv-gateway/work/utils"
	"iptv-gateway/work/xtream"
)

// forwardedHeaders are copied from the upstream segment response.
var forwardedHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"}

// SegmentDiscoverer finds the contiguous segments of one stream.
type SegmentDiscoverer interface {
	Discover(ctx context.Context, streamID, root string, maxSegments int) types.SegmentSet
}

// Relay owns the /relay/segments routes.
type Relay struct {
	accounts   *accounts.Registry
	discoverer SegmentDiscoverer
	client     client.Doer
	buffers    *buffer.BufferPool
	config     *config.Config
}

// New builds a Relay.
//
// registry maps the playlist id in each route back to upstream credentials,
// discoverer walks the segment namespace for manifests, and doer fetches the
// segment bytes. buffers supplies the copy buffers shared by every
// concurrent segment transfer.
func New(cfg *config.Config, registry *accounts.Registry, discoverer SegmentDiscoverer, doer client.Doer, buffers *buffer.BufferPool) *Relay {
	return &Relay{
		accounts:   registry,
		discoverer: discoverer,
		client:     doer,
		buffers:    buffers,
		config:     cfg,
	}
}

// Register mounts the manifest and segment routes on router.
func (rl *Relay) Register(router *mux.Router) {
	router.HandleFunc("/relay/segments/{playlist:[0-9]+}/{id}/playlist.m3u8", rl.HandleManifest).Methods("GET", "HEAD")
	router.HandleFunc("/relay/segments/{playlist:[0-9]+}/{id}/{index:[0-9]+}.ts", rl.HandleSegment).Methods("GET", "HEAD")
}

// HandleManifest discovers the stream's segments afresh and serves a closed
// VOD manifest pointing back at the relay.
func (rl *Relay) HandleManifest(w http.ResponseWriter, r *http.Request) {
	creds, streamID, ok := rl.target(w, r)
	if !ok {
		return
	}

	set := rl.discoverer.Discover(r.Context(), streamID, xtream.SegmentRoot(creds, streamID), 0)
	tmpl := playlist.SegmentTemplate(rl.config.PublicBaseURL, creds.PlaylistID, streamID)
	manifest, err := playlist.Synthesize(set, tmpl, set.TargetDurationSeconds)
	if errors.Is(err, playlist.ErrEmptySegmentSet) {
		logger.Debug("{relay - HandleManifest} No segments for %s", streamID)
		http.Error(w, "No segments found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("{relay - HandleManifest} Failed to synthesize manifest for %s: %v", streamID, err)
		http.Error(w, "Failed to build manifest", http.StatusInternalServerError)
		return
	}

	if !set.DiscoveryComplete {
		logger.Warn("{relay - HandleManifest} Serving incomplete manifest for %s (%d segments)", streamID, set.Len())
	}

	w.Header().Set("Content-Type", playlist.MIMEType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(manifest)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, manifest)
}

// HandleSegment forwards one upstream segment, passing Range through.
func (rl *Relay) HandleSegment(w http.ResponseWriter, r *http.Request) {
	creds, streamID, ok := rl.target(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || index < 0 {
		http.Error(w, "Invalid segment index", http.StatusBadRequest)
		return
	}

	upstreamURL := xtream.SegmentURL(creds, streamID, index)
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, nil)
	if err != nil {
		http.Error(w, "Invalid upstream request", http.StatusInternalServerError)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := rl.client.Do(req)
	if err != nil {
		logger.Warn("{relay - HandleSegment} Upstream request failed for %s: %v", utils.LogURL(rl.config, upstreamURL), err)
		http.Error(w, "Upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Debug("{relay - HandleSegment} Upstream answered %d for %s", resp.StatusCode, utils.LogURL(rl.config, upstreamURL))
		status := resp.StatusCode
		if status >= 500 {
			status = http.StatusBadGateway
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	for _, h := range forwardedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}

	buf := rl.buffers.Get()
	defer rl.buffers.Put(buf)

	n, err := io.CopyBuffer(w, resp.Body, buf.B)
	metrics.BytesRelayed.Add(float64(n))
	if err != nil && r.Context().Err() == nil {
		logger.Debug("{relay - HandleSegment} Copy of segment %d for %s stopped after %d bytes: %v", index, streamID, n, err)
	}
}

func (rl *Relay) target(w http.ResponseWriter, r *http.Request) (types.Credentials, string, bool) {
	vars := mux.Vars(r)
	playlistID, err := strconv.Atoi(vars["playlist"])
	if err != nil {
		http.Error(w, "Invalid playlist", http.StatusBadRequest)
		return types.Credentials{}, "", false
	}
	creds, err := rl.accounts.Get(playlistID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return types.Credentials{}, "", false
	}
	streamID := vars["id"]
	if streamID == "" {
		http.Error(w, "Missing stream id", http.StatusBadRequest)
		return types.Credentials{}, "", false
	}
	return creds, streamID, true
}
