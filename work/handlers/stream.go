package handlers

import (
	"context"
	"net/http"

	"iptv-gateway/work/logger"
	"iptv-gateway/work/resolver"
	"iptv-gateway/work/types"
	"iptv-gateway/work/xtream"
)

const (
	OutcomeResolved            = "resolved"
	OutcomeNoWorkingCandidates = "no_working_candidates"
)

// StreamURLResponse is the JSON shape of every stream-url endpoint.
type StreamURLResponse struct {
	Success           bool              `json:"success"`
	RecommendedURL    string            `json:"recommendedUrl"`
	RecommendedFormat types.Format      `json:"recommendedFormat"`
	StreamURLs        []types.Candidate `json:"streamUrls"`
	Outcome           string            `json:"outcome"`
}

// targetFunc builds the stream target for one request.
type targetFunc func(ctx context.Context, r *http.Request, creds types.Credentials) (types.StreamTarget, error)

// HandleVodStreamURL resolves a movie. The whole query is kept so resume
// parameters reach the upstream.
func HandleVodStreamURL(gw *Gateway) http.HandlerFunc {
	return handleStreamURL(gw, []string{"vod_id"}, func(ctx context.Context, r *http.Request, creds types.Credentials) (types.StreamTarget, error) {
		return gw.Catalog.VodTarget(ctx, creds, r.URL.Query().Get("vod_id"), r.URL.RawQuery)
	})
}

// HandleEpisodeStreamURL resolves one episode of a series by season and
// episode number.
func HandleEpisodeStreamURL(gw *Gateway) http.HandlerFunc {
	return handleStreamURL(gw, []string{"series_id", "season_number", "episode_number"}, func(ctx context.Context, r *http.Request, creds types.Credentials) (types.StreamTarget, error) {
		q := r.URL.Query()
		return gw.Catalog.EpisodeTarget(ctx, creds, q.Get("series_id"), q.Get("season_number"), q.Get("episode_number"), r.URL.RawQuery)
	})
}

// HandleLiveStreamURL resolves a live channel. No catalog call is needed.
func HandleLiveStreamURL(gw *Gateway) http.HandlerFunc {
	return handleStreamURL(gw, []string{"stream_id"}, func(_ context.Context, r *http.Request, _ types.Credentials) (types.StreamTarget, error) {
		return xtream.LiveTarget(r.URL.Query().Get("stream_id"), r.URL.RawQuery), nil
	})
}

func handleStreamURL(gw *Gateway, required []string, build targetFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for _, name := range required {
			if q.Get(name) == "" {
				writeError(w, http.StatusBadRequest, "missing "+name)
				return
			}
		}

		creds, err := gw.Accounts.Get(playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		target, err := build(r.Context(), r, creds)
		if err != nil {
			logger.Warn("{handlers/stream - handleStreamURL} Failed to build target for %s: %v", r.URL.Path, err)
			writeError(w, errorStatus(err), err.Error())
			return
		}

		res, err := gw.Policy.Resolve(r.Context(), target, creds)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, resolutionResponse(res))
	}
}

// resolutionResponse keeps the full ranked list even when nothing is known
// to work so clients can fail over on their own.
func resolutionResponse(res resolver.Resolution) StreamURLResponse {
	resp := StreamURLResponse{
		Success:           res.Working(),
		RecommendedURL:    res.Recommended.URL,
		RecommendedFormat: res.Recommended.Format,
		StreamURLs:        res.All,
		Outcome:           OutcomeResolved,
	}
	if res.Err() != nil {
		resp.Outcome = OutcomeNoWorkingCandidates
	}
	if resp.StreamURLs == nil {
		resp.StreamURLs = []types.Candidate{}
	}
	return resp
}
