package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"iptv-gateway/work/accounts"
	"iptv-gateway/work/config"
	"iptv-gateway/work/database"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/middleware"
	"iptv-gateway/work/mirror"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/resolver"
	"iptv-gateway/work/xtream"
)

// Gateway carries the collaborators the REST handlers need. DB and Syncer
// are nil when the mirror is disabled.
type Gateway struct {
	Config   *config.Config
	Accounts *accounts.Registry
	Catalog  *xtream.Client
	Policy   *resolver.Policy
	Prober   probe.Prober // stream checks for /xtream/test
	DB       *database.DB
	Syncer   *mirror.Syncer
}

// Register mounts the JSON API on router.
//
// Every /api route goes through middleware.API for CORS and compression;
// /health only gets CORS so load balancers see a plain body. Mirror routes
// answer 503 while the mirror is disabled.
func Register(router *mux.Router, gw *Gateway) {
	router.HandleFunc("/health", middleware.CORS(HandleHealth(gw))).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/xtream/playlists", middleware.API(HandlePlaylists(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/test", middleware.API(HandleTest(gw))).Methods("GET", "OPTIONS")

	// upstream browsing
	api.HandleFunc("/xtream/vod/categories", middleware.API(HandleVodCategories(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/vod/movies", middleware.API(HandleVodMovies(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/vod/search", middleware.API(HandleVodSearch(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/series/categories", middleware.API(HandleSeriesCategories(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/series/list", middleware.API(HandleSeriesList(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/series/search", middleware.API(HandleSeriesSearch(gw))).Methods("GET", "OPTIONS")

	// stream resolution
	api.HandleFunc("/xtream/vod/stream-url", middleware.API(HandleVodStreamURL(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/series/episode/stream-url", middleware.API(HandleEpisodeStreamURL(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/live/stream-url", middleware.API(HandleLiveStreamURL(gw))).Methods("GET", "OPTIONS")

	// upstream metadata
	api.HandleFunc("/xtream/vod/info", middleware.API(HandleVodInfo(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/series/info", middleware.API(HandleSeriesInfo(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/xtream/user-info", middleware.API(HandleUserInfo(gw))).Methods("GET", "OPTIONS")

	// catalog mirror
	api.HandleFunc("/database/sync", middleware.API(HandleSync(gw))).Methods("POST", "OPTIONS")
	api.HandleFunc("/database/sync/{section:movies|series|live}", middleware.API(HandleSectionSync(gw))).Methods("POST", "OPTIONS")
	api.HandleFunc("/database/stats", middleware.API(HandleStats(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/database/categories", middleware.API(HandleCategories(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/database/{section:movies|series|live}", middleware.API(HandleTitles(gw))).Methods("GET", "OPTIONS")
	api.HandleFunc("/database/{section:movies|series|live}/{id}", middleware.API(HandleTitle(gw))).Methods("GET", "OPTIONS")
}

// HandleHealth reports liveness with the playlist count and whether the
// mirror is enabled. It never calls the upstream.
func HandleHealth(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"playlists": gw.Accounts.Len(),
			"mirror":    gw.DB != nil,
		})
	}
}

// HandlePlaylists lists the configured playlists without credentials.
func HandlePlaylists(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"playlists": gw.Accounts.List(),
		})
	}
}

// playlistID reads ?playlist_id=. Missing or malformed values select
// playlist 0, matching the registry fallback.
func playlistID(r *http.Request) int {
	id, err := strconv.Atoi(r.URL.Query().Get("playlist_id"))
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("{handlers - writeJSON} Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, resolver.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, accounts.ErrUnknownPlaylist),
		errors.Is(err, xtream.ErrNotFound),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mirror.ErrSyncInProgress):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
