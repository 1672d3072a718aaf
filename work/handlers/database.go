package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"iptv-gateway/work/database"
	"iptv-gateway/work/mirror"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// withMirror rejects requests while the SQLite mirror is disabled.
func withMirror(gw *Gateway, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gw.DB == nil || gw.Syncer == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog mirror is disabled")
			return
		}
		next(w, r)
	}
}

// HandleSync mirrors one playlist when playlist_id is given, otherwise all
// of them. The sync outlives a disconnecting client.
func HandleSync(gw *Gateway) http.HandlerFunc {
	return withMirror(gw, func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())

		if r.URL.Query().Get("playlist_id") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"results": gw.Syncer.SyncAll(ctx),
			})
			return
		}

		result, err := gw.Syncer.Sync(ctx, playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": len(result.Errors) == 0,
			"results": []mirror.Result{result},
		})
	})
}

// HandleSectionSync mirrors one section of one playlist (playlist_id,
// default 0).
func HandleSectionSync(gw *Gateway) http.HandlerFunc {
	return withMirror(gw, func(w http.ResponseWriter, r *http.Request) {
		section, _ := database.ParseSection(mux.Vars(r)["section"])

		result, err := gw.Syncer.SyncSection(context.WithoutCancel(r.Context()), playlistID(r), section)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": len(result.Errors) == 0,
			"results": []mirror.Result{result},
		})
	})
}

// HandleStats returns mirror row counts and the mirrored playlists.
func HandleStats(gw *Gateway) http.HandlerFunc {
	return withMirror(gw, func(w http.ResponseWriter, r *http.Request) {
		stats, err := gw.DB.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		playlists, err := gw.DB.ListPlaylists(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"stats":     stats,
			"playlists": playlists,
		})
	})
}

// HandleTitles lists one mirrored section a page at a time. q switches to a
// case-insensitive regex search over names; search results page the same way
// and total counts every match.
func HandleTitles(gw *Gateway) http.HandlerFunc {
	return withMirror(gw, func(w http.ResponseWriter, r *http.Request) {
		section, _ := database.ParseSection(mux.Vars(r)["section"])
		q := r.URL.Query()
		page := queryInt(q.Get("page"), 1, 1, 1<<20)
		limit := queryInt(q.Get("limit"), defaultPageSize, 1, maxPageSize)
		pl := playlistID(r)

		var (
			titles []database.Title
			total  int
			err    error
		)
		if search := q.Get("q"); search != "" {
			titles, total, err = gw.DB.SearchTitles(r.Context(), pl, section, database.SearchPattern(search), (page-1)*limit, limit)
		} else {
			titles, total, err = gw.DB.ListTitles(r.Context(), pl, section, q.Get("category"), (page-1)*limit, limit)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if titles == nil {
			titles = []database.Title{}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"items":   titles,
			"total":   total,
			"page":    page,
			"limit":   limit,
		})
	})
}

// HandleCategories lists mirrored categories of one playlist. section
// narrows to movies, series or live; without it every section is listed.
func HandleCategories(gw *Gateway) http.HandlerFunc {
	return withMirror(gw, func(w http.ResponseWriter, r *http.Request) {
		sections := database.Sections
		if raw := r.URL.Query().Get("section"); raw != "" {
			section, ok := database.ParseSection(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid section "+raw)
				return
			}
			sections = []database.Section{section}
		}

		categories := []database.Category{}
		for _, section := range sections {
			cats, err := gw.DB.ListCategories(r.Context(), playlistID(r), section)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			categories = append(categories, cats...)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    categories,
			"count":   len(categories),
		})
	})
}

// HandleTitle returns one mirrored title by stream id.
func HandleTitle(gw *Gateway) http.HandlerFunc {
	return withMirror(gw, func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		section, _ := database.ParseSection(vars["section"])

		title, err := gw.DB.GetTitle(r.Context(), playlistID(r), section, vars["id"])
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": title})
	})
}

func queryInt(raw string, def, lo, hi int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}
