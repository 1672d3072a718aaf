package handlers

import (
	"net/http"
)

// HandleVodInfo proxies get_vod_info for ?vod_id=.
func HandleVodInfo(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vodID := r.URL.Query().Get("vod_id")
		if vodID == "" {
			writeError(w, http.StatusBadRequest, "missing vod_id")
			return
		}
		creds, err := gw.Accounts.Get(playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		info, err := gw.Catalog.VodInfo(r.Context(), creds, vodID)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": info})
	}
}

// HandleSeriesInfo proxies get_series_info for ?series_id=.
func HandleSeriesInfo(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seriesID := r.URL.Query().Get("series_id")
		if seriesID == "" {
			writeError(w, http.StatusBadRequest, "missing series_id")
			return
		}
		creds, err := gw.Accounts.Get(playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		info, err := gw.Catalog.SeriesInfo(r.Context(), creds, seriesID)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": info})
	}
}

// HandleUserInfo proxies the account and server info of a playlist.
func HandleUserInfo(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := gw.Accounts.Get(playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		info, err := gw.Catalog.UserInfo(r.Context(), creds)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": info})
	}
}
