package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"iptv-gateway/work/database"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/types"
	"iptv-gateway/work/xtream"
)

// listFunc fetches one upstream list for a request.
type listFunc[T any] func(ctx context.Context, r *http.Request, creds types.Credentials) ([]T, error)

// handleList answers with an upstream list as {"success", "data", "count"}.
// When search is set the list is narrowed to names matching ?q=, which is
// then required.
func handleList[T any](gw *Gateway, fetch listFunc[T], name func(T) string, search bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if search && query == "" {
			writeError(w, http.StatusBadRequest, "missing q")
			return
		}

		creds, err := gw.Accounts.Get(playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		items, err := fetch(r.Context(), r, creds)
		if err != nil {
			logger.Warn("{handlers/browse - handleList} Upstream list for %s failed: %v", r.URL.Path, err)
			writeError(w, errorStatus(err), err.Error())
			return
		}

		body := map[string]interface{}{"success": true}
		if search {
			items = matching(items, name, query)
			body["query"] = query
		}
		if items == nil {
			items = []T{}
		}
		body["data"] = items
		body["count"] = len(items)
		writeJSON(w, http.StatusOK, body)
	}
}

// matching keeps the items whose name matches query the way mirror search
// does: case-insensitive, regex when it compiles and literal otherwise.
func matching[T any](items []T, name func(T) string, query string) []T {
	pattern := database.SearchPattern(query)
	var out []T
	for _, item := range items {
		if pattern.MatchString(name(item)) {
			out = append(out, item)
		}
	}
	return out
}

func categoryName(c xtream.Category) string { return c.CategoryName }
func vodName(v xtream.VodStream) string     { return v.Name }
func seriesName(s xtream.Series) string     { return s.Name }

// HandleVodCategories serves GET /api/xtream/vod/categories.
func HandleVodCategories(gw *Gateway) http.HandlerFunc {
	return handleList(gw, func(ctx context.Context, _ *http.Request, creds types.Credentials) ([]xtream.Category, error) {
		return gw.Catalog.VodCategories(ctx, creds)
	}, categoryName, false)
}

// HandleVodMovies serves GET /api/xtream/vod/movies, narrowed by
// category_id when given.
func HandleVodMovies(gw *Gateway) http.HandlerFunc {
	return handleList(gw, func(ctx context.Context, r *http.Request, creds types.Credentials) ([]xtream.VodStream, error) {
		return gw.Catalog.VodStreams(ctx, creds, r.URL.Query().Get("category_id"))
	}, vodName, false)
}

// HandleVodSearch serves GET /api/xtream/vod/search?q=.
func HandleVodSearch(gw *Gateway) http.HandlerFunc {
	return handleList(gw, func(ctx context.Context, _ *http.Request, creds types.Credentials) ([]xtream.VodStream, error) {
		return gw.Catalog.VodStreams(ctx, creds, "")
	}, vodName, true)
}

// HandleSeriesCategories serves GET /api/xtream/series/categories.
func HandleSeriesCategories(gw *Gateway) http.HandlerFunc {
	return handleList(gw, func(ctx context.Context, _ *http.Request, creds types.Credentials) ([]xtream.Category, error) {
		return gw.Catalog.SeriesCategories(ctx, creds)
	}, categoryName, false)
}

// HandleSeriesList serves GET /api/xtream/series/list, narrowed by
// category_id when given.
func HandleSeriesList(gw *Gateway) http.HandlerFunc {
	return handleList(gw, func(ctx context.Context, r *http.Request, creds types.Credentials) ([]xtream.Series, error) {
		return gw.Catalog.Series(ctx, creds, r.URL.Query().Get("category_id"))
	}, seriesName, false)
}

// HandleSeriesSearch serves GET /api/xtream/series/search?q=.
func HandleSeriesSearch(gw *Gateway) http.HandlerFunc {
	return handleList(gw, func(ctx context.Context, _ *http.Request, creds types.Credentials) ([]xtream.Series, error) {
		return gw.Catalog.Series(ctx, creds, "")
	}, seriesName, true)
}

// ConnectionReport is the /xtream/test answer: what the account can see,
// plus the verdict for one stream when stream_id is given.
type ConnectionReport struct {
	UserInfo         *xtream.UserInfo  `json:"userInfo,omitempty"`
	VodCategories    int               `json:"vodCategories"`
	VodCount         int               `json:"vodCount"`
	SeriesCategories int               `json:"seriesCategories"`
	SeriesCount      int               `json:"seriesCount"`
	LiveCategories   int               `json:"liveCategories"`
	LiveCount        int               `json:"liveCount"`
	Stream           *StreamCheck      `json:"stream,omitempty"`
	Errors           map[string]string `json:"errors,omitempty"`
}

// StreamCheck is the classified answer of a single GET on an upstream
// stream URL. A redirect is not followed.
type StreamCheck struct {
	URL         string `json:"url"`
	Verdict     string `json:"verdict"`
	StatusCode  int    `json:"statusCode,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Confirmed   bool   `json:"confirmed"`
	Redirected  bool   `json:"redirected"`
	Reason      string `json:"reason,omitempty"`
}

// HandleTest checks a playlist end to end. Every catalog call runs even when
// another fails; failures are reported per call in errors. With stream_id
// (and optionally type=movie|episode|live and ext) the stream URL itself is
// checked as well.
func HandleTest(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		creds, err := gw.Accounts.Get(playlistID(r))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		var streamURL string
		if id := q.Get("stream_id"); id != "" {
			kind := types.ContentKind(q.Get("type"))
			if kind == "" {
				kind = types.KindLive
			}
			if !kind.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid type %q", kind))
				return
			}
			ext := strings.TrimPrefix(q.Get("ext"), ".")
			if ext == "" {
				ext = "ts"
			}
			streamURL = xtream.StreamURL(creds, kind, id, ext)
		}

		ctx := r.Context()
		report := ConnectionReport{}
		var mu sync.Mutex
		fail := func(call string, err error) {
			mu.Lock()
			defer mu.Unlock()
			if report.Errors == nil {
				report.Errors = map[string]string{}
			}
			report.Errors[call] = err.Error()
		}

		var g errgroup.Group
		g.SetLimit(3)
		g.Go(func() error {
			info, err := gw.Catalog.UserInfo(ctx, creds)
			if err != nil {
				fail("userInfo", err)
				return nil
			}
			report.UserInfo = info
			return nil
		})
		count := func(call string, target *int, list func() (int, error)) {
			g.Go(func() error {
				n, err := list()
				if err != nil {
					fail(call, err)
					return nil
				}
				*target = n
				return nil
			})
		}
		count("vodCategories", &report.VodCategories, func() (int, error) {
			c, err := gw.Catalog.VodCategories(ctx, creds)
			return len(c), err
		})
		count("vodStreams", &report.VodCount, func() (int, error) {
			s, err := gw.Catalog.VodStreams(ctx, creds, "")
			return len(s), err
		})
		count("seriesCategories", &report.SeriesCategories, func() (int, error) {
			c, err := gw.Catalog.SeriesCategories(ctx, creds)
			return len(c), err
		})
		count("series", &report.SeriesCount, func() (int, error) {
			s, err := gw.Catalog.Series(ctx, creds, "")
			return len(s), err
		})
		count("liveCategories", &report.LiveCategories, func() (int, error) {
			c, err := gw.Catalog.LiveCategories(ctx, creds)
			return len(c), err
		})
		count("liveStreams", &report.LiveCount, func() (int, error) {
			s, err := gw.Catalog.LiveStreams(ctx, creds, "")
			return len(s), err
		})
		if streamURL != "" {
			g.Go(func() error {
				v := gw.Prober.Probe(ctx, probe.Request{URL: streamURL, Method: http.MethodGet})
				report.Stream = &StreamCheck{
					URL:         streamURL,
					Verdict:     v.Kind.String(),
					StatusCode:  v.StatusCode,
					ContentType: v.ContentType,
					Confirmed:   v.Confirmed(),
					Redirected:  v.Kind == probe.KindRedirect,
					Reason:      verdictReason(v),
				}
				return nil
			})
		}
		_ = g.Wait()

		logger.Info("{handlers/browse - HandleTest} Playlist %d: %d movies, %d series, %d channels, %d failed calls",
			creds.PlaylistID, report.VodCount, report.SeriesCount, report.LiveCount, len(report.Errors))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": report.UserInfo != nil,
			"data":    report,
		})
	}
}

func verdictReason(v probe.Verdict) string {
	if v.Err != nil {
		return v.Err.Error()
	}
	return v.Reason
}
