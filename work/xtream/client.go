// Package xtream talks to the Xtream Codes player API and builds the
// upstream stream URL shapes.
package xtream

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maypok86/otter/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"iptv-gateway/work/client"
	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/metrics"
	"iptv-gateway/work/types"
	"iptv-gateway/work/utils"
)

var (
	ErrUpstreamStatus = errors.New("upstream returned non-success status")
	ErrNotFound       = errors.New("title not found upstream")
)

const infoCacheSize = 10_000

// Client is safe for concurrent use. Catalog calls are paced per upstream
// host; info responses are cached. Stream URLs and tokens are never cached.
type Client struct {
	http       client.Doer
	config     *config.Config
	limiters   *xsync.MapOf[string, ratelimit.Limiter]
	vodInfo    *otter.Cache[string, *VodInfo]
	seriesInfo *otter.Cache[string, *SeriesInfo]
	inflight   singleflight.Group // one upstream info call per key at a time
}

// NewClient builds a catalog client over doer. Info lookups are cached for
// CatalogCacheTTL and every upstream host is paced at CatalogRatePerSecond.
func NewClient(cfg *config.Config, doer client.Doer) *Client {
	return &Client{
		http:     doer,
		config:   cfg,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
		vodInfo: otter.Must(&otter.Options[string, *VodInfo]{
			MaximumSize:      infoCacheSize,
			ExpiryCalculator: otter.ExpiryWriting[string, *VodInfo](cfg.CatalogCacheTTL),
		}),
		seriesInfo: otter.Must(&otter.Options[string, *SeriesInfo]{
			MaximumSize:      infoCacheSize,
			ExpiryCalculator: otter.ExpiryWriting[string, *SeriesInfo](cfg.CatalogCacheTTL),
		}),
	}
}

// limiter returns the pacing limiter for the credentials' upstream host.
func (c *Client) limiter(creds types.Credentials) ratelimit.Limiter {
	limiter, _ := c.limiters.LoadOrCompute(utils.Authority(creds.BaseURL), func() ratelimit.Limiter {
		rate := c.config.CatalogRatePerSecond
		if rate <= 0 {
			return ratelimit.NewUnlimited()
		}
		return ratelimit.New(rate)
	})
	return limiter
}

// fetch performs one paced player_api.php call and decodes the JSON answer.
func fetch[T any](ctx context.Context, c *Client, creds types.Credentials, action string, extra url.Values) (T, error) {
	var zero T
	label := action
	if label == "" {
		label = "user_info"
	}

	c.limiter(creds).Take()

	ctx, cancel := context.WithTimeout(ctx, c.config.CatalogTimeout)
	defer cancel()

	apiURL := APIURL(creds, action, extra)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(label, "error").Inc()
		return zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(label, "error").Inc()
		logger.Warn("{xtream/client - fetch} %s failed for %s: %v", label, utils.LogURL(c.config, apiURL), err)
		return zero, fmt.Errorf("%s request failed: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CatalogRequests.WithLabelValues(label, "error").Inc()
		logger.Warn("{xtream/client - fetch} %s returned HTTP %d for %s", label, resp.StatusCode, utils.LogURL(c.config, apiURL))
		return zero, fmt.Errorf("%w: %s returned HTTP %d", ErrUpstreamStatus, label, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(label, "error").Inc()
		return zero, fmt.Errorf("failed to read %s response: %w", label, err)
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		metrics.CatalogRequests.WithLabelValues(label, "error").Inc()
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		logger.Debug("{xtream/client - fetch} %s response preview: %s", label, preview)
		return zero, fmt.Errorf("failed to parse %s response: %w", label, err)
	}

	metrics.CatalogRequests.WithLabelValues(label, "ok").Inc()
	logger.Debug("{xtream/client - fetch} %s: %d bytes from %s", label, len(body), utils.LogURL(c.config, apiURL))
	return data, nil
}

func categoryFilter(categoryID string) url.Values {
	if categoryID == "" {
		return nil
	}
	return url.Values{"category_id": {categoryID}}
}

// UserInfo calls player_api.php without an action.
func (c *Client) UserInfo(ctx context.Context, creds types.Credentials) (*UserInfo, error) {
	info, err := fetch[UserInfo](ctx, c, creds, "", nil)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// VodCategories returns get_vod_categories.
func (c *Client) VodCategories(ctx context.Context, creds types.Credentials) ([]Category, error) {
	return fetch[[]Category](ctx, c, creds, "get_vod_categories", nil)
}

// VodStreams returns get_vod_streams, for one category when categoryID is
// set.
func (c *Client) VodStreams(ctx context.Context, creds types.Credentials, categoryID string) ([]VodStream, error) {
	return fetch[[]VodStream](ctx, c, creds, "get_vod_streams", categoryFilter(categoryID))
}

// SeriesCategories returns get_series_categories.
func (c *Client) SeriesCategories(ctx context.Context, creds types.Credentials) ([]Category, error) {
	return fetch[[]Category](ctx, c, creds, "get_series_categories", nil)
}

// Series returns get_series, for one category when categoryID is set.
func (c *Client) Series(ctx context.Context, creds types.Credentials, categoryID string) ([]Series, error) {
	return fetch[[]Series](ctx, c, creds, "get_series", categoryFilter(categoryID))
}

// LiveCategories returns get_live_categories.
func (c *Client) LiveCategories(ctx context.Context, creds types.Credentials) ([]Category, error) {
	return fetch[[]Category](ctx, c, creds, "get_live_categories", nil)
}

// LiveStreams returns get_live_streams, for one category when categoryID
// is set.
func (c *Client) LiveStreams(ctx context.Context, creds types.Credentials, categoryID string) ([]LiveStream, error) {
	return fetch[[]LiveStream](ctx, c, creds, "get_live_streams", categoryFilter(categoryID))
}

// cacheKey identifies one account's record without keeping the password in
// the cache.
func cacheKey(creds types.Credentials, id string) string {
	sum := blake2b.Sum256([]byte(creds.BaseURL + "\x00" + creds.Username + "\x00" + creds.Password))
	return hex.EncodeToString(sum[:16]) + "|" + id
}

// shared runs fn once for every concurrent caller of key. fn gets a context
// detached from the caller that started it, so one caller hanging up does not
// fail the others; CatalogTimeout still bounds the request. A caller whose
// own ctx ends stops waiting and gets ctx.Err().
func (c *Client) shared(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// VodInfo returns get_vod_info for vodID, served from cache when fresh.
func (c *Client) VodInfo(ctx context.Context, creds types.Credentials, vodID string) (*VodInfo, error) {
	key := cacheKey(creds, vodID)
	if info, ok := c.vodInfo.GetIfPresent(key); ok {
		return info, nil
	}

	v, err := c.shared(ctx, "vod|"+key, func(ctx context.Context) (interface{}, error) {
		info, err := fetch[VodInfo](ctx, c, creds, "get_vod_info", url.Values{"vod_id": {vodID}})
		if err != nil {
			return nil, err
		}
		if info.Empty() {
			return nil, fmt.Errorf("%w: vod %s", ErrNotFound, vodID)
		}
		c.vodInfo.Set(key, &info)
		return &info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*VodInfo), nil
}

// SeriesInfo returns get_series_info for seriesID, served from cache when fresh.
func (c *Client) SeriesInfo(ctx context.Context, creds types.Credentials, seriesID string) (*SeriesInfo, error) {
	key := cacheKey(creds, seriesID)
	if info, ok := c.seriesInfo.GetIfPresent(key); ok {
		return info, nil
	}

	v, err := c.shared(ctx, "series|"+key, func(ctx context.Context) (interface{}, error) {
		info, err := fetch[SeriesInfo](ctx, c, creds, "get_series_info", url.Values{"series_id": {seriesID}})
		if err != nil {
			return nil, err
		}
		if len(info.Info) == 0 && len(info.Episodes) == 0 {
			return nil, fmt.Errorf("%w: series %s", ErrNotFound, seriesID)
		}
		c.seriesInfo.Set(key, &info)
		return &info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SeriesInfo), nil
}

// VodTarget builds the resolution target for a movie from its info record.
func (c *Client) VodTarget(ctx context.Context, creds types.Credentials, vodID, resumeQuery string) (types.StreamTarget, error) {
	info, err := c.VodInfo(ctx, creds, vodID)
	if err != nil {
		return types.StreamTarget{}, err
	}

	return types.StreamTarget{
		Kind:            types.KindMovie,
		ID:              vodID,
		ContainerHint:   strings.ToLower(info.ContainerExtension()),
		DirectSourceURL: info.DirectSource(),
		ResumeQuery:     resumeQuery,
	}, nil
}

// EpisodeTarget builds the resolution target for one episode of a series.
// Season is the key the upstream uses in its episodes map.
func (c *Client) EpisodeTarget(ctx context.Context, creds types.Credentials, seriesID, season, episode, resumeQuery string) (types.StreamTarget, error) {
	info, err := c.SeriesInfo(ctx, creds, seriesID)
	if err != nil {
		return types.StreamTarget{}, err
	}

	ep, ok := info.FindEpisode(season, episode)
	if !ok || ep.ID == "" {
		return types.StreamTarget{}, fmt.Errorf("%w: series %s season %s episode %s", ErrNotFound, seriesID, season, episode)
	}

	return types.StreamTarget{
		Kind:            types.KindEpisode,
		ID:              ep.ID.String(),
		ContainerHint:   strings.ToLower(ep.ContainerExtension),
		DirectSourceURL: ep.DirectSource,
		ResumeQuery:     resumeQuery,
	}, nil
}

// LiveTarget builds the resolution target for a live channel. Live channels
// need no catalog lookup.
func LiveTarget(streamID, resumeQuery string) types.StreamTarget {
	return types.StreamTarget{Kind: types.KindLive, ID: streamID, ResumeQuery: resumeQuery}
}
