package xtream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"iptv-gateway/work/types"
)

// StreamURL builds {base}/{movie|series|live}/{username}/{password}/{id}.{ext}.
func StreamURL(creds types.Credentials, kind types.ContentKind, id, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		baseURL(creds), kind.PathSegment(),
		url.PathEscape(creds.Username), url.PathEscape(creds.Password),
		url.PathEscape(id), strings.TrimPrefix(ext, "."))
}

// SegmentRoot builds {base}/segments/{username}/{password}/{id}; segment
// index URLs hang off it.
func SegmentRoot(creds types.Credentials, id string) string {
	return fmt.Sprintf("%s/segments/%s/%s/%s",
		baseURL(creds),
		url.PathEscape(creds.Username), url.PathEscape(creds.Password),
		url.PathEscape(id))
}

// SegmentURL builds the upstream URL of one transport stream segment.
func SegmentURL(creds types.Credentials, id string, index int) string {
	return SegmentRoot(creds, id) + "/" + strconv.Itoa(index) + ".ts"
}

// APIURL builds a player_api.php request URL.
func APIURL(creds types.Credentials, action string, extra url.Values) string {
	q := url.Values{}
	q.Set("username", creds.Username)
	q.Set("password", creds.Password)
	if action != "" {
		q.Set("action", action)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return baseURL(creds) + "/player_api.php?" + q.Encode()
}

func baseURL(creds types.Credentials) string {
	return strings.TrimRight(creds.BaseURL, "/")
}
