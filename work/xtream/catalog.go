package xtream

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString accepts a JSON string, number or null. The upstream encodes the
// same field either way depending on panel version.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int returns the numeric value, or 0 when the field is not a number.
func (f FlexString) Int() int {
	n, err := strconv.Atoi(string(f))
	if err != nil {
		if fl, ferr := strconv.ParseFloat(string(f), 64); ferr == nil {
			return int(fl)
		}
		return 0
	}
	return n
}

type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
	ParentID     FlexString `json:"parent_id"`
}

type VodStream struct {
	StreamID           FlexString `json:"stream_id"`
	Name               string     `json:"name"`
	CategoryID         FlexString `json:"category_id"`
	StreamIcon         string     `json:"stream_icon"`
	Rating             FlexString `json:"rating"`
	Added              FlexString `json:"added"`
	ContainerExtension string     `json:"container_extension"`
	DirectSource       string     `json:"direct_source"`
}

type Series struct {
	SeriesID    FlexString `json:"series_id"`
	Name        string     `json:"name"`
	CategoryID  FlexString `json:"category_id"`
	Cover       string     `json:"cover"`
	Plot        string     `json:"plot"`
	Genre       string     `json:"genre"`
	ReleaseDate string     `json:"releaseDate"`
	Rating      FlexString `json:"rating"`
}

type LiveStream struct {
	StreamID     FlexString `json:"stream_id"`
	Name         string     `json:"name"`
	CategoryID   FlexString `json:"category_id"`
	StreamIcon   string     `json:"stream_icon"`
	EpgChannelID string     `json:"epg_channel_id"`
	DirectSource string     `json:"direct_source"`
}

// VodInfo is the get_vod_info response. movie_data carries the stream
// identity; info carries metadata and on some panels the container too.
type VodInfo struct {
	Info      map[string]any `json:"info"`
	MovieData struct {
		StreamID           FlexString `json:"stream_id"`
		Name               string     `json:"name"`
		ContainerExtension string     `json:"container_extension"`
		DirectSource       string     `json:"direct_source"`
	} `json:"movie_data"`
}

// Empty reports the "movie not found" shape: panels answer unknown ids
// with an empty info object or an empty array.
func (v *VodInfo) Empty() bool {
	return v == nil || (len(v.Info) == 0 && v.MovieData.StreamID == "")
}

// UnmarshalJSON tolerates info and movie_data being arrays when empty.
func (v *VodInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Info      json.RawMessage `json:"info"`
		MovieData json.RawMessage `json:"movie_data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		// An empty array body is the not-found answer.
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
			return nil
		}
		return err
	}
	if isObject(raw.Info) {
		if err := json.Unmarshal(raw.Info, &v.Info); err != nil {
			return err
		}
	}
	if isObject(raw.MovieData) {
		if err := json.Unmarshal(raw.MovieData, &v.MovieData); err != nil {
			return err
		}
	}
	return nil
}

// ContainerExtension prefers movie_data and falls back to info.
func (v *VodInfo) ContainerExtension() string {
	if v.MovieData.ContainerExtension != "" {
		return v.MovieData.ContainerExtension
	}
	return stringField(v.Info, "container_extension")
}

// DirectSource prefers movie_data and falls back to info.
func (v *VodInfo) DirectSource() string {
	if v.MovieData.DirectSource != "" {
		return v.MovieData.DirectSource
	}
	return stringField(v.Info, "direct_source")
}

type Episode struct {
	ID                 FlexString `json:"id"`
	EpisodeNum         FlexString `json:"episode_num"`
	Title              string     `json:"title"`
	ContainerExtension string     `json:"container_extension"`
	Season             FlexString `json:"season"`
	DirectSource       string     `json:"direct_source"`
}

// SeriesInfo is the get_series_info response. Episodes are keyed by the
// season number as a string.
type SeriesInfo struct {
	Seasons  []map[string]any     `json:"seasons"`
	Info     map[string]any       `json:"info"`
	Episodes map[string][]Episode `json:"episodes"`
}

// UnmarshalJSON tolerates episodes being a list of lists on older panels
// and info being an empty array.
func (s *SeriesInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Seasons  json.RawMessage `json:"seasons"`
		Info     json.RawMessage `json:"info"`
		Episodes json.RawMessage `json:"episodes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
			return nil
		}
		return err
	}
	if len(raw.Seasons) > 0 && raw.Seasons[0] == '[' {
		_ = json.Unmarshal(raw.Seasons, &s.Seasons)
	}
	if isObject(raw.Info) {
		if err := json.Unmarshal(raw.Info, &s.Info); err != nil {
			return err
		}
	}

	switch {
	case isObject(raw.Episodes):
		return json.Unmarshal(raw.Episodes, &s.Episodes)
	case len(raw.Episodes) > 0 && raw.Episodes[0] == '[':
		var seasons [][]Episode
		if err := json.Unmarshal(raw.Episodes, &seasons); err != nil {
			return err
		}
		s.Episodes = make(map[string][]Episode, len(seasons))
		for _, eps := range seasons {
			for _, ep := range eps {
				key := ep.Season.String()
				s.Episodes[key] = append(s.Episodes[key], ep)
			}
		}
	}
	return nil
}

// FindEpisode looks up an episode by season key and episode number.
func (s *SeriesInfo) FindEpisode(season, episode string) (Episode, bool) {
	for _, ep := range s.Episodes[season] {
		if ep.EpisodeNum.String() == episode {
			return ep, true
		}
	}
	if n, err := strconv.Atoi(episode); err == nil {
		for _, ep := range s.Episodes[season] {
			if ep.EpisodeNum.Int() == n {
				return ep, true
			}
		}
	}
	return Episode{}, false
}

// UserInfo is the unauthenticated player_api.php answer.
type UserInfo struct {
	UserInfo struct {
		Username       string     `json:"username"`
		Auth           FlexString `json:"auth"`
		Status         string     `json:"status"`
		ExpDate        FlexString `json:"exp_date"`
		IsTrial        FlexString `json:"is_trial"`
		ActiveCons     FlexString `json:"active_cons"`
		MaxConnections FlexString `json:"max_connections"`
	} `json:"user_info"`
	ServerInfo struct {
		URL            string     `json:"url"`
		Port           FlexString `json:"port"`
		HTTPSPort      FlexString `json:"https_port"`
		ServerProtocol string     `json:"server_protocol"`
		Timezone       string     `json:"timezone"`
	} `json:"server_info"`
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
