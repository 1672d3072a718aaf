package utils

import (
	"iptv-gateway/work/config"
	"net/url"
	"strings"
)

// credentialPathKinds are the first path segments of Xtream stream URLs that
// are followed by /{username}/{password}/.
var credentialPathKinds = map[string]bool{
	"movie":     true,
	"series":    true,
	"live":      true,
	"segments":  true,
	"timeshift": true,
}

// LogURL returns a URL safe for logging: credentials are always masked and the
// whole path/query is obfuscated when the config asks for it.
func LogURL(cfg *config.Config, rawURL string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(rawURL)
	}
	return MaskCredentials(rawURL)
}

// MaskCredentials replaces Xtream username/password path segments and query
// parameters with "***".
func MaskCredentials(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***OBFUSCATED***"
	}

	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) >= 3 && credentialPathKinds[parts[0]] {
		parts[1] = "***"
		parts[2] = "***"
		u.Path = "/" + strings.Join(parts, "/")
		u.RawPath = u.Path
	}

	if u.RawQuery != "" {
		q := u.Query()
		for _, key := range []string{"username", "password", "token"} {
			if q.Has(key) {
				q.Set(key, "***")
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// ObfuscateURL keeps scheme and host only.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// Authority returns host:port of a URL, or "" when it cannot be parsed.
func Authority(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
